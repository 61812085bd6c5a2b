package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 50, 50},
		{"7", 50, 7},
		{"-3", 50, -3},
		{"abc", 20, 20},
		{"1.5", 20, 20},
		{" 9", 20, 20}, // Atoi rejects whitespace
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.in, tc.def, got, tc.want)
		}
	}
}
