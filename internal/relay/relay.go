// Package relay mediates between an upstream incremental generator and a
// downstream incremental consumer. It forwards each fragment the moment it
// arrives, never out of arrival order, while accumulating the full text so
// the caller can persist the assembled result exactly once after the last
// fragment has gone out.
//
// Failure handling is asymmetric by design: an upstream failure aborts the
// relay and surfaces to the caller (who forwards a terminal error signal
// downstream instead of persisting partial text), while a downstream forward
// failure, typically a disconnected client, aborts consumption so the
// upstream call can be cancelled through its context.
package relay

import (
	"fmt"
	"strings"
)

// Sink receives one forwarded fragment. A non-nil error stops the relay;
// it usually means the downstream connection is gone.
type Sink func(fragment string) error

// Pump drains the upstream fragment channel into sink, in arrival order,
// accumulating everything it forwards. It returns the assembled text, the
// number of fragments forwarded, and the first error encountered.
//
// The upstream contract matches the ai package: fragments closes on
// exhaustion, and a mid-stream failure is delivered on errc before both
// channels close. Forwarding of a fragment may overlap the wait for the
// next one upstream, but sink is always invoked sequentially.
//
// On a nil return error the assembled text is complete and every fragment
// has been forwarded; only then may the caller persist it. On error the
// partial accumulation is returned for inspection but must not be stored as
// a complete reply.
func Pump(fragments <-chan string, errc <-chan error, sink Sink) (string, int, error) {
	var sb strings.Builder
	n := 0

	for fragment := range fragments {
		sb.WriteString(fragment)
		if err := sink(fragment); err != nil {
			return sb.String(), n, fmt.Errorf("forward fragment: %w", err)
		}
		n++
	}

	// fragments is closed; errc carries the verdict (closed-empty on success).
	if err := <-errc; err != nil {
		return sb.String(), n, fmt.Errorf("upstream generation: %w", err)
	}
	return sb.String(), n, nil
}
