// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail()
// helper in response.go and give clients a stable, machine-readable error
// taxonomy alongside human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror common HTTP status semantics.
//   - Domain-specific codes name the operation that failed when the status
//     alone is not enough to branch on.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeChatFailed       = "chat_failed"
	ErrCodeGenerationFailed = "generation_failed"
	ErrCodeHistoryFailed    = "history_failed"
	ErrCodeSessionsFailed   = "sessions_failed"
	ErrCodeDeleteFailed     = "delete_failed"
)
