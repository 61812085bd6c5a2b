// Package services implements the business logic coordinating the message
// store, the result caches, and the generation capability. This file
// centralizes service-level error values so they can be consistently
// returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when an inbound turn carries no message text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMissingSession is returned when a read or delete operation is called
	// without a session identifier.
	ErrMissingSession = errors.New("session id is required")

	// ErrMissingUser is returned when a session listing is requested without
	// an owner identifier.
	ErrMissingUser = errors.New("user id is required")

	// ErrGenerationFailed wraps failures of the generation capability. The
	// user's message stays persisted when this is returned; only the
	// assistant reply is missing.
	ErrGenerationFailed = errors.New("generation failed")
)

// joinGeneration tags err as a generation failure while preserving the
// underlying cause for errors.Is/As.
func joinGeneration(err error) error {
	return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}
