package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for hub and connection conditions.
var (
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrNoChannel is returned when publishing to a channel with no members.
	ErrNoChannel = errors.New("server: no such channel")

	// ErrHubClosed is returned by Join after Shutdown.
	ErrHubClosed = errors.New("server: hub closed")

	// ErrInvalidConfig is wrapped by Config.Validate errors.
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrUnauthorized is returned for admin requests without a valid token.
	ErrUnauthorized = errors.New("server: unauthorized")
)

// ConnError wraps an error with connection context for debugging.
type ConnError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}
