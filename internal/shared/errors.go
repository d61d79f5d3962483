// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TransportError marks a network or timeout failure calling an external
// gateway (LLM, STT, TTS). Callers may retry; nothing inside the core
// retries silently.
type TransportError struct {
	Gateway string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failure: %v", e.Gateway, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a gateway transport failure.
func NewTransportError(gateway string, err error) error {
	return &TransportError{Gateway: gateway, Err: err}
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsCancellation reports whether err stems from context cancellation rather
// than a real failure. Cancelled work is not surfaced to clients that are
// already gone.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsSQLiteConflictError checks for SQLITE_BUSY / "database is locked"
// concurrency errors, which warrant a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
