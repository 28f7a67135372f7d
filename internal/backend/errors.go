package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is returned when the backend could not be reached or the
	// response could not be read.
	ErrTransport = errors.New("backend transport failure")

	// ErrUnauthorized is returned on HTTP 401. The session token must be renewed
	// with `invoicechain login`.
	ErrUnauthorized = errors.New("backend rejected the session token")

	// ErrMalformedResponse is returned when the envelope cannot be decoded.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is an application-level failure reported inside the response
// envelope (code not 0/200).
type APIError struct {
	// Op is the repository operation that failed (e.g., "Verify").
	Op string

	// Code is the envelope code, or the HTTP status when no envelope was returned.
	Code int

	// Msg is the human-readable message from the backend.
	Msg string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("backend: %s failed with code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("backend: %s failed with code %d: %s", e.Op, e.Code, e.Msg)
}

// IsSuccessCode reports whether an envelope code denotes success.
func IsSuccessCode(code int) bool {
	return code == 0 || code == 200
}
