package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a single-row read finds nothing.
	ErrNotFound = errors.New("backend: not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("backend: conflict")
)

// APIError is any other non-success response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
}

// Message returns the text to show a user for err: the backend's own message
// for API errors, else err's text.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
