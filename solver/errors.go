package solver

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned when the solver refuses the task submission.
	ErrRejected = errors.New("solver: task rejected")

	// ErrTimeout is returned when no result arrived within the polling budget.
	ErrTimeout = errors.New("solver: no result within polling budget")

	// ErrFailed is returned for any terminal poll status other than "ready".
	ErrFailed = errors.New("solver: task failed")

	// ErrInvalidDescriptor is returned when the descriptor misses a mandatory field.
	ErrInvalidDescriptor = errors.New("solver: descriptor requires site key and page URL")
)

// APIError carries the solver's own error code and description. It wraps
// one of the sentinels above so callers can test with errors.Is.
type APIError struct {
	Kind        error
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%v: %s (%s)", e.Kind, e.Code, e.Description)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Code)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ErrCircuitOpen is returned when the breaker for the solver endpoint is open,
// rejecting the call without contacting the service.
type ErrCircuitOpen struct {
	Endpoint string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("solver: circuit open: %s", e.Endpoint)
}
