package missingmoney

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/browser"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/slots"
	"github.com/hazyhaar/missingmoney/solver"
)

// Sentinel errors of the search taxonomy. Component sentinels are
// re-exported so callers only import this package.
var (
	ErrQueueTimeout       = slots.ErrQueueTimeout
	ErrLaunchTimeout      = browser.ErrLaunchTimeout
	ErrNavigationTimeout  = driver.ErrNavigationTimeout
	ErrSolverRejected     = solver.ErrRejected
	ErrSolverTimeout      = solver.ErrTimeout
	ErrSolverFailed       = solver.ErrFailed
	ErrResourceExhaustion = errors.New("missingmoney: resource exhaustion")
	ErrSearchTimeout      = errors.New("missingmoney: search deadline exceeded")
	ErrChallengeBlocking  = errors.New("missingmoney: challenge blocking submission")
	ErrInvalidRequest     = errors.New("missingmoney: invalid request")
)

// Kind classifies a failed search.
type Kind string

const (
	KindQueueTimeout       Kind = "queue_timeout"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindLaunchTimeout      Kind = "launch_timeout"
	KindNavigationTimeout  Kind = "navigation_timeout"
	KindSearchTimeout      Kind = "search_timeout"
	KindChallengeBlocking  Kind = "challenge_blocking"
	KindCancelled          Kind = "cancelled"
	KindInvalidRequest     Kind = "invalid_request"
	KindSearchFailed       Kind = "search_failed"
)

// User-facing sentences.
const (
	msgBusy       = "Server is busy. Please try again in a few minutes."
	msgLaunch     = "The browser could not be started in time. Please try again."
	msgNavigation = "The search site took too long to respond. Please try again."
	msgTimeout    = "The search took too long and was stopped. Please try again."
	msgBlocked    = "Form submission failed - a verification challenge may be blocking the search."
	msgCancelled  = "The search was cancelled."
)

// SearchError is a classified search failure. Msg is safe to show to users.
type SearchError struct {
	Kind      Kind
	Msg       string
	Retryable bool
	Err       error
}

func (e *SearchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("missingmoney: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("missingmoney: %s: %v", e.Kind, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// exhaustionSignatures are substrings of OS and Chrome errors that mean the
// host ran out of something rather than the search failing on its own.
var exhaustionSignatures = []string{
	"cannot allocate memory",
	"out of memory",
	"enomem",
	"too many open files",
	"emfile",
	"resource temporarily unavailable",
	"eagain",
	"no space left on device",
	"enospc",
}

func isExhaustion(err error) bool {
	if errors.Is(err, ErrResourceExhaustion) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range exhaustionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Classify maps any error from the search pipeline to a SearchError. It is
// the only place errors are turned into user-facing outcomes.
func Classify(err error) *SearchError {
	if err == nil {
		return nil
	}
	var se *SearchError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, ErrQueueTimeout):
		return &SearchError{Kind: KindQueueTimeout, Msg: msgBusy, Retryable: true, Err: err}
	case isExhaustion(err):
		return &SearchError{Kind: KindResourceExhaustion, Msg: msgBusy, Retryable: true, Err: err}
	case errors.Is(err, ErrLaunchTimeout):
		return &SearchError{Kind: KindLaunchTimeout, Msg: msgLaunch, Retryable: true, Err: err}
	case errors.Is(err, ErrNavigationTimeout):
		return &SearchError{Kind: KindNavigationTimeout, Msg: msgNavigation, Retryable: true, Err: err}
	case errors.Is(err, ErrSearchTimeout), errors.Is(err, context.DeadlineExceeded):
		return &SearchError{Kind: KindSearchTimeout, Msg: msgTimeout, Retryable: true, Err: err}
	case errors.Is(err, ErrChallengeBlocking):
		return &SearchError{Kind: KindChallengeBlocking, Msg: msgBlocked, Err: err}
	case errors.Is(err, context.Canceled):
		return &SearchError{Kind: KindCancelled, Msg: msgCancelled, Err: err}
	case errors.Is(err, ErrInvalidRequest):
		return &SearchError{Kind: KindInvalidRequest, Msg: userMessage(err), Err: err}
	}
	return &SearchError{Kind: KindSearchFailed, Msg: userMessage(err), Err: err}
}

// userMessage strips package prefixes from err's text.
func userMessage(err error) string {
	msg := err.Error()
	for {
		head, rest, ok := strings.Cut(msg, ": ")
		if !ok || strings.ContainsAny(head, " ") {
			break
		}
		msg = rest
	}
	if msg == "" {
		return "The search failed."
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// retryable reports whether a fresh session might succeed where this one
// failed. Only infrastructure flakes qualify; an overall timeout does not.
func retryable(err error) bool {
	return errors.Is(err, ErrLaunchTimeout) || errors.Is(err, ErrNavigationTimeout)
}
