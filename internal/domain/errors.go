package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error for HTTP status mapping and retry
// policy decisions in the Task Runner.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrInputRejected
	ErrBudgetExceeded
	ErrNoProvider
	ErrUpstreamTimeout
	ErrUpstreamError
	ErrInvariantViolation
	ErrNotFound
	ErrForbidden
)

var (
	ErrSentinelInputRejected      = errors.New("input rejected")
	ErrSentinelBudgetExceeded     = errors.New("budget exceeded")
	ErrSentinelNoProvider         = errors.New("no provider available")
	ErrSentinelUpstreamTimeout    = errors.New("upstream timeout")
	ErrSentinelUpstreamError      = errors.New("upstream error")
	ErrSentinelInvariantViolation = errors.New("invariant violation")
	ErrSentinelNotFound           = errors.New("not found")
	ErrSentinelForbidden          = errors.New("forbidden")
)

var sentinelKinds = map[error]ErrorKind{
	ErrSentinelInputRejected:      ErrInputRejected,
	ErrSentinelBudgetExceeded:     ErrBudgetExceeded,
	ErrSentinelNoProvider:         ErrNoProvider,
	ErrSentinelUpstreamTimeout:    ErrUpstreamTimeout,
	ErrSentinelUpstreamError:      ErrUpstreamError,
	ErrSentinelInvariantViolation: ErrInvariantViolation,
	ErrSentinelNotFound:           ErrNotFound,
	ErrSentinelForbidden:          ErrForbidden,
}

// Kind walks err's wrap chain and returns the first recognized sentinel
// kind, or ErrUnknown.
func Kind(err error) ErrorKind {
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ErrUnknown
}

// Wrap attaches context to a sentinel error, following the teacher's
// fmt.Errorf("%w") convention.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}

// Retryable reports whether a Task Runner job failing with err should be
// retried with backoff rather than dead-lettered immediately.
func Retryable(err error) bool {
	switch Kind(err) {
	case ErrUpstreamTimeout, ErrUpstreamError:
		return true
	default:
		return false
	}
}
