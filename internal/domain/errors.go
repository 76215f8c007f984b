package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind buckets every failure the engine can surface. The kind decides
// retry policy and which user-facing message a degraded turn carries.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindSecurity   ErrorKind = "security_violation"
	ErrorKindTransient  ErrorKind = "transient_dependency"
	ErrorKindPermanent  ErrorKind = "permanent_dependency"
	ErrorKindCapability ErrorKind = "capability_unavailable"
	ErrorKindDeadline   ErrorKind = "deadline_exceeded"
	ErrorKindInternal   ErrorKind = "internal"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrValidation            = errors.New("validation failed")
	ErrSecurityViolation     = errors.New("security violation")
	ErrTransientDependency   = errors.New("transient dependency failure")
	ErrPermanentDependency   = errors.New("permanent dependency failure")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrDeadlineExceeded      = errors.New("deadline exceeded")
	ErrRateLimited           = errors.New("rate limited")
)

// EngineError wraps a failure with its kind and the action (if any) that
// produced it. It never reaches the transport layer raw; the graph executor
// converts it into commands and a degraded response.
type EngineError struct {
	Kind   ErrorKind
	Action string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is eligible for bounded retry.
func (e *EngineError) Retryable() bool { return e.Kind == ErrorKindTransient }

// NewEngineError tags err with a kind.
func NewEngineError(kind ErrorKind, action string, err error) *EngineError {
	return &EngineError{Kind: kind, Action: action, Err: err}
}

// Classify maps an arbitrary error to its kind. Context deadline errors win
// over everything else so a timed-out dependency reads as a budget problem,
// not a dependency problem.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeadlineExceeded):
		return ErrorKindDeadline
	case errors.Is(err, ErrSecurityViolation), errors.Is(err, ErrRateLimited):
		return ErrorKindSecurity
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrCapabilityUnavailable):
		return ErrorKindCapability
	case errors.Is(err, ErrTransientDependency):
		return ErrorKindTransient
	case errors.Is(err, ErrPermanentDependency):
		return ErrorKindPermanent
	default:
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return engineErr.Kind
		}
		return ErrorKindInternal
	}
}

// UserMessage renders a non-technical reply for an error kind. Security
// rejections are deliberately uninformative.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case ErrorKindValidation:
		return "I couldn't make sense of part of that request. Could you rephrase it?"
	case ErrorKindSecurity:
		return "I can't help with that. Is there something else I can find for you?"
	case ErrorKindTransient:
		return "I'm having trouble reaching our catalog right now. Please try again in a moment."
	case ErrorKindPermanent:
		return "I couldn't find that product. Could you double-check the name or SKU?"
	case ErrorKindCapability:
		return "That feature isn't available on this store yet."
	case ErrorKindDeadline:
		return "That took longer than expected, so here's what I have so far. Please try again for full results."
	default:
		return "Something went wrong on my end. Please try again."
	}
}
