// Package upstream models calls to optional external services whose failure
// must degrade instead of propagating. Each call site declares a Policy so the
// degradation path is explicit and observable through Result.Source.
package upstream

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks any failure of an optional upstream: missing
// credential, transport error, timeout, bad status, or an empty answer.
var ErrUnavailable = errors.New("upstream unavailable")

// UnavailableError carries the service name and the underlying cause.
type UnavailableError struct {
	Service string
	Cause   error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Service, ErrUnavailable)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, ErrUnavailable, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(service string, cause error) error {
	return &UnavailableError{Service: service, Cause: cause}
}

// Source reports where a Result value came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
	SourceSkipped  Source = "skipped"
	SourceFailed   Source = "failed"
)

type PolicyKind string

const (
	PolicyFail     PolicyKind = "fail"
	PolicyFallback PolicyKind = "fallback"
	PolicySkip     PolicyKind = "skip"
)

// Policy decides what happens when the upstream is unavailable.
type Policy[T any] struct {
	Kind     PolicyKind
	fallback func() T
	fail     func(cause error) error
}

// FailWith turns unavailability into the error built by mapErr.
func FailWith[T any](mapErr func(cause error) error) Policy[T] {
	return Policy[T]{Kind: PolicyFail, fail: mapErr}
}

// FallbackTo substitutes the value produced by fn.
func FallbackTo[T any](fn func() T) Policy[T] {
	return Policy[T]{Kind: PolicyFallback, fallback: fn}
}

// Skip swallows the failure and yields the zero value.
func Skip[T any]() Policy[T] {
	return Policy[T]{Kind: PolicySkip}
}

// Result is the outcome of an upstream call after its policy ran.
type Result[T any] struct {
	Value  T
	Source Source
	// Cause is the upstream failure that triggered the policy, if any.
	Cause error
	// Err is non-nil only when the result must be surfaced to the caller.
	Err error
}

// Degraded reports whether the policy replaced a failed call.
func (r Result[T]) Degraded() bool {
	return r.Cause != nil
}

// Resolve applies policy to the outcome of an upstream call. Errors that are
// not ErrUnavailable are passed through unchanged and never degraded.
func Resolve[T any](value T, err error, policy Policy[T]) Result[T] {
	if err == nil {
		return Result[T]{Value: value, Source: SourceLive}
	}
	if !errors.Is(err, ErrUnavailable) {
		var zero T
		return Result[T]{Value: zero, Source: SourceFailed, Err: err}
	}

	var zero T
	switch policy.Kind {
	case PolicyFallback:
		if policy.fallback != nil {
			return Result[T]{Value: policy.fallback(), Source: SourceFallback, Cause: err}
		}
		return Result[T]{Value: zero, Source: SourceFallback, Cause: err}
	case PolicySkip:
		return Result[T]{Value: zero, Source: SourceSkipped, Cause: err}
	default:
		failErr := err
		if policy.fail != nil {
			failErr = policy.fail(err)
		}
		return Result[T]{Value: zero, Source: SourceFailed, Cause: err, Err: failErr}
	}
}
