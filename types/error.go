package types

import (
	"time"

	"github.com/juju/errors"
)

var (
	_ error = &TimeoutError{}
	_ error = &AssertionError{}
	_ error = &StepError{}
)

func NewTimeoutError(stepName string, timeout time.Duration) error {
	return &TimeoutError{
		baseError: newBaseErr(errors.Timeoutf("step %s after %v", stepName, timeout)),
		Timeout:   timeout,
	}
}

func NewAssertionError(otherErr error) error {
	return &AssertionError{baseError: newBaseErr(otherErr)}
}

func NewAssertionErrorf(format string, args ...interface{}) error {
	return NewAssertionError(errors.Errorf(format, args...))
}

// NewStepError attaches the name of the failing step to the error.
func NewStepError(stepName string, otherErr error) *StepError {
	return &StepError{baseError: &baseError{otherErr}, StepName: stepName}
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

// TimeoutError is raised when a step did not complete in its allowed time.
type TimeoutError struct {
	*baseError
	Timeout time.Duration
}

// AssertionError is raised by verifications, to distinguish them from
// execution failures in meters and events.
type AssertionError struct {
	*baseError
}

// StepError is an error recorded on a step context.
type StepError struct {
	*baseError
	StepName string
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
