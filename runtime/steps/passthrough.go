// Package steps provides the steps and decorators scenarios are built with.
package steps

import (
	"context"

	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

var (
	_ runtime.Step = &MapStep{}
	_ runtime.Step = &MapWithContextStep{}
	_ runtime.Step = &OnEachStep{}
	_ runtime.Step = &FilterStep{}
	_ runtime.Step = &ValidationStep{}
	_ runtime.Step = &VerificationStep{}
	_ runtime.Step = &BlackHoleStep{}
)

func forwardInput(sc *runtime.StepContext) {
	if input, ok := sc.Receive(); ok {
		sc.Send(input)
	}
}

// MapStep sends the result of the function applied to the input. A root map
// step has no input and receives nil.
type MapStep struct {
	runtime.BaseStep
	fn func(input any) (any, error)
}

func Map(name string, fn func(input any) (any, error)) *MapStep {
	return &MapStep{BaseStep: runtime.NewBaseStep(name, nil), fn: fn}
}

func (s *MapStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, _ := sc.Receive()
	output, err := s.fn(input)
	if err != nil {
		return err
	}
	sc.Send(output)
	return nil
}

// MapWithContextStep is a MapStep with access to the step context.
type MapWithContextStep struct {
	runtime.BaseStep
	fn func(ctx context.Context, sc *runtime.StepContext, input any) (any, error)
}

func MapWithContext(name string, fn func(ctx context.Context, sc *runtime.StepContext, input any) (any, error)) *MapWithContextStep {
	return &MapWithContextStep{BaseStep: runtime.NewBaseStep(name, nil), fn: fn}
}

func (s *MapWithContextStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, _ := sc.Receive()
	output, err := s.fn(ctx, sc, input)
	if err != nil {
		return err
	}
	sc.Send(output)
	return nil
}

// OnEachStep calls the function with the input and forwards it unchanged.
type OnEachStep struct {
	runtime.BaseStep
	fn func(input any)
}

func OnEach(name string, fn func(input any)) *OnEachStep {
	return &OnEachStep{BaseStep: runtime.NewBaseStep(name, nil), fn: fn}
}

func (s *OnEachStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, ok := sc.Receive()
	if !ok {
		return nil
	}
	s.fn(input)
	sc.Send(input)
	return nil
}

// FilterStep forwards the inputs matching the predicate.
type FilterStep struct {
	runtime.BaseStep
	predicate func(input any) bool
}

func Filter(name string, predicate func(input any) bool) *FilterStep {
	return &FilterStep{BaseStep: runtime.NewBaseStep(name, nil), predicate: predicate}
}

func (s *FilterStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, ok := sc.Receive()
	if ok && s.predicate(input) {
		sc.Send(input)
	}
	return nil
}

// ValidationStep records every error returned by the validation and exhausts
// the context when there is any. Valid inputs are forwarded.
type ValidationStep struct {
	runtime.BaseStep
	validate func(input any) []error
}

func Validation(name string, validate func(input any) []error) *ValidationStep {
	return &ValidationStep{BaseStep: runtime.NewBaseStep(name, nil), validate: validate}
}

func (s *ValidationStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, ok := sc.Receive()
	if !ok {
		return nil
	}
	errs := s.validate(input)
	if len(errs) == 0 {
		sc.Send(input)
		return nil
	}
	for _, err := range errs {
		sc.AddError(err)
	}
	sc.SetExhausted(true)
	return nil
}

// VerificationStep fails with an assertion error when the verification does
// not pass.
type VerificationStep struct {
	runtime.BaseStep
	verify func(input any) error
}

func Verification(name string, verify func(input any) error) *VerificationStep {
	return &VerificationStep{BaseStep: runtime.NewBaseStep(name, nil), verify: verify}
}

func (s *VerificationStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, ok := sc.Receive()
	if !ok {
		return nil
	}
	if err := s.verify(input); err != nil {
		return types.NewAssertionError(err)
	}
	sc.Send(input)
	return nil
}

// BlackHoleStep consumes its input and sends nothing.
type BlackHoleStep struct {
	runtime.BaseStep
}

func BlackHole(name string) *BlackHoleStep {
	return &BlackHoleStep{BaseStep: runtime.NewBaseStep(name, nil)}
}

func (s *BlackHoleStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	sc.Receive()
	return nil
}
