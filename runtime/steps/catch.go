package steps

import (
	"context"

	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

var (
	_ runtime.ErrorProcessor = &CatchErrorsStep{}
	_ runtime.ErrorProcessor = &CatchErrorStep{}
	_ runtime.ErrorProcessor = &CatchExhaustedStep{}
)

// CatchErrorsStep hands the errors of the context to the block. Without
// errors it is a passthrough. The input is forwarded when the block did not
// consume it and the context is not exhausted.
type CatchErrorsStep struct {
	runtime.BaseStep
	block func(errs []*types.StepError)
}

func CatchErrors(name string, block func(errs []*types.StepError)) *CatchErrorsStep {
	return &CatchErrorsStep{BaseStep: runtime.NewBaseStep(name, nil), block: block}
}

func (s *CatchErrorsStep) ProcessesErrors() bool {
	return true
}

func (s *CatchErrorsStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	if errs := sc.Errors(); len(errs) > 0 {
		s.block(errs)
	}
	if !sc.IsExhausted() {
		forwardInput(sc)
	}
	return nil
}

// CatchErrorStep gives the whole context to the block when it has errors.
// Nothing is forwarded unless the block sends it.
type CatchErrorStep struct {
	runtime.BaseStep
	block func(ctx context.Context, sc *runtime.StepContext) error
}

func CatchError(name string, block func(ctx context.Context, sc *runtime.StepContext) error) *CatchErrorStep {
	return &CatchErrorStep{BaseStep: runtime.NewBaseStep(name, nil), block: block}
}

func (s *CatchErrorStep) ProcessesErrors() bool {
	return true
}

func (s *CatchErrorStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	if !sc.HasErrors() {
		forwardInput(sc)
		return nil
	}
	return s.block(ctx, sc)
}

// CatchExhaustedStep gives an exhausted context to the block, which may
// recover it by clearing the exhaustion and sending records.
type CatchExhaustedStep struct {
	runtime.BaseStep
	block func(ctx context.Context, sc *runtime.StepContext) error
}

func CatchExhausted(name string, block func(ctx context.Context, sc *runtime.StepContext) error) *CatchExhaustedStep {
	return &CatchExhaustedStep{BaseStep: runtime.NewBaseStep(name, nil), block: block}
}

func (s *CatchExhaustedStep) ProcessesErrors() bool {
	return true
}

func (s *CatchExhaustedStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	if !sc.IsExhausted() {
		forwardInput(sc)
		return nil
	}
	return s.block(ctx, sc)
}
