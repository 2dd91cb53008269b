package steps

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

var (
	_ runtime.Decorator = &decorator{}
	_ runtime.Lifecycle = &decorator{}
	_ runtime.Step      = &RetryStep{}
	_ runtime.Step      = &TimeoutStep{}
	_ runtime.Step      = &IterativeStep{}
	_ runtime.Step      = &ReportingStep{}
)

// decorator takes the place of the decorated step in the graph: it has its
// name, its retry policy and its own successors.
type decorator struct {
	runtime.BaseStep
	decorated runtime.Step
}

func newDecorator(decorated runtime.Step) decorator {
	return decorator{
		BaseStep:  runtime.NewBaseStep(decorated.Name(), decorated.RetryPolicy()),
		decorated: decorated,
	}
}

func (d *decorator) Decorated() runtime.Step {
	return d.decorated
}

func (d *decorator) ProcessesErrors() bool {
	ep, ok := d.decorated.(runtime.ErrorProcessor)
	return ok && ep.ProcessesErrors()
}

func (d *decorator) Start(ctx context.Context, sc runtime.StepStartStopContext) error {
	if lc, ok := d.decorated.(runtime.Lifecycle); ok {
		return lc.Start(ctx, sc)
	}
	return nil
}

func (d *decorator) Stop(ctx context.Context, sc runtime.StepStartStopContext) {
	if lc, ok := d.decorated.(runtime.Lifecycle); ok {
		lc.Stop(ctx, sc)
	}
}

func (d *decorator) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	return d.decorated.Execute(ctx, minion, sc)
}

func stepTags(sc *runtime.StepContext) types.Data {
	return types.Data{
		meters.CampaignTag: sc.CampaignKey,
		meters.ScenarioTag: sc.ScenarioName,
		meters.DagTag:      sc.DagName,
		meters.StepTag:     sc.StepName,
	}
}

// RetryStep executes the decorated step through the retry policy.
type RetryStep struct {
	decorator
	policy runtime.RetryPolicy
}

func Retry(decorated runtime.Step, policy runtime.RetryPolicy) *RetryStep {
	return &RetryStep{decorator: newDecorator(decorated), policy: policy}
}

func (s *RetryStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	return s.policy.Execute(ctx, sc, func(ctx context.Context, attempt *runtime.StepContext) error {
		return s.decorated.Execute(ctx, minion, attempt)
	})
}

// TimeoutStep interrupts the decorated step when it does not complete in
// time. The context is then exhausted and a timeout error is returned.
type TimeoutStep struct {
	decorator
	timeout time.Duration
	meters  meters.Registry
}

func Timeout(decorated runtime.Step, timeout time.Duration, registry meters.Registry) *TimeoutStep {
	if registry == nil {
		registry = meters.Noop()
	}
	return &TimeoutStep{decorator: newDecorator(decorated), timeout: timeout, meters: registry}
}

func (s *TimeoutStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	attempt := sc.Duplicate()
	done := make(chan error, 1)
	go func() {
		done <- s.execute(timeoutCtx, minion, attempt)
	}()

	select {
	case err := <-done:
		sc.Reconcile(attempt)
		return err
	case <-timeoutCtx.Done():
	}

	select {
	case err := <-done:
		sc.Reconcile(attempt)
		return err
	default:
	}
	if ctx.Err() != nil {
		return errors.Trace(ctx.Err())
	}
	s.meters.Counter("step-timeout", stepTags(sc)).Inc()
	sc.SetExhausted(true)
	return types.NewTimeoutError(s.Name(), s.timeout)
}

func (s *TimeoutStep) execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("step %s panicked: %v", s.Name(), r)
		}
	}()
	return s.decorated.Execute(ctx, minion, sc)
}

// IterativeStep executes the decorated step several times for the same
// input, in sequence. Iterations stop at the first failure.
type IterativeStep struct {
	decorator
	iterations int64
	delay      time.Duration
	// until stops the iterations once elapsed, when set.
	until time.Duration
}

func Iterative(decorated runtime.Step, iterations int64, delay time.Duration) *IterativeStep {
	return &IterativeStep{decorator: newDecorator(decorated), iterations: iterations, delay: delay}
}

// IterativeFor iterates until the duration elapsed.
func IterativeFor(decorated runtime.Step, duration, delay time.Duration) *IterativeStep {
	return &IterativeStep{decorator: newDecorator(decorated), delay: delay, until: duration}
}

func (s *IterativeStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	start := time.Now()
	for index := int64(0); s.proceed(index, start); index++ {
		if index > 0 {
			if err := sleep(ctx, s.delay); err != nil {
				return errors.Trace(err)
			}
		}

		iteration := sc.Duplicate()
		iteration.StepIterationIndex = index
		err := s.decorated.Execute(ctx, minion, iteration)
		sc.Reconcile(iteration)
		if err != nil {
			return err
		}
		if sc.IsExhausted() {
			return nil
		}
	}
	// Every iteration received the input.
	sc.Receive()
	return nil
}

func (s *IterativeStep) proceed(index int64, start time.Time) bool {
	if s.until > 0 {
		return time.Since(start) < s.until
	}
	return index < s.iterations
}

// ReportingStep counts the successes and failures of the decorated step and
// emits them once the step is stopped.
type ReportingStep struct {
	decorator
	events events.Logger

	successes int64
	failures  int64
}

// StepReport is emitted by the reporting steps on stop.
type StepReport struct {
	Successes int64 `json:",omitempty"`
	Failures  int64 `json:",omitempty"`
}

func Reporting(decorated runtime.Step, logger events.Logger) *ReportingStep {
	if logger == nil {
		logger = events.Noop()
	}
	return &ReportingStep{decorator: newDecorator(decorated), events: logger}
}

func (s *ReportingStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	err := s.decorated.Execute(ctx, minion, sc)
	if err != nil || sc.IsExhausted() {
		atomic.AddInt64(&s.failures, 1)
	} else {
		atomic.AddInt64(&s.successes, 1)
	}
	return err
}

func (s *ReportingStep) Report() StepReport {
	return StepReport{
		Successes: atomic.LoadInt64(&s.successes),
		Failures:  atomic.LoadInt64(&s.failures),
	}
}

func (s *ReportingStep) Start(ctx context.Context, sc runtime.StepStartStopContext) error {
	atomic.StoreInt64(&s.successes, 0)
	atomic.StoreInt64(&s.failures, 0)
	return s.decorator.Start(ctx, sc)
}

func (s *ReportingStep) Stop(ctx context.Context, sc runtime.StepStartStopContext) {
	s.decorator.Stop(ctx, sc)
	s.events.Info("step.report", s.Report(), types.Data{
		meters.CampaignTag: sc.CampaignKey,
		meters.ScenarioTag: sc.ScenarioName,
		meters.DagTag:      sc.DagName,
		meters.StepTag:     sc.StepName,
	})
}
