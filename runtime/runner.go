package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/types"
)

// Runner executes the DAGs on behalf of minions. Step executions run in jobs
// of the minion, so that the minion completes only once all the records went
// through the DAG. A branch is executed sequentially, branches concurrently.
type Runner struct {
	meters meters.Registry
	events events.Logger
}

func NewRunner(registry meters.Registry, logger events.Logger) *Runner {
	if registry == nil {
		registry = meters.Noop()
	}
	if logger == nil {
		logger = events.Noop()
	}
	return &Runner{meters: registry, events: logger}
}

// Run launches the root step of the DAG in a new job of the minion.
func (r *Runner) Run(ctx context.Context, minion *Minion, dag *DirectedAcyclicGraph) error {
	root := dag.Root()
	if root == nil {
		return errors.NotFoundf("root step of dag %s", dag.Name)
	}

	sc := NewStepContext(minion, dag.Name, root.Name())
	if _, launched := r.Launch(ctx, minion, root, sc, nil); !launched {
		return errors.Errorf("minion %s is cancelled", minion.ID)
	}
	return nil
}

// Launch executes the step then its successors in a new job of the minion.
func (r *Runner) Launch(ctx context.Context, minion *Minion, step Step, sc *StepContext, latch *CountLatch) (*Job, bool) {
	return minion.Launch(ctx, latch, func(jobCtx context.Context) error {
		r.process(ctx, jobCtx, minion, step, sc, latch)
		return nil
	})
}

func (r *Runner) process(ctx, jobCtx context.Context, minion *Minion, step Step, sc *StepContext, latch *CountLatch) {
	r.Execute(jobCtx, minion, step, sc)
	r.forward(ctx, jobCtx, minion, step, sc, latch)
}

// Execute runs the step on the context, through the retry policy of the step
// when there is one. Failures are recorded on the context.
func (r *Runner) Execute(ctx context.Context, minion *Minion, step Step, sc *StepContext) {
	if sc.IsExhausted() && !isErrorProcessor(step) {
		return
	}

	tags := types.Data{
		meters.CampaignTag: sc.CampaignKey,
		meters.ScenarioTag: sc.ScenarioName,
		meters.DagTag:      sc.DagName,
		meters.StepTag:     step.Name(),
	}

	start := time.Now()
	var err error
	if policy := step.RetryPolicy(); policy != nil {
		err = policy.Execute(ctx, sc, func(ctx context.Context, attempt *StepContext) error {
			return safeExecute(ctx, minion, step, attempt)
		})
	} else {
		err = safeExecute(ctx, minion, step, sc)
	}
	r.meters.Timer("step-execution", tags).Record(time.Since(start))

	if err == nil {
		r.meters.Counter("step-execution-success", tags).Inc()
		return
	}

	sc.AddError(err)
	sc.SetExhausted(true)
	if types.IsAssertion(err) {
		r.meters.Counter("step-assertion-failure", tags).Inc()
		r.events.Warn("step.assertion.failure", err.Error(), tags.With("minion", sc.MinionID))
	} else {
		r.meters.Counter("step-execution-failure", tags).Inc()
		r.events.Warn("step.execution.failure", err.Error(), tags.With("minion", sc.MinionID))
	}
}

func safeExecute(ctx context.Context, minion *Minion, step Step, sc *StepContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("step %s panicked: %v", step.Name(), r)
			log.Errorf("%v", err)
		}
	}()
	return step.Execute(ctx, minion, sc)
}

// forward executes every successor on the output records in sequence. The
// last successor runs in the current job, the others in jobs of their own.
func (r *Runner) forward(ctx, jobCtx context.Context, minion *Minion, step Step, sc *StepContext, latch *CountLatch) {
	records := sc.drainOutput()
	exhausted := sc.IsExhausted()

	nextSteps := step.Next()
	if len(nextSteps) == 0 {
		if sc.sink != nil {
			var errs []*types.StepError
			if exhausted {
				errs = sc.Errors()
			}
			sc.sink.collect(records, errs, exhausted)
		}
		return
	}

	if exhausted {
		var processors []Step
		for _, next := range nextSteps {
			if isErrorProcessor(next) {
				processors = append(processors, next)
			}
		}
		if len(processors) == 0 && sc.sink != nil {
			sc.sink.collect(nil, sc.Errors(), true)
		}
		r.branch(ctx, jobCtx, minion, processors, latch, func(next Step) []*StepContext {
			return []*StepContext{sc.next(next.Name(), nil, false)}
		})
		return
	}

	if len(records) == 0 {
		return
	}
	r.branch(ctx, jobCtx, minion, nextSteps, latch, func(next Step) []*StepContext {
		contexts := make([]*StepContext, 0, len(records))
		for _, record := range records {
			contexts = append(contexts, sc.next(next.Name(), record, true))
		}
		return contexts
	})
}

func (r *Runner) branch(ctx, jobCtx context.Context, minion *Minion, nextSteps []Step, latch *CountLatch, contexts func(next Step) []*StepContext) {
	for i, next := range nextSteps {
		next := next
		if i == len(nextSteps)-1 {
			for _, nsc := range contexts(next) {
				r.process(ctx, jobCtx, minion, next, nsc, latch)
			}
			return
		}
		minion.Launch(ctx, latch, func(jobCtx context.Context) error {
			for _, nsc := range contexts(next) {
				r.process(ctx, jobCtx, minion, next, nsc, latch)
			}
			return nil
		})
	}
}
