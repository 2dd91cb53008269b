package steps

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

var (
	_ runtime.Step      = &GroupStep{}
	_ runtime.Lifecycle = &GroupStep{}
	_ runtime.Step      = &StageStep{}
)

// GroupStep executes a sub-graph for each input. The records reaching the
// tails of the sub-graph are forwarded to the successors of the group,
// unless the sub-graph failed: its errors are then recorded on the context.
//
// The sub-graph is given with SetHead, its edges are added on the steps
// themselves. AddNext adds successors to the group.
type GroupStep struct {
	runtime.BaseStep
	runner *runtime.Runner
	head   runtime.Step
}

func Group(name string, runner *runtime.Runner) *GroupStep {
	return &GroupStep{BaseStep: runtime.NewBaseStep(name, nil), runner: runner}
}

func (s *GroupStep) SetHead(head runtime.Step) *GroupStep {
	s.head = head
	return s
}

func (s *GroupStep) Head() runtime.Step {
	return s.head
}

func (s *GroupStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	if s.head == nil {
		return errors.NotValidf("group %s without head", s.Name())
	}

	inner := sc.SubGraph(s.head.Name())
	latch := runtime.NewCountLatch()
	if _, launched := s.runner.Launch(ctx, minion, s.head, inner, latch); !launched {
		return errors.Errorf("minion %s is cancelled", minion.ID)
	}
	if err := latch.Await(ctx); err != nil {
		return errors.Trace(err)
	}
	// The input was handed over to the sub-graph.
	sc.Receive()

	records, errs, exhausted := inner.Collected()
	if exhausted || sc.IsExhausted() {
		for _, err := range errs {
			sc.AddError(err)
		}
		sc.SetExhausted(true)
		return nil
	}
	for _, record := range records {
		sc.Send(record)
	}
	return nil
}

func (s *GroupStep) Start(ctx context.Context, sc runtime.StepStartStopContext) error {
	var retErr error
	runtime.WalkSteps(s.head, func(step runtime.Step) {
		if lc, ok := step.(runtime.Lifecycle); ok && retErr == nil {
			inner := sc
			inner.StepName = step.Name()
			retErr = lc.Start(ctx, inner)
		}
	})
	return errors.Trace(retErr)
}

func (s *GroupStep) Stop(ctx context.Context, sc runtime.StepStartStopContext) {
	runtime.WalkSteps(s.head, func(step runtime.Step) {
		if lc, ok := step.(runtime.Lifecycle); ok {
			inner := sc
			inner.StepName = step.Name()
			lc.Stop(ctx, inner)
		}
	})
}

// StageStep is a group whose executions are timed and reported.
type StageStep struct {
	*GroupStep
	meters meters.Registry
	events events.Logger
}

func Stage(name string, runner *runtime.Runner, registry meters.Registry, logger events.Logger) *StageStep {
	if registry == nil {
		registry = meters.Noop()
	}
	if logger == nil {
		logger = events.Noop()
	}
	return &StageStep{GroupStep: Group(name, runner), meters: registry, events: logger}
}

func (s *StageStep) SetHead(head runtime.Step) *StageStep {
	s.GroupStep.SetHead(head)
	return s
}

func (s *StageStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	tags := types.Data{
		meters.CampaignTag: sc.CampaignKey,
		meters.ScenarioTag: sc.ScenarioName,
		meters.DagTag:      sc.DagName,
		meters.StepTag:     s.Name(),
	}
	start := time.Now()
	err := s.GroupStep.Execute(ctx, minion, sc)
	s.meters.Timer("stage-execution", tags).Record(time.Since(start))

	if err == nil && !sc.IsExhausted() {
		s.events.Debug("stage.complete", time.Since(start).String(), tags.With("minion", sc.MinionID))
	} else {
		failure := err
		if failure == nil {
			failure = sc.ErrorsAsError()
		}
		s.events.Info("stage.failure", failure, tags.With("minion", sc.MinionID))
	}
	return err
}
