package steps

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/runtime"
)

var (
	_ runtime.Step = &DelayStep{}
	_ runtime.Step = &PaceStep{}
)

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DelayStep forwards its input after a fixed delay.
type DelayStep struct {
	runtime.BaseStep
	delay time.Duration
}

func Delay(name string, delay time.Duration) *DelayStep {
	return &DelayStep{BaseStep: runtime.NewBaseStep(name, nil), delay: delay}
}

func (s *DelayStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	if err := sleep(ctx, s.delay); err != nil {
		return errors.Trace(err)
	}
	forwardInput(sc)
	return nil
}

// PaceSpecification computes the period until the next execution from the
// previous period, which is zero on the first call of a minion.
type PaceSpecification func(previous time.Duration) time.Duration

// PaceStep limits the rate of executions of every minion.
type PaceStep struct {
	runtime.BaseStep
	specification PaceSpecification

	mu     sync.Mutex
	states *lru.Cache
}

type paceState struct {
	mu     sync.Mutex
	next   int64
	period time.Duration
}

// Pace keeps the state of up to capacity minions, the least recently paced
// ones being forgotten.
func Pace(name string, capacity int, specification PaceSpecification) (*PaceStep, error) {
	states, err := lru.New(capacity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &PaceStep{
		BaseStep:      runtime.NewBaseStep(name, nil),
		specification: specification,
		states:        states,
	}, nil
}

func (s *PaceStep) state(key string) *paceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value, exists := s.states.Get(key); exists {
		return value.(*paceState)
	}
	state := &paceState{}
	s.states.Add(key, state)
	return state
}

func (s *PaceStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	state := s.state(sc.CampaignKey + "/" + sc.MinionID)

	state.mu.Lock()
	defer state.mu.Unlock()

	if err := sleep(ctx, time.Duration(state.next-time.Now().UnixNano())); err != nil {
		return errors.Trace(err)
	}
	state.period = s.specification(state.period)
	state.next = time.Now().Add(state.period).UnixNano()

	forwardInput(sc)
	return nil
}

// Stop forgets the pace of the minions.
func (s *PaceStep) Stop(ctx context.Context, sc runtime.StepStartStopContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states.Purge()
}

func (s *PaceStep) Start(ctx context.Context, sc runtime.StepStartStopContext) error {
	return nil
}
