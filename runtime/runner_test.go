package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/loadflow/types"
)

type funcStep struct {
	BaseStep
	errorProcessor bool
	fn             func(ctx context.Context, sc *StepContext) error
}

func newFuncStep(name string, fn func(ctx context.Context, sc *StepContext) error) *funcStep {
	return &funcStep{BaseStep: NewBaseStep(name, nil), fn: fn}
}

func (s *funcStep) Execute(ctx context.Context, minion *Minion, sc *StepContext) error {
	return s.fn(ctx, sc)
}

func (s *funcStep) ProcessesErrors() bool {
	return s.errorProcessor
}

type recorder struct {
	mu      sync.Mutex
	records []any
	errs    []*types.StepError
}

func (r *recorder) step(name string) *funcStep {
	return newFuncStep(name, func(ctx context.Context, sc *StepContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if v, ok := sc.Receive(); ok {
			r.records = append(r.records, v)
		}
		r.errs = append(r.errs, sc.Errors()...)
		return nil
	})
}

func (r *recorder) get() ([]any, []*types.StepError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.records...), append([]*types.StepError(nil), r.errs...)
}

func runAndJoin(t *testing.T, dag *DirectedAcyclicGraph) *Minion {
	m := NewMinion("m-1", "c-1", "s-1", dag.Name, false, nil)
	runner := NewRunner(nil, nil)
	assert.NoError(t, runner.Run(context.Background(), m, dag))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Join(ctx))
	return m
}

func TestRunnerForwardsEveryRecord(t *testing.T) {
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		_, received := sc.Receive()
		assert.False(t, received)
		for i := 1; i <= 3; i++ {
			sc.Send(i)
		}
		return nil
	})
	double := newFuncStep("double", func(ctx context.Context, sc *StepContext) error {
		v, _ := sc.Receive()
		assert.Equal(t, "root", sc.PreviousStepName)
		sc.Send(v.(int) * 2)
		return nil
	})
	rec := &recorder{}
	root.AddNext(double)
	double.AddNext(rec.step("tail"))

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	records, errs := rec.get()
	assert.Equal(t, []any{2, 4, 6}, records)
	assert.Empty(t, errs)
}

func TestRunnerFanOut(t *testing.T) {
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		sc.Send("a")
		return nil
	})
	left, right := &recorder{}, &recorder{}
	root.AddNext(left.step("left"))
	root.AddNext(right.step("right"))

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	leftRecords, _ := left.get()
	rightRecords, _ := right.get()
	assert.Equal(t, []any{"a"}, leftRecords)
	assert.Equal(t, []any{"a"}, rightRecords)
}

func TestRunnerExhaustedContextReachesOnlyErrorProcessors(t *testing.T) {
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		sc.Send("ignored")
		return errors.New("failure")
	})
	plain, catcher := &recorder{}, &recorder{}
	catchStep := catcher.step("catch")
	catchStep.errorProcessor = true
	root.AddNext(plain.step("plain"))
	root.AddNext(catchStep)

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	records, errs := plain.get()
	assert.Empty(t, records)
	assert.Empty(t, errs)

	records, errs = catcher.get()
	assert.Empty(t, records)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "root", errs[0].StepName)
		assert.Equal(t, "failure", errs[0].Error())
	}
}

func TestRunnerRecoversPanickingStep(t *testing.T) {
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		panic("boom")
	})
	catcher := &recorder{}
	catchStep := catcher.step("catch")
	catchStep.errorProcessor = true
	root.AddNext(catchStep)

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	_, errs := catcher.get()
	assert.Len(t, errs, 1)
}

func TestRunnerRetriesWithPolicy(t *testing.T) {
	attempts := 0
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		attempts++
		if attempts < 3 {
			sc.Send("discarded")
			return errors.New("not yet")
		}
		sc.Send("kept")
		return nil
	})
	root.SetRetryPolicy(NewBackoffRetryPolicy(3, time.Millisecond, 5*time.Millisecond))
	rec := &recorder{}
	root.AddNext(rec.step("tail"))

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	records, errs := rec.get()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []any{"kept"}, records)
	assert.Empty(t, errs)
}

func TestRunnerRetryGivesUp(t *testing.T) {
	attempts := 0
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error {
		attempts++
		return errors.New("never")
	})
	root.SetRetryPolicy(NewBackoffRetryPolicy(2, time.Millisecond, 0))
	catcher := &recorder{}
	catchStep := catcher.step("catch")
	catchStep.errorProcessor = true
	root.AddNext(catchStep)

	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)
	runAndJoin(t, dag)

	_, errs := catcher.get()
	assert.Equal(t, 3, attempts)
	assert.Len(t, errs, 1)
}

func TestRunnerRefusesCancelledMinion(t *testing.T) {
	root := newFuncStep("root", func(ctx context.Context, sc *StepContext) error { return nil })
	dag := &DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)

	m := NewMinion("m-1", "c-1", "s-1", dag.Name, false, nil)
	m.Cancel()
	assert.Error(t, NewRunner(nil, nil).Run(context.Background(), m, dag))

	assert.True(t, errors.IsNotFound(NewRunner(nil, nil).Run(context.Background(), m, &DirectedAcyclicGraph{Name: "empty"})))
}

func TestSubGraphCollectsTails(t *testing.T) {
	head := newFuncStep("head", func(ctx context.Context, sc *StepContext) error {
		v, _ := sc.Receive()
		sc.Send(v)
		sc.Send(v)
		return nil
	})
	tail := newFuncStep("tail", func(ctx context.Context, sc *StepContext) error {
		v, _ := sc.Receive()
		sc.Send(v.(string) + "!")
		return nil
	})
	head.AddNext(tail)

	m := NewMinion("m-1", "c-1", "s-1", "d-1", false, nil)
	outer := NewStepContextWithInput(m, "d-1", "group", "hi")
	inner := outer.SubGraph("head")

	latch := NewCountLatch()
	runner := NewRunner(nil, nil)
	_, launched := runner.Launch(context.Background(), m, head, inner, latch)
	assert.True(t, launched)
	assert.NoError(t, awaitWithin(latch, time.Second))

	records, errs, exhausted := inner.Collected()
	assert.Equal(t, []any{"hi!", "hi!"}, records)
	assert.Empty(t, errs)
	assert.False(t, exhausted)
}
