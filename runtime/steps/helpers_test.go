package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

type collected struct {
	mu      sync.Mutex
	records []any
	errs    []*types.StepError
}

// sink records what reaches it, errors included.
func (c *collected) sink(name string) runtime.Step {
	return &recordingStep{BaseStep: runtime.NewBaseStep(name, nil), c: c}
}

func (c *collected) get() ([]any, []*types.StepError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.records...), append([]*types.StepError(nil), c.errs...)
}

type recordingStep struct {
	runtime.BaseStep
	c *collected
}

func (s *recordingStep) ProcessesErrors() bool {
	return true
}

func (s *recordingStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if input, ok := sc.Receive(); ok && !sc.IsExhausted() {
		s.c.records = append(s.c.records, input)
	}
	s.c.errs = append(s.c.errs, sc.Errors()...)
	return nil
}

func newMinion(id string) *runtime.Minion {
	return runtime.NewMinion(id, "c-1", "s-1", "d-1", false, nil)
}

func runDag(t *testing.T, root runtime.Step) {
	dag := &runtime.DirectedAcyclicGraph{Name: "d-1"}
	dag.SetRoot(root)

	m := newMinion("m-1")
	assert.NoError(t, runtime.NewRunner(nil, nil).Run(context.Background(), m, dag))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, m.Join(ctx))
}

func emit(name string, records ...any) runtime.Step {
	return MapWithContext(name, func(ctx context.Context, sc *runtime.StepContext, input any) (any, error) {
		for _, record := range records[:len(records)-1] {
			sc.Send(record)
		}
		return records[len(records)-1], nil
	})
}

type countingRegistry struct {
	mu       sync.Mutex
	counters map[string]float64
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{counters: make(map[string]float64)}
}

type countingCounter struct {
	r    *countingRegistry
	name string
}

func (c countingCounter) Inc() { c.Add(1) }

func (c countingCounter) Add(value float64) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.counters[c.name] += value
}

func (r *countingRegistry) count(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func (r *countingRegistry) Gauge(name string, tags types.Data) meters.Gauge {
	return meters.Noop().Gauge(name, tags)
}

func (r *countingRegistry) Counter(name string, tags types.Data) meters.Counter {
	return countingCounter{r: r, name: name}
}

func (r *countingRegistry) Timer(name string, tags types.Data) meters.Timer {
	return meters.Noop().Timer(name, tags)
}

func (r *countingRegistry) ReleaseScope(campaignKey, scenarioName string) {}
