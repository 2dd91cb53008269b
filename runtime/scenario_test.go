package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

type lifecycleStep struct {
	funcStep
	started []StepStartStopContext
	stopped []StepStartStopContext
}

func (s *lifecycleStep) Start(ctx context.Context, sc StepStartStopContext) error {
	s.started = append(s.started, sc)
	return nil
}

func (s *lifecycleStep) Stop(ctx context.Context, sc StepStartStopContext) {
	s.stopped = append(s.stopped, sc)
}

func TestScenarioSummary(t *testing.T) {
	s := NewScenario("s1", 5, nil)
	d1, err := s.CreateDAG("d1")
	assert.NoError(t, err)
	d1.SetRoot(newFuncStep("a", nil))
	d1.Root().AddNext(newFuncStep("b", nil))

	d2, err := s.CreateDAG("d2", AsSingleton())
	assert.NoError(t, err)
	d2.SetRoot(newFuncStep("c", nil))

	_, err = s.CreateDAG("d1")
	assert.True(t, errors.IsAlreadyExists(err))

	summary := s.Summary()
	assert.Equal(t, "s1", summary.Name)
	assert.Equal(t, 5, summary.MinionsCount)
	assert.Equal(t, []string{"d1", "d2"}, summary.DAGNames())
	assert.Equal(t, 2, summary.DAGs[0].StepsCount)
	assert.True(t, summary.DAGs[0].IsUnderLoad)
	assert.True(t, summary.DAGs[1].IsSingleton)
	assert.False(t, summary.DAGs[1].IsUnderLoad)
}

func TestScenarioRegistry(t *testing.T) {
	s1 := NewScenario("s1", 1, nil)
	d, _ := s1.CreateDAG("d")
	d.SetRoot(newFuncStep("a", nil))
	s2 := NewScenario("s2", 1, nil)
	d, _ = s2.CreateDAG("d")
	d.SetRoot(newFuncStep("a", nil))

	registry, err := NewScenarioRegistry(s2, s1)
	assert.NoError(t, err)
	assert.Equal(t, []*Scenario{s1, s2}, registry.All())
	assert.Len(t, registry.Summaries(), 2)

	found, exists := registry.Get("s1")
	assert.True(t, exists)
	assert.Equal(t, s1, found)

	assert.True(t, errors.IsAlreadyExists(registry.Register(s1)))

	invalid := NewScenario("invalid", 1, nil)
	invalid.CreateDAG("empty")
	assert.True(t, errors.IsNotValid(registry.Register(invalid)))
}

func TestScenarioDefaultRetryPolicy(t *testing.T) {
	own := NewBackoffRetryPolicy(1, time.Millisecond, 0)
	defaultPolicy := NewBackoffRetryPolicy(5, time.Millisecond, 0)

	s := NewScenario("s1", 1, nil)
	s.RetryPolicy = defaultPolicy
	d, _ := s.CreateDAG("d")
	a := newFuncStep("a", nil)
	b := newFuncStep("b", nil)
	b.SetRetryPolicy(own)
	a.AddNext(b)
	d.SetRoot(a)

	_, err := NewScenarioRegistry(s)
	assert.NoError(t, err)
	assert.Equal(t, defaultPolicy, a.RetryPolicy())
	assert.Equal(t, own, b.RetryPolicy())
}

func TestScenarioStartStopOncePerCampaign(t *testing.T) {
	s := NewScenario("s1", 1, nil)
	d, _ := s.CreateDAG("d")
	step := &lifecycleStep{funcStep: *newFuncStep("a", nil)}
	d.SetRoot(step)

	ctx := context.Background()
	assert.NoError(t, s.Start(ctx, "c1"))
	assert.NoError(t, s.Start(ctx, "c1"))
	assert.True(t, s.IsStarted("c1"))
	assert.Len(t, step.started, 1)
	assert.Equal(t, StepStartStopContext{CampaignKey: "c1", ScenarioName: "s1", DagName: "d", StepName: "a"}, step.started[0])

	s.Stop(ctx, "c1")
	s.Stop(ctx, "c1")
	assert.False(t, s.IsStarted("c1"))
	assert.Len(t, step.stopped, 1)
}
