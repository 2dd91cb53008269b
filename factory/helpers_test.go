package factory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/runtime/steps"
	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/store/mem"
	"github.com/warriorguo/loadflow/types"
)

type feedbackRecorder struct {
	mu        sync.Mutex
	feedbacks []*types.Feedback
}

func (r *feedbackRecorder) PublishFeedback(ctx context.Context, feedback *types.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedbacks = append(r.feedbacks, feedback)
	return nil
}

func (r *feedbackRecorder) byKind(kind types.DirectiveKind) []*types.Feedback {
	r.mu.Lock()
	defer r.mu.Unlock()

	var feedbacks []*types.Feedback
	for _, feedback := range r.feedbacks {
		if feedback.Kind == kind {
			feedbacks = append(feedbacks, feedback)
		}
	}
	return feedbacks
}

type directiveRecorder struct {
	mu         sync.Mutex
	directives []*types.Directive
}

func (r *directiveRecorder) PublishDirective(ctx context.Context, directive *types.Directive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directives = append(r.directives, directive)
	return nil
}

func (r *directiveRecorder) last() *types.Directive {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.directives) == 0 {
		return nil
	}
	return r.directives[len(r.directives)-1]
}

// newScenario creates s1 with d1 executed under load, d2 by a singleton
// running until cancelled.
func newScenario(t *testing.T, minionsCount int, executions *int64) *runtime.Scenario {
	scenario := runtime.NewScenario("s1", minionsCount, nil)

	d1, err := scenario.CreateDAG("d1")
	require.NoError(t, err)
	d1.SetRoot(steps.Map("hello", func(input any) (any, error) {
		atomic.AddInt64(executions, 1)
		return "hello", nil
	}))

	d2, err := scenario.CreateDAG("d2", runtime.AsSingleton())
	require.NoError(t, err)
	d2.SetRoot(steps.MapWithContext("watch", func(ctx context.Context, sc *runtime.StepContext, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	return scenario
}

type testFactory struct {
	store       store.Store
	feedbacks   *feedbackRecorder
	directives  *directiveRecorder
	keeper      *MinionsKeeper
	campaigns   *FactoryCampaignManager
	assignments *MinionAssignmentKeeper
	processors  *Processors
}

func newTestFactory(t *testing.T, nodeID string, s store.Store, scenarios ...*runtime.Scenario) *testFactory {
	registry, err := runtime.NewScenarioRegistry(scenarios...)
	require.NoError(t, err)
	if s == nil {
		s = mem.NewMemStore()
	}

	f := &testFactory{
		store:      s,
		feedbacks:  &feedbackRecorder{},
		directives: &directiveRecorder{},
		campaigns:  NewFactoryCampaignManager(),
	}
	f.keeper = NewMinionsKeeper(context.Background(), nodeID, registry, runtime.NewRunner(nil, nil), f.feedbacks, nil, nil)
	f.assignments = NewMinionAssignmentKeeper(s, nodeID)
	f.processors = NewProcessors(nodeID, registry, f.keeper, f.assignments, f.campaigns, f.directives)
	t.Cleanup(func() {
		for _, campaignKey := range f.campaigns.Running() {
			f.keeper.ShutdownCampaign(context.Background(), campaignKey)
		}
	})
	return f
}

func directive(kind types.DirectiveKind) *types.Directive {
	return types.NewDirective(kind, "c-1", "s1")
}
