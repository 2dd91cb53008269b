package head

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warriorguo/loadflow/store/mem"
	"github.com/warriorguo/loadflow/types"
)

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

func (r *directiveRecorder) byKind(kind types.DirectiveKind) []*types.Directive {
	r.mu.Lock()
	defer r.mu.Unlock()

	var directives []*types.Directive
	for _, directive := range r.directives {
		if directive.Kind == kind {
			directives = append(directives, directive)
		}
	}
	return directives
}

func (r *directiveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.directives)
}

// forScenario returns the directive of the kind for the scenario.
func (r *directiveRecorder) forScenario(t *testing.T, kind types.DirectiveKind, scenario string) *types.Directive {
	var found *types.Directive
	for _, directive := range r.byKind(kind) {
		if directive.ScenarioName == scenario {
			require.Nil(t, found, "several %s for %s", kind, scenario)
			found = directive
		}
	}
	require.NotNil(t, found, "no %s for %s", kind, scenario)
	return found
}

type failures struct {
	mu       sync.Mutex
	messages []string
}

func (f *failures) handle(campaignKey, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *failures) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func summary(name string, minionsCount int, dags ...string) types.ScenarioSummary {
	s := types.ScenarioSummary{Name: name, MinionsCount: minionsCount}
	for _, dag := range dags {
		s.DAGs = append(s.DAGs, types.DAGSummary{Name: dag, IsRoot: true, IsUnderLoad: true, StepsCount: 1})
	}
	return s
}

type testHead struct {
	manager    *CampaignManager
	registry   *FactoryRegistry
	repository *Repository
	directives *directiveRecorder
	failures   *failures
}

// newTestHead registers the factories, each executing all the scenarios.
func newTestHead(t *testing.T, scenarios []types.ScenarioSummary, nodes ...string) *testHead {
	opts := types.NewEngineOptions()
	h := &testHead{
		registry:   NewFactoryRegistry(opts.HeartbeatTimeout),
		repository: NewRepository(mem.NewMemStore()),
		directives: &directiveRecorder{},
		failures:   &failures{},
	}
	h.manager = NewCampaignManager(opts, h.repository, h.registry, h.directives, nil)

	require.NoError(t, h.repository.SaveScenarios(context.Background(), scenarios))
	names := make([]string, 0, len(scenarios))
	for _, scenario := range scenarios {
		names = append(names, scenario.Name)
	}
	for _, nodeID := range nodes {
		h.registry.Register(&FactoryInfo{NodeID: nodeID, Scenarios: names})
	}
	return h
}

func (h *testHead) start(t *testing.T, scenarios ...string) *types.Campaign {
	campaign, err := h.manager.Start(context.Background(), &types.Campaign{Key: "c-1", Scenarios: scenarios}, h.failures.handle)
	require.NoError(t, err)
	return campaign
}

func (h *testHead) answer(directive *types.Directive, nodeID string, status types.FeedbackStatus, dagNames ...string) {
	feedback := types.FeedbackFor(directive, nodeID, status)
	feedback.DagNames = dagNames
	if status == types.FeedbackFailed {
		feedback.Error = "boom"
	}
	h.manager.ProcessFeedback(context.Background(), feedback)
}

func (h *testHead) status(t *testing.T) types.CampaignStatus {
	campaign, err := h.manager.Campaign(context.Background(), "c-1")
	require.NoError(t, err)
	return campaign.Status
}

// endScenario reports the end of the scenario from the nodes.
func (h *testHead) endScenario(scenario string, nodes ...string) {
	for _, nodeID := range nodes {
		h.manager.ProcessFeedback(context.Background(), &types.Feedback{
			Key:          types.NewKey(),
			Kind:         types.EndOfCampaignScenario,
			CampaignKey:  "c-1",
			ScenarioName: scenario,
			NodeID:       nodeID,
			Status:       types.FeedbackCompleted,
		})
	}
}
