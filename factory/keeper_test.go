package factory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/runtime/steps"
)

func TestMinionsKeeper_Create(t *testing.T) {
	var executions int64
	f := newTestFactory(t, "node-1", nil, newScenario(t, 2, &executions))
	ctx := context.Background()
	defer f.keeper.ShutdownCampaign(ctx, "c-1")

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d1"}, "m-1", false))
	assert.True(t, errors.IsAlreadyExists(f.keeper.Create(ctx, "c-1", "s1", []string{"d1"}, "m-1", false)))
	assert.True(t, errors.IsNotFound(f.keeper.Create(ctx, "c-1", "unknown", []string{"d1"}, "m-2", false)))
	assert.True(t, errors.IsNotFound(f.keeper.Create(ctx, "c-1", "s1", []string{"unknown"}, "m-2", false)))
	assert.True(t, errors.IsBadRequest(f.keeper.Create(ctx, "c-1", "s1", nil, "m-2", false)))

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d2"}, "m-lonely", true))
	assert.True(t, errors.IsAlreadyExists(f.keeper.Create(ctx, "c-1", "s1", []string{"d2"}, "m-lonely-2", true)))

	assert.Equal(t, 2, f.keeper.CountMinions())
	assert.Equal(t, []string{"m-1", "m-lonely"}, f.keeper.MinionIDs("c-1", "s1"))
	// Minions are paused until started.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&executions))
}

func TestMinionsKeeper_StartMinionAt(t *testing.T) {
	var executions int64
	f := newTestFactory(t, "node-1", nil, newScenario(t, 2, &executions))
	ctx := context.Background()
	defer f.keeper.ShutdownCampaign(ctx, "c-1")

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d1"}, "m-1", false))
	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d1"}, "m-2", false))

	start := time.Now()
	require.NoError(t, f.keeper.StartMinionAt(ctx, "m-1", start.Add(100*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, errors.IsNotFound(f.keeper.StartMinionAt(ctx, "unknown", start)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, f.keeper.StartMinionAt(cancelled, "m-2", time.Now().Add(time.Hour)))

	f.keeper.ScheduleMinionStart("m-2", time.Now().Add(-time.Second))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&executions) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Both minions under load completed: the scenario is over.
	assert.Eventually(t, func() bool {
		return len(f.feedbacks.byKind("EndOfCampaignScenario")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.keeper.CountMinions())
}

func TestMinionsKeeper_StartCampaignWithoutLoad(t *testing.T) {
	var executions int64
	f := newTestFactory(t, "node-1", nil, newScenario(t, 2, &executions))
	ctx := context.Background()

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d2"}, "m-lonely", true))
	f.keeper.StartCampaign(ctx, "c-1", "s1")

	assert.Eventually(t, func() bool {
		return len(f.feedbacks.byKind("EndOfCampaignScenario")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return !f.keeper.Has("m-lonely")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.keeper.ShutdownCampaign(ctx, "c-1"))
}

func TestMinionsKeeper_CreateWithoutRootDag(t *testing.T) {
	var executions int64
	scenario := newScenario(t, 2, &executions)
	d3, err := scenario.CreateDAG("d3", runtime.NotRoot())
	require.NoError(t, err)
	d3.SetRoot(steps.OnEach("forward", func(input any) {
		atomic.AddInt64(&executions, 1)
	}))
	f := newTestFactory(t, "node-2", nil, scenario)
	ctx := context.Background()

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d3"}, "m-1", false))
	assert.False(t, f.keeper.Has("m-1"))

	// The factory holds no load minion, the scenario ends at warm-up.
	f.keeper.StartCampaign(ctx, "c-1", "s1")
	assert.Eventually(t, func() bool {
		return len(f.feedbacks.byKind("EndOfCampaignScenario")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&executions))
	require.NoError(t, f.keeper.ShutdownCampaign(ctx, "c-1"))
}

func TestMinionsKeeper_ShutdownCampaign(t *testing.T) {
	var executions int64
	f := newTestFactory(t, "node-1", nil, newScenario(t, 2, &executions))
	ctx := context.Background()

	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d1"}, "m-1", false))
	require.NoError(t, f.keeper.Create(ctx, "c-1", "s1", []string{"d2"}, "m-lonely", true))
	require.NoError(t, f.keeper.Create(ctx, "c-2", "s1", []string{"d1"}, "m-2", false))
	f.keeper.StartCampaign(ctx, "c-1", "s1")

	require.NoError(t, f.keeper.ShutdownCampaign(ctx, "c-1"))
	assert.False(t, f.keeper.Has("m-1"))
	assert.False(t, f.keeper.Has("m-lonely"))
	assert.True(t, f.keeper.Has("m-2"))
	assert.Equal(t, 1, f.keeper.ShutdownMinions([]string{"m-2", "m-1"}))

	// The last minion under load of c-2 is gone, unlike c-1 whose
	// scenario was shut down.
	assert.Eventually(t, func() bool {
		return len(f.feedbacks.byKind("EndOfCampaignScenario")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	ends := f.feedbacks.byKind("EndOfCampaignScenario")
	require.Len(t, ends, 1)
	assert.Equal(t, "c-2", ends[0].CampaignKey)
	require.NoError(t, f.keeper.ShutdownCampaign(ctx, "c-2"))
}
