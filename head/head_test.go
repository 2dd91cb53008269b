package head

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/loadflow/store/mem"
	transportmem "github.com/warriorguo/loadflow/transport/mem"
	"github.com/warriorguo/loadflow/types"
)

func TestHead_Handshake(t *testing.T) {
	bus := transportmem.NewBus()
	defer bus.Close()

	opts := types.NewEngineOptions()
	h := New(opts, mem.NewMemStore(), bus, nil)
	require.NoError(t, h.Start())
	defer h.Close()
	assert.True(t, errors.IsAlreadyExists(h.Start()))

	ctx := context.Background()
	_, err := bus.Handshake(ctx, &types.HandshakeRequest{NodeID: "node-1"})
	assert.True(t, errors.IsBadRequest(err))

	response, err := bus.Handshake(ctx, &types.HandshakeRequest{
		NodeID:    "node-1",
		Tags:      map[string]string{"zone": "a"},
		Scenarios: []types.ScenarioSummary{summary("s1", 3, "d1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "node-1", response.NodeID)
	assert.Equal(t, "loadflow.directives", response.DirectiveChannel)
	assert.Equal(t, opts.HeartbeatPeriod, response.HeartbeatPeriod)

	scenario, err := h.Repository().Scenario(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, scenario.MinionsCount)
	factory, err := h.Repository().Factory(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, factory.Scenarios)
	assert.Equal(t, "a", factory.Tags["zone"])
	assert.Equal(t, []string{"node-1"}, h.Registry().FactoriesFor("s1"))

	response, err = bus.Handshake(ctx, &types.HandshakeRequest{Scenarios: []types.ScenarioSummary{summary("s1", 3, "d1")}})
	require.NoError(t, err)
	assert.NotEmpty(t, response.NodeID)
	assert.Len(t, h.Registry().FactoriesFor("s1"), 2)
}

func TestHead_OfflineFactoryAbortsCampaign(t *testing.T) {
	bus := transportmem.NewBus()
	defer bus.Close()

	h := New(types.NewEngineOptions(), mem.NewMemStore(), bus, nil)
	require.NoError(t, h.Start())
	defer h.Close()

	ctx := context.Background()
	_, err := bus.Handshake(ctx, &types.HandshakeRequest{
		NodeID:    "node-1",
		Scenarios: []types.ScenarioSummary{summary("s1", 3, "d1")},
	})
	require.NoError(t, err)

	failures := &failures{}
	_, err = h.Campaigns().Start(ctx, &types.Campaign{Key: "c-1", Scenarios: []string{"s1"}}, failures.handle)
	require.NoError(t, err)

	require.NoError(t, bus.PublishHeartbeat(ctx, &types.Heartbeat{NodeID: "node-1", State: types.HeartbeatOffline}))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	campaign, err := h.Campaigns().Wait(waitCtx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, types.Aborted, campaign.Status)
	assert.Eventually(t, func() bool {
		return len(failures.get()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
