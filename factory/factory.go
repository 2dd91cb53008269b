// Package factory executes the minions of the campaigns on a node, driven by
// the directives of the head.
package factory

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
)

const (
	handshakeAttempts = 10
	handshakeDelay    = 500 * time.Millisecond
)

// Factory is a node executing minions.
type Factory struct {
	opts      *types.EngineOptions
	store     store.Store
	transport transport.Transport
	scenarios *runtime.ScenarioRegistry
	meters    meters.Registry
	events    events.Logger

	mu          sync.Mutex
	nodeID      string
	keeper      *MinionsKeeper
	assignments *MinionAssignmentKeeper
	campaigns   *FactoryCampaignManager
	dispatcher  *Dispatcher
	heartbeat   *HeartbeatEmitter
}

func New(
	opts *types.EngineOptions,
	s store.Store,
	t transport.Transport,
	scenarios *runtime.ScenarioRegistry,
	registry meters.Registry,
	logger events.Logger) *Factory {
	if registry == nil {
		registry = meters.Noop()
	}
	if logger == nil {
		logger = events.Noop()
	}
	return &Factory{
		opts:      opts,
		store:     s,
		transport: t,
		scenarios: scenarios,
		meters:    registry,
		events:    logger,
		campaigns: NewFactoryCampaignManager(),
	}
}

// Start registers the factory to the head, then processes the directives
// and emits heartbeats.
func (f *Factory) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispatcher != nil {
		return errors.AlreadyExistsf("factory %s started", f.nodeID)
	}

	nodeID := f.opts.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	request := &types.HandshakeRequest{
		NodeID:    nodeID,
		Tags:      f.opts.Tags,
		Scenarios: f.scenarios.Summaries(),
	}

	var response *types.HandshakeResponse
	err := retry.Do(func() error {
		var err error
		response, err = f.transport.Handshake(ctx, request)
		return err
	},
		retry.Attempts(handshakeAttempts),
		retry.Delay(handshakeDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("handshake attempt %d of factory %s failed: %v", n+1, nodeID, err)
		}),
	)
	if err != nil {
		return errors.Annotatef(err, "handshake of factory %s", nodeID)
	}
	if response.NodeID != "" {
		nodeID = response.NodeID
	}
	period := response.HeartbeatPeriod
	if period <= 0 {
		period = f.opts.HeartbeatPeriod
	}

	f.nodeID = nodeID
	runner := runtime.NewRunner(f.meters, f.events)
	f.keeper = NewMinionsKeeper(f.opts.Ctx, nodeID, f.scenarios, runner, f.transport, f.meters, f.events)
	f.assignments = NewMinionAssignmentKeeper(f.store, nodeID)
	processors := NewProcessors(nodeID, f.scenarios, f.keeper, f.assignments, f.campaigns, f.transport)
	f.dispatcher = NewDispatcher(nodeID, f.transport, f.opts.DirectiveConcurrency, processors.All()...)
	if err := f.dispatcher.Start(); err != nil {
		f.dispatcher = nil
		return errors.Trace(err)
	}
	f.heartbeat = NewHeartbeatEmitter(nodeID, period, f.transport, f.campaigns)
	f.heartbeat.Start(f.opts.Ctx)

	log.WithField("node", nodeID).Infof("factory started with %d scenarios", len(request.Scenarios))
	return nil
}

func (f *Factory) NodeID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodeID
}

// Keeper returns the minions of the factory, nil before Start.
func (f *Factory) Keeper() *MinionsKeeper {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keeper
}

// Close stops receiving directives and shuts the running campaigns down.
func (f *Factory) Close(ctx context.Context) error {
	f.mu.Lock()
	nodeID, dispatcher, heartbeat, keeper := f.nodeID, f.dispatcher, f.heartbeat, f.keeper
	f.dispatcher, f.heartbeat = nil, nil
	f.mu.Unlock()

	if dispatcher == nil {
		return nil
	}
	dispatcher.Stop()
	heartbeat.Stop(ctx)

	var merr *multierror.Error
	for _, campaignKey := range f.campaigns.Running() {
		merr = multierror.Append(merr, keeper.ShutdownCampaign(ctx, campaignKey))
		f.campaigns.Forget(campaignKey)
	}
	log.WithField("node", nodeID).Info("factory closed")
	return merr.ErrorOrNil()
}
