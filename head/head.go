package head

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
	"github.com/warriorguo/loadflow/utils"
)

const defaultChannelPrefix = "loadflow"

// Head registers the factories and runs the campaigns.
type Head struct {
	opts       *types.EngineOptions
	transport  transport.Transport
	registry   *FactoryRegistry
	repository *Repository
	campaigns  *CampaignManager
	// wp processes the feedbacks and the lost factories one at a time.
	wp *workerpool.WorkerPool

	mu            sync.Mutex
	subscriptions []transport.Subscription
	closed        bool
}

func New(opts *types.EngineOptions, s store.Store, t transport.Transport, assigner FactoryAssigner) *Head {
	registry := NewFactoryRegistry(opts.HeartbeatTimeout)
	repository := NewRepository(s)
	return &Head{
		opts:       opts,
		transport:  t,
		registry:   registry,
		repository: repository,
		campaigns:  NewCampaignManager(opts, repository, registry, t, assigner),
		wp:         workerpool.New(1),
	}
}

func (h *Head) Campaigns() *CampaignManager {
	return h.campaigns
}

func (h *Head) Registry() *FactoryRegistry {
	return h.registry
}

func (h *Head) Repository() *Repository {
	return h.repository
}

// Start serves the handshakes and listens to the feedbacks and heartbeats
// of the factories.
func (h *Head) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.NotValidf("closed head")
	}
	if len(h.subscriptions) > 0 {
		return errors.AlreadyExistsf("head subscriptions")
	}

	h.registry.OnLost(func(nodeID string) {
		h.submit(func() {
			h.campaigns.FactoryLost(h.opts.Ctx, nodeID)
		})
	})

	feedbacks, err := h.transport.SubscribeFeedback(func(ctx context.Context, feedback *types.Feedback) {
		h.submit(func() {
			h.campaigns.ProcessFeedback(ctx, feedback)
		})
	})
	if err != nil {
		return errors.Trace(err)
	}
	h.subscriptions = append(h.subscriptions, feedbacks)

	heartbeats, err := h.transport.SubscribeHeartbeats(func(ctx context.Context, heartbeat *types.Heartbeat) {
		h.registry.Heartbeat(heartbeat)
	})
	if err != nil {
		h.unsubscribe()
		return errors.Trace(err)
	}
	h.subscriptions = append(h.subscriptions, heartbeats)

	handshakes, err := h.transport.ServeHandshake(h.Handshake)
	if err != nil {
		h.unsubscribe()
		return errors.Trace(err)
	}
	h.subscriptions = append(h.subscriptions, handshakes)

	log.Info("head started")
	return nil
}

// Handshake registers the factory and the scenarios it executes.
func (h *Head) Handshake(ctx context.Context, request *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	if len(request.Scenarios) == 0 {
		return nil, errors.BadRequestf("factory %s without scenario", request.NodeID)
	}
	nodeID := request.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	if err := h.repository.SaveScenarios(ctx, request.Scenarios); err != nil {
		return nil, errors.Trace(err)
	}
	info := &FactoryInfo{NodeID: nodeID, Tags: utils.CloneMap(request.Tags)}
	for _, scenario := range request.Scenarios {
		info.Scenarios = append(info.Scenarios, scenario.Name)
	}
	h.registry.Register(info)
	if err := h.repository.SaveFactory(ctx, info); err != nil {
		return nil, errors.Trace(err)
	}
	log.WithField("node", nodeID).Infof("factory registered with scenarios %v", info.Scenarios)

	prefix := defaultChannelPrefix
	if h.opts.NatsConfig != nil && h.opts.NatsConfig.Prefix != "" {
		prefix = h.opts.NatsConfig.Prefix
	}
	return &types.HandshakeResponse{
		NodeID:           nodeID,
		DirectiveChannel: prefix + ".directives",
		FeedbackChannel:  prefix + ".feedback",
		HeartbeatChannel: prefix + ".heartbeat",
		HeartbeatPeriod:  h.opts.HeartbeatPeriod,
	}, nil
}

func (h *Head) submit(task func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.wp.Submit(task)
	}
}

func (h *Head) unsubscribe() error {
	var merr *multierror.Error
	for _, subscription := range h.subscriptions {
		merr = multierror.Append(merr, subscription.Unsubscribe())
	}
	h.subscriptions = nil
	return merr.ErrorOrNil()
}

// Close stops listening to the factories, once the feedbacks received are
// processed.
func (h *Head) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	err := h.unsubscribe()
	h.mu.Unlock()

	h.wp.StopWait()
	return errors.Trace(err)
}
