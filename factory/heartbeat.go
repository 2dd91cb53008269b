package factory

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
)

// HeartbeatEmitter periodically tells the head the factory is alive.
type HeartbeatEmitter struct {
	nodeID    string
	period    time.Duration
	transport transport.Transport
	campaigns *FactoryCampaignManager

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeartbeatEmitter(nodeID string, period time.Duration, t transport.Transport, campaigns *FactoryCampaignManager) *HeartbeatEmitter {
	return &HeartbeatEmitter{nodeID: nodeID, period: period, transport: t, campaigns: campaigns}
}

func (h *HeartbeatEmitter) heartbeat(state types.HeartbeatState) *types.Heartbeat {
	heartbeat := &types.Heartbeat{NodeID: h.nodeID, State: state, Timestamp: time.Now()}
	if running := h.campaigns.Running(); len(running) > 0 {
		heartbeat.CampaignKey = running[0]
	}
	return heartbeat
}

func (h *HeartbeatEmitter) emit(ctx context.Context, state types.HeartbeatState) {
	if err := h.transport.PublishHeartbeat(ctx, h.heartbeat(state)); err != nil {
		log.Warnf("failed to send the heartbeat of %s: %v", h.nodeID, err)
	}
}

// Start emits a first heartbeat, then one every period until Stop.
func (h *HeartbeatEmitter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	h.emit(ctx, types.HeartbeatRegistered)

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(h.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.emit(ctx, types.HeartbeatIdle)
			case <-ctx.Done():
				return
			}
		}
	}(h.done)
}

// Stop stops the heartbeats and tells the head the factory leaves.
func (h *HeartbeatEmitter) Stop(ctx context.Context) {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.emit(ctx, types.HeartbeatOffline)
}
