// Package mem is a transport for head and factories living in the same
// process. Deliveries are synchronous.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
)

var (
	_ transport.Transport = &Bus{}
)

// Bus dispatches to the subscribers in the goroutine of the publisher.
// Single-consumer directives go to the directive subscribers in turn.
type Bus struct {
	mu sync.Mutex

	index      uint64
	directives map[uint64]*directiveSubscriber
	feedbacks  map[uint64]transport.FeedbackHandler
	heartbeats map[uint64]transport.HeartbeatHandler
	handshake  transport.HandshakeHandler
	roundRobin int
	closed     bool
}

type directiveSubscriber struct {
	nodeID  string
	handler transport.DirectiveHandler
}

func NewBus() *Bus {
	return &Bus{
		directives: make(map[uint64]*directiveSubscriber),
		feedbacks:  make(map[uint64]transport.FeedbackHandler),
		heartbeats: make(map[uint64]transport.HeartbeatHandler),
	}
}

type subscription struct {
	unsubscribe func()
}

func (s *subscription) Unsubscribe() error {
	s.unsubscribe()
	return nil
}

func (b *Bus) nextIndex() uint64 {
	b.index++
	return b.index
}

func (b *Bus) SubscribeDirectives(nodeID string, handler transport.DirectiveHandler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("bus is closed")
	}
	index := b.nextIndex()
	b.directives[index] = &directiveSubscriber{nodeID: nodeID, handler: handler}
	return &subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.directives, index)
	}}, nil
}

func (b *Bus) SubscribeFeedback(handler transport.FeedbackHandler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("bus is closed")
	}
	index := b.nextIndex()
	b.feedbacks[index] = handler
	return &subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.feedbacks, index)
	}}, nil
}

func (b *Bus) SubscribeHeartbeats(handler transport.HeartbeatHandler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("bus is closed")
	}
	index := b.nextIndex()
	b.heartbeats[index] = handler
	return &subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.heartbeats, index)
	}}, nil
}

func (b *Bus) ServeHandshake(handler transport.HandshakeHandler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handshake != nil {
		return nil, errors.AlreadyExistsf("handshake handler")
	}
	b.handshake = handler
	return &subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handshake = nil
	}}, nil
}

// directiveTargets returns the subscribers ordered by subscription.
func (b *Bus) directiveTargets() []*directiveSubscriber {
	indexes := make([]uint64, 0, len(b.directives))
	for index := range b.directives {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	targets := make([]*directiveSubscriber, 0, len(indexes))
	for _, index := range indexes {
		targets = append(targets, b.directives[index])
	}
	return targets
}

func (b *Bus) PublishDirective(ctx context.Context, directive *types.Directive) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus is closed")
	}
	targets := b.directiveTargets()
	if directive.Delivery == types.SingleConsumer && len(targets) > 0 {
		target := targets[b.roundRobin%len(targets)]
		b.roundRobin++
		targets = []*directiveSubscriber{target}
	}
	b.mu.Unlock()

	for _, target := range targets {
		target.handler(ctx, directive)
	}
	return nil
}

func (b *Bus) PublishFeedback(ctx context.Context, feedback *types.Feedback) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus is closed")
	}
	handlers := make([]transport.FeedbackHandler, 0, len(b.feedbacks))
	for _, handler := range b.feedbacks {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, feedback)
	}
	return nil
}

func (b *Bus) PublishHeartbeat(ctx context.Context, heartbeat *types.Heartbeat) error {
	b.mu.Lock()
	handlers := make([]transport.HeartbeatHandler, 0, len(b.heartbeats))
	for _, handler := range b.heartbeats {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, heartbeat)
	}
	return nil
}

func (b *Bus) Handshake(ctx context.Context, request *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	b.mu.Lock()
	handler := b.handshake
	b.mu.Unlock()

	if handler == nil {
		return nil, errors.NotFoundf("handshake handler")
	}
	response, err := handler(ctx, request)
	return response, errors.Trace(err)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.directives = make(map[uint64]*directiveSubscriber)
	b.feedbacks = make(map[uint64]transport.FeedbackHandler)
	b.heartbeats = make(map[uint64]transport.HeartbeatHandler)
	b.handshake = nil
	return nil
}
