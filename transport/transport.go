// Package transport carries directives, feedbacks, heartbeats and handshakes
// between the head and the factories.
package transport

import (
	"context"

	"github.com/warriorguo/loadflow/types"
)

// Handlers are called from the delivery goroutine of the transport and must
// not block.
type (
	DirectiveHandler func(ctx context.Context, directive *types.Directive)
	FeedbackHandler  func(ctx context.Context, feedback *types.Feedback)
	HeartbeatHandler func(ctx context.Context, heartbeat *types.Heartbeat)
	HandshakeHandler func(ctx context.Context, request *types.HandshakeRequest) (*types.HandshakeResponse, error)
)

type DirectiveProducer interface {
	// PublishDirective delivers a broadcast directive to all the factories,
	// a single-consumer directive to one of them.
	PublishDirective(ctx context.Context, directive *types.Directive) error
}

type FeedbackProducer interface {
	PublishFeedback(ctx context.Context, feedback *types.Feedback) error
}

type Subscription interface {
	Unsubscribe() error
}

type Transport interface {
	DirectiveProducer
	FeedbackProducer

	SubscribeDirectives(nodeID string, handler DirectiveHandler) (Subscription, error)
	SubscribeFeedback(handler FeedbackHandler) (Subscription, error)

	PublishHeartbeat(ctx context.Context, heartbeat *types.Heartbeat) error
	SubscribeHeartbeats(handler HeartbeatHandler) (Subscription, error)

	// ServeHandshake answers the handshakes of the factories, on the head.
	ServeHandshake(handler HandshakeHandler) (Subscription, error)
	Handshake(ctx context.Context, request *types.HandshakeRequest) (*types.HandshakeResponse, error)

	Close() error
}
