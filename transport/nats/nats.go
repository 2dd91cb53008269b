// Package nats carries the messages between head and factories over NATS.
//
// Broadcast directives are published on <prefix>.directives, which every
// factory subscribes to. Single-consumer directives are published on
// <prefix>.directives.unicast, consumed by a queue group of the factories.
// Feedbacks, heartbeats and handshakes have a subject each.
package nats

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
	"github.com/warriorguo/loadflow/utils"
)

const (
	DefaultPrefix         = "loadflow"
	DefaultRequestTimeout = 10 * time.Second
)

var (
	_ transport.Transport = &Transport{}
)

type Transport struct {
	conn           *nats.Conn
	prefix         string
	requestTimeout time.Duration
	ctx            context.Context
}

// Connect opens a connection to the NATS servers of the configuration.
func Connect(ctx context.Context, config *types.NatsConfig, name string) (*Transport, error) {
	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			log.Warnf("disconnected from nats: %v", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Infof("reconnected to nats %s", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Annotatef(err, "connect to nats %s", url)
	}
	return NewTransport(ctx, conn, config.Prefix, config.RequestTimeout), nil
}

// NewTransport uses an existing connection.
func NewTransport(ctx context.Context, conn *nats.Conn, prefix string, requestTimeout time.Duration) *Transport {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Transport{conn: conn, prefix: prefix, requestTimeout: requestTimeout, ctx: ctx}
}

func (t *Transport) subject(name string) string {
	return t.prefix + "." + name
}

func (t *Transport) DirectiveSubject(delivery types.Delivery) string {
	if delivery == types.SingleConsumer {
		return t.subject("directives.unicast")
	}
	return t.subject("directives")
}

func (t *Transport) FeedbackSubject() string {
	return t.subject("feedback")
}

func (t *Transport) HeartbeatSubject() string {
	return t.subject("heartbeat")
}

func (t *Transport) HandshakeSubject() string {
	return t.subject("handshake")
}

func (t *Transport) publish(subject string, o any) error {
	data, err := utils.Serialize(o)
	if err != nil {
		return errors.Annotatef(err, "encode message for %s", subject)
	}
	return errors.Annotatef(t.conn.Publish(subject, data), "publish on %s", subject)
}

func (t *Transport) PublishDirective(ctx context.Context, directive *types.Directive) error {
	return t.publish(t.DirectiveSubject(directive.Delivery), directive)
}

func (t *Transport) PublishFeedback(ctx context.Context, feedback *types.Feedback) error {
	return t.publish(t.FeedbackSubject(), feedback)
}

func (t *Transport) PublishHeartbeat(ctx context.Context, heartbeat *types.Heartbeat) error {
	return t.publish(t.HeartbeatSubject(), heartbeat)
}

type subscriptions []*nats.Subscription

func (s subscriptions) Unsubscribe() error {
	var retErr error
	for _, sub := range s {
		if err := sub.Unsubscribe(); err != nil && retErr == nil {
			retErr = errors.Trace(err)
		}
	}
	return retErr
}

func decode[T any](msg *nats.Msg) (*T, bool) {
	o := new(T)
	if err := utils.Unserialize(msg.Data, o); err != nil {
		log.Errorf("failed to decode message of %s: %v", msg.Subject, err)
		return nil, false
	}
	return o, true
}

func (t *Transport) SubscribeDirectives(nodeID string, handler transport.DirectiveHandler) (transport.Subscription, error) {
	callback := func(msg *nats.Msg) {
		if directive, ok := decode[types.Directive](msg); ok {
			handler(t.ctx, directive)
		}
	}

	broadcast, err := t.conn.Subscribe(t.DirectiveSubject(types.Broadcast), callback)
	if err != nil {
		return nil, errors.Annotatef(err, "subscribe to directives for %s", nodeID)
	}
	unicast, err := t.conn.QueueSubscribe(t.DirectiveSubject(types.SingleConsumer), t.prefix+"-factories", callback)
	if err != nil {
		broadcast.Unsubscribe()
		return nil, errors.Annotatef(err, "queue subscribe to directives for %s", nodeID)
	}
	log.Infof("factory %s subscribed to the directives of %s", nodeID, t.prefix)
	return subscriptions{broadcast, unicast}, nil
}

func (t *Transport) SubscribeFeedback(handler transport.FeedbackHandler) (transport.Subscription, error) {
	sub, err := t.conn.Subscribe(t.FeedbackSubject(), func(msg *nats.Msg) {
		if feedback, ok := decode[types.Feedback](msg); ok {
			handler(t.ctx, feedback)
		}
	})
	if err != nil {
		return nil, errors.Annotatef(err, "subscribe to feedbacks")
	}
	return subscriptions{sub}, nil
}

func (t *Transport) SubscribeHeartbeats(handler transport.HeartbeatHandler) (transport.Subscription, error) {
	sub, err := t.conn.Subscribe(t.HeartbeatSubject(), func(msg *nats.Msg) {
		if heartbeat, ok := decode[types.Heartbeat](msg); ok {
			handler(t.ctx, heartbeat)
		}
	})
	if err != nil {
		return nil, errors.Annotatef(err, "subscribe to heartbeats")
	}
	return subscriptions{sub}, nil
}

type handshakeReply struct {
	Response *types.HandshakeResponse `json:",omitempty"`
	Error    string                   `json:",omitempty"`
}

func (t *Transport) ServeHandshake(handler transport.HandshakeHandler) (transport.Subscription, error) {
	sub, err := t.conn.Subscribe(t.HandshakeSubject(), func(msg *nats.Msg) {
		reply := &handshakeReply{}
		if request, ok := decode[types.HandshakeRequest](msg); !ok {
			reply.Error = "invalid handshake request"
		} else if response, err := handler(t.ctx, request); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Response = response
		}

		data, err := utils.Serialize(reply)
		if err != nil {
			log.Errorf("failed to encode handshake reply: %v", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Errorf("failed to reply to handshake: %v", err)
		}
	})
	if err != nil {
		return nil, errors.Annotatef(err, "subscribe to handshakes")
	}
	return subscriptions{sub}, nil
}

func (t *Transport) Handshake(ctx context.Context, request *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	data, err := utils.Serialize(request)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.requestTimeout)
		defer cancel()
	}

	msg, err := t.conn.RequestWithContext(ctx, t.HandshakeSubject(), data)
	if err != nil {
		return nil, errors.Annotatef(err, "handshake of %s", request.NodeID)
	}
	reply, ok := decode[handshakeReply](msg)
	if !ok {
		return nil, errors.Errorf("invalid handshake reply for %s", request.NodeID)
	}
	if reply.Error != "" {
		return nil, errors.Errorf("handshake of %s refused: %s", request.NodeID, reply.Error)
	}
	return reply.Response, nil
}

// Close drains the subscriptions, then closes the connection.
func (t *Transport) Close() error {
	if t.conn == nil || t.conn.IsClosed() {
		return nil
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return errors.Trace(err)
	}
	return nil
}
