package factory

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
)

// Dispatcher receives the directives of the factory and hands them to the
// processors accepting them, on a bounded pool of workers.
type Dispatcher struct {
	nodeID     string
	transport  transport.Transport
	processors []DirectiveProcessor
	wp         *workerpool.WorkerPool

	mu           sync.Mutex
	subscription transport.Subscription
}

func NewDispatcher(nodeID string, t transport.Transport, concurrency int, processors ...DirectiveProcessor) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		nodeID:     nodeID,
		transport:  t,
		processors: processors,
		wp:         workerpool.New(concurrency),
	}
}

// Start subscribes to the directives.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subscription != nil {
		return errors.AlreadyExistsf("subscription of %s", d.nodeID)
	}
	subscription, err := d.transport.SubscribeDirectives(d.nodeID, d.Dispatch)
	if err != nil {
		return errors.Trace(err)
	}
	d.subscription = subscription
	return nil
}

// Dispatch submits the directive to every processor accepting it. It never
// blocks.
func (d *Dispatcher) Dispatch(ctx context.Context, directive *types.Directive) {
	accepted := false
	for _, p := range d.processors {
		if !p.Accept(directive) {
			continue
		}
		accepted = true
		p := p
		d.wp.Submit(func() {
			d.execute(ctx, p, directive)
		})
	}
	if !accepted {
		log.Debugf("no processor for directive %s of kind %s", directive.Key, directive.Kind)
	}
}

// execute runs the processor and reports the progress of the directive.
func (d *Dispatcher) execute(ctx context.Context, p DirectiveProcessor, directive *types.Directive) {
	logger := log.WithFields(log.Fields{
		"campaign":  directive.CampaignKey,
		"scenario":  directive.ScenarioName,
		"directive": directive.Kind,
		"node":      d.nodeID,
	})
	d.publish(ctx, logger, types.FeedbackFor(directive, d.nodeID, types.FeedbackInProgress))

	outcome, err := safeProcess(ctx, p, directive)

	var feedback *types.Feedback
	switch {
	case err != nil:
		logger.Errorf("failed to process directive %s: %v", directive.Key, err)
		feedback = types.FeedbackFor(directive, d.nodeID, types.FeedbackFailed)
		feedback.Error = err.Error()
	case outcome == nil || outcome.Ignored:
		logger.Debugf("directive %s ignored", directive.Key)
		feedback = types.FeedbackFor(directive, d.nodeID, types.FeedbackIgnored)
	default:
		logger.Debugf("directive %s completed", directive.Key)
		feedback = types.FeedbackFor(directive, d.nodeID, types.FeedbackCompleted)
		feedback.DagNames = outcome.DagNames
	}
	d.publish(ctx, logger, feedback)
}

func safeProcess(ctx context.Context, p DirectiveProcessor, directive *types.Directive) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("directive %s panicked: %v", directive.Kind, r)
		}
	}()
	return p.Process(ctx, directive)
}

func (d *Dispatcher) publish(ctx context.Context, logger *log.Entry, feedback *types.Feedback) {
	if err := d.transport.PublishFeedback(ctx, feedback); err != nil {
		logger.Errorf("failed to publish feedback %s: %v", feedback.Status, err)
	}
}

// Stop unsubscribes from the directives and waits for the directives in
// progress.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	subscription := d.subscription
	d.subscription = nil
	d.mu.Unlock()

	if subscription != nil {
		if err := subscription.Unsubscribe(); err != nil {
			log.Warnf("failed to unsubscribe %s from directives: %v", d.nodeID, err)
		}
	}
	d.wp.StopWait()
}
