package steps

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/runtime"
)

var (
	_ runtime.Step      = &CollectionStep{}
	_ runtime.Lifecycle = &CollectionStep{}
)

// CollectionStep buffers the inputs of all the minions and forwards them as
// one []any batch once batchSize records are buffered or timeout elapsed
// since the first buffered record. The batch is sent by exactly one of the
// callers whose input it contains, the others complete without output.
type CollectionStep struct {
	runtime.BaseStep
	batchSize int
	timeout   time.Duration

	mu         sync.Mutex
	buffer     []any
	waiters    []*collectionWaiter
	generation uint64
	timer      *time.Timer
}

type collectionWaiter struct {
	sc *runtime.StepContext
	// released receives true when the batch was sent on the context of
	// the waiter.
	released chan bool
}

// Collection creates a collection step. A zero batch size only flushes on
// timeout, a zero timeout only on size.
func Collection(name string, batchSize int, timeout time.Duration) (*CollectionStep, error) {
	if batchSize <= 0 && timeout <= 0 {
		return nil, errors.BadRequestf("collection %s needs a batch size or a timeout", name)
	}
	return &CollectionStep{
		BaseStep:  runtime.NewBaseStep(name, nil),
		batchSize: batchSize,
		timeout:   timeout,
	}, nil
}

func (s *CollectionStep) Execute(ctx context.Context, minion *runtime.Minion, sc *runtime.StepContext) error {
	input, ok := sc.Receive()
	if !ok {
		return nil
	}

	s.mu.Lock()
	waiter := &collectionWaiter{sc: sc, released: make(chan bool, 1)}
	s.buffer = append(s.buffer, input)
	s.waiters = append(s.waiters, waiter)

	if s.batchSize > 0 && len(s.buffer) >= s.batchSize {
		batch, waiters := s.flushLocked()
		s.mu.Unlock()

		sc.Send(batch)
		for _, other := range waiters {
			if other != waiter {
				other.released <- false
			}
		}
		return nil
	}

	if len(s.buffer) == 1 && s.timeout > 0 {
		generation := s.generation
		s.timer = time.AfterFunc(s.timeout, func() {
			s.flushOnTimeout(generation)
		})
	}
	s.mu.Unlock()

	select {
	case <-waiter.released:
		return nil
	case <-ctx.Done():
		s.forget(waiter)
		return errors.Trace(ctx.Err())
	}
}

// flushLocked takes the buffer and its waiters and invalidates the pending
// timer, even when it already fired.
func (s *CollectionStep) flushLocked() ([]any, []*collectionWaiter) {
	batch, waiters := s.buffer, s.waiters
	s.buffer, s.waiters = nil, nil
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return batch, waiters
}

func (s *CollectionStep) flushOnTimeout(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch, waiters := s.flushLocked()
	s.mu.Unlock()

	if len(waiters) == 0 {
		log.Debugf("collection %s dropped a batch of %d records without caller", s.Name(), len(batch))
		return
	}
	forwarder := waiters[0]
	forwarder.sc.Send(batch)
	forwarder.released <- true
	for _, other := range waiters[1:] {
		other.released <- false
	}
}

func (s *CollectionStep) forget(waiter *collectionWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.waiters {
		if w == waiter {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *CollectionStep) Start(ctx context.Context, sc runtime.StepStartStopContext) error {
	return nil
}

// Stop drops the buffered records and releases their callers.
func (s *CollectionStep) Stop(ctx context.Context, sc runtime.StepStartStopContext) {
	s.mu.Lock()
	batch, waiters := s.flushLocked()
	s.mu.Unlock()

	if len(batch) > 0 {
		log.Warnf("collection %s dropped %d records on stop of campaign %s", s.Name(), len(batch), sc.CampaignKey)
	}
	for _, waiter := range waiters {
		waiter.released <- false
	}
}
