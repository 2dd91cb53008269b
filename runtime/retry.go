package runtime

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// RetryPolicy executes a step block until it succeeds or the policy gives up.
// Each attempt works on a duplicate of the context, the successful one being
// reconciled into the original.
type RetryPolicy interface {
	Execute(ctx context.Context, sc *StepContext, block func(ctx context.Context, sc *StepContext) error) error
}

var (
	_ RetryPolicy = &BackoffRetryPolicy{}
)

// NewBackoffRetryPolicy retries up to retries times after the first attempt,
// doubling the delay between attempts up to maxDelay.
func NewBackoffRetryPolicy(retries uint, delay, maxDelay time.Duration) *BackoffRetryPolicy {
	return &BackoffRetryPolicy{Retries: retries, Delay: delay, MaxDelay: maxDelay}
}

type BackoffRetryPolicy struct {
	Retries  uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (p *BackoffRetryPolicy) Execute(ctx context.Context, sc *StepContext, block func(ctx context.Context, sc *StepContext) error) error {
	var succeeded *StepContext
	opts := []retry.Option{
		retry.Attempts(p.Retries + 1),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("step %s of minion %s failed on attempt %d: %v", sc.StepName, sc.MinionID, n+1, err)
		}),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}

	err := retry.Do(func() error {
		attempt := sc.Duplicate()
		if err := block(ctx, attempt); err != nil {
			return err
		}
		succeeded = attempt
		return nil
	}, opts...)
	if err != nil {
		return errors.Trace(err)
	}
	sc.Reconcile(succeeded)
	return nil
}
