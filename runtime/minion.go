package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/meters"
)

// Job is a unit of work attached to a minion.
type Job struct {
	index  uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed once the job block returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the error of the job block, only valid once Done is closed.
func (j *Job) Err() error {
	return j.err
}

func (j *Job) Cancel() {
	j.cancel()
}

// MinionHook is executed once all the jobs of a minion completed.
type MinionHook func(ctx context.Context, minion *Minion)

// Minion is a virtual user executing one root DAG of a scenario. It tracks
// the jobs it launched and completes when all of them are done.
type Minion struct {
	ID           string
	CampaignKey  string
	ScenarioName string
	DagName      string

	mu        sync.Mutex
	cancelled bool
	jobIndex  uint64
	jobs      map[uint64]*Job
	hooks     []MinionHook

	startOnce sync.Once
	startGate chan struct{}
	startTime time.Time

	completeOnce sync.Once

	latch      *CountLatch
	activeJobs meters.Gauge
}

// NewMinion creates a minion. Unless pauseAtStart is set, the minion is
// started immediately.
func NewMinion(id, campaignKey, scenarioName, dagName string, pauseAtStart bool, registry meters.Registry) *Minion {
	if registry == nil {
		registry = meters.Noop()
	}
	tags := meters.ScopeTags(campaignKey, scenarioName)
	m := &Minion{
		ID:           id,
		CampaignKey:  campaignKey,
		ScenarioName: scenarioName,
		DagName:      dagName,
		jobs:         make(map[uint64]*Job),
		startGate:    make(chan struct{}),
		latch:        NewCountLatch(),
		activeJobs:   registry.Gauge("minion-running-jobs", tags),
	}
	if !pauseAtStart {
		m.Start()
	}
	return m
}

// Start opens the start gate of the minion, letting its jobs execute.
func (m *Minion) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.startTime = time.Now()
		m.mu.Unlock()
		close(m.startGate)
	})
}

func (m *Minion) IsStarted() bool {
	select {
	case <-m.startGate:
		return true
	default:
		return false
	}
}

func (m *Minion) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// WaitForStart blocks until the minion is started or cancelled.
func (m *Minion) WaitForStart(ctx context.Context) error {
	select {
	case <-m.startGate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Minion) IsCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// OnComplete registers a hook executed once when the minion completes.
// Hooks are executed in their registration order and never on
// cancellation.
func (m *Minion) OnComplete(hook MinionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Launch attaches a new job to the minion. The block is executed once the
// minion is started. The optional latch is incremented for the lifetime of
// the job. Launch returns false when the minion is cancelled.
func (m *Minion) Launch(ctx context.Context, latch *CountLatch, block func(ctx context.Context) error) (*Job, bool) {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return nil, false
	}
	m.jobIndex++
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{index: m.jobIndex, cancel: cancel, done: make(chan struct{})}
	m.jobs[job.index] = job
	m.latch.Increment()
	if latch != nil {
		latch.Increment()
	}
	m.mu.Unlock()
	m.activeJobs.Inc()

	go func() {
		defer close(job.done)
		defer cancel()
		defer m.finish(job, latch)
		defer func() {
			if r := recover(); r != nil {
				job.err = errors.Errorf("panic in job %d of minion %s: %v", job.index, m.ID, r)
				log.Errorf("%v", job.err)
			}
		}()

		if err := m.WaitForStart(jobCtx); err != nil {
			job.err = errors.Trace(err)
			return
		}
		if m.IsCancelled() {
			return
		}
		job.err = block(jobCtx)
	}()
	return job, true
}

func (m *Minion) finish(job *Job, latch *CountLatch) {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	delete(m.jobs, job.index)
	m.mu.Unlock()

	m.activeJobs.Dec()
	// The external latch goes first so that the minion completion
	// observes a consistent state.
	if latch != nil {
		latch.Decrement()
	}
	m.latch.Decrement()
}

// Cancel interrupts all the running jobs and releases the waiters of Join.
// Jobs launched afterwards are refused.
func (m *Minion) Cancel() {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.jobs = make(map[uint64]*Job)
	m.mu.Unlock()

	m.startOnce.Do(func() { close(m.startGate) })
	for _, job := range jobs {
		cancelQuietly(job)
		m.activeJobs.Dec()
	}
	m.latch.Cancel()
}

func cancelQuietly(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("cancel job %d: %v", job.index, r)
		}
	}()
	job.Cancel()
}

// RunningJobs returns the count of jobs still attached to the minion.
func (m *Minion) RunningJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Join blocks until the minion is started and all its jobs completed, then
// executes the completion hooks. A cancelled minion returns without
// executing them.
func (m *Minion) Join(ctx context.Context) error {
	if err := m.WaitForStart(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := m.latch.Await(ctx); err != nil {
		return errors.Trace(err)
	}
	if m.IsCancelled() {
		return nil
	}

	m.completeOnce.Do(func() {
		m.mu.Lock()
		hooks := append([]MinionHook(nil), m.hooks...)
		m.mu.Unlock()

		for _, hook := range hooks {
			hook(ctx, m)
		}
	})
	return nil
}
