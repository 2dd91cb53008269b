package steps

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

func blocking(name string, d time.Duration) runtime.Step {
	return Map(name, func(input any) (any, error) {
		time.Sleep(d)
		return input, nil
	})
}

func TestTimeoutInterruptsSlowStep(t *testing.T) {
	registry := newCountingRegistry()
	step := Timeout(blocking("slow", 200*time.Millisecond), 50*time.Millisecond, registry)
	assert.Equal(t, "slow", step.Name())

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "slow", "a")

	start := time.Now()
	err := step.Execute(context.Background(), minion, sc)
	elapsed := time.Since(start)

	assert.True(t, types.IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.True(t, sc.IsExhausted())
	assert.Empty(t, sc.Output())
	assert.Equal(t, float64(1), registry.count("step-timeout"))
}

func TestTimeoutLetsFastStepComplete(t *testing.T) {
	registry := newCountingRegistry()
	step := Timeout(blocking("fast", 0), 50*time.Millisecond, registry)

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "fast", "a")

	assert.NoError(t, step.Execute(context.Background(), minion, sc))
	assert.False(t, sc.IsExhausted())
	assert.Equal(t, []any{"a"}, sc.Output())
	assert.Equal(t, float64(0), registry.count("step-timeout"))
}

func TestTimeoutInDagReachesErrorProcessors(t *testing.T) {
	registry := newCountingRegistry()
	root := emit("emit", "a")
	slow := Timeout(blocking("slow", 200*time.Millisecond), 50*time.Millisecond, registry)
	c := &collected{}
	root.AddNext(slow)
	slow.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Empty(t, records)
	if assert.Len(t, errs, 1) {
		assert.True(t, types.IsTimeout(errs[0]))
	}
	assert.Equal(t, float64(1), registry.count("step-timeout"))
}

func TestIterativeRepeatsWithSameInput(t *testing.T) {
	var indexes []int64
	inner := MapWithContext("repeat", func(ctx context.Context, sc *runtime.StepContext, input any) (any, error) {
		indexes = append(indexes, sc.StepIterationIndex)
		return input, nil
	})
	step := Iterative(inner, 3, 10*time.Millisecond)

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "repeat", "a")

	start := time.Now()
	assert.NoError(t, step.Execute(context.Background(), minion, sc))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2}, indexes)
	assert.Equal(t, []any{"a", "a", "a"}, sc.Output())
	assert.True(t, sc.InputConsumed())
}

func TestIterativeStopsOnFailure(t *testing.T) {
	calls := 0
	inner := Map("repeat", func(input any) (any, error) {
		if calls++; calls == 2 {
			return nil, errors.New("second fails")
		}
		return input, nil
	})
	step := Iterative(inner, 5, 0)

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "repeat", "a")
	assert.Error(t, step.Execute(context.Background(), minion, sc))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []any{"a"}, sc.Output())
}

func TestIterativeFor(t *testing.T) {
	var calls int32
	inner := OnEach("repeat", func(input any) { atomic.AddInt32(&calls, 1) })
	step := IterativeFor(inner, 50*time.Millisecond, 10*time.Millisecond)

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "repeat", "a")
	assert.NoError(t, step.Execute(context.Background(), minion, sc))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(6))
}

func TestRetryDecorator(t *testing.T) {
	calls := 0
	inner := Map("flaky", func(input any) (any, error) {
		if calls++; calls < 3 {
			return nil, errors.New("flaky")
		}
		return input, nil
	})
	step := Retry(inner, runtime.NewBackoffRetryPolicy(5, time.Millisecond, 2*time.Millisecond))
	assert.Equal(t, inner, step.Decorated())

	minion := newMinion("m-1")
	sc := runtime.NewStepContextWithInput(minion, "d-1", "flaky", "a")
	assert.NoError(t, step.Execute(context.Background(), minion, sc))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []any{"a"}, sc.Output())
	assert.Empty(t, sc.Errors())
}

func TestReportingCountsAndReportsOnStop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	inner := Verification("check", func(input any) error {
		if input != "ok" {
			return errors.New("ko")
		}
		return nil
	})
	step := Reporting(inner, events.NewLogrusLogger(log.NewEntry(logger)))

	startStop := runtime.StepStartStopContext{CampaignKey: "c-1", ScenarioName: "s-1", DagName: "d-1", StepName: "check"}
	assert.NoError(t, step.Start(context.Background(), startStop))

	root := emit("emit", "ok", "ko", "ok")
	root.AddNext(step)
	runDag(t, root)

	assert.Equal(t, StepReport{Successes: 2, Failures: 1}, step.Report())

	step.Stop(context.Background(), startStop)
	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, "step.report", entry.Data["event"])
		assert.Equal(t, "c-1", entry.Data["campaign"])
	}

	assert.NoError(t, step.Start(context.Background(), startStop))
	assert.Equal(t, StepReport{}, step.Report())
}

func TestDecoratorForwardsErrorProcessing(t *testing.T) {
	catch := CatchErrors("catch", func(errs []*types.StepError) {})
	assert.True(t, Timeout(catch, time.Second, nil).ProcessesErrors())
	assert.False(t, Timeout(BlackHole("hole"), time.Second, nil).ProcessesErrors())
}
