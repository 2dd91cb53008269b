package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ids(count int) []string {
	result := make([]string, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, string(rune('a'+i)))
	}
	return result
}

func offsets(start time.Time, strategy RampUpStrategy, count int, speedFactor float64) []time.Duration {
	var result []time.Duration
	for _, def := range ComputeSchedule(strategy, ids(count), speedFactor, start) {
		result = append(result, def.Instant().Sub(start))
	}
	return result
}

func TestComputeScheduleImmediately(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	assert.Equal(t, []time.Duration{0, 0, 0}, offsets(start, Immediately(), 3, 1))
	assert.Empty(t, ComputeSchedule(Immediately(), nil, 1, start))
}

func TestComputeScheduleRegularly(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	strategy := Regularly(100*time.Millisecond, 2)

	assert.Equal(t, []time.Duration{
		0, 0,
		100 * time.Millisecond, 100 * time.Millisecond,
		200 * time.Millisecond,
	}, offsets(start, strategy, 5, 1))

	assert.Equal(t, []time.Duration{
		0, 0,
		50 * time.Millisecond, 50 * time.Millisecond,
		100 * time.Millisecond,
	}, offsets(start, strategy, 5, 2))
}

func TestComputeScheduleTimeFrame(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	strategy := TimeFrame(250*time.Millisecond, time.Second)

	result := offsets(start, strategy, 8, 1)
	assert.Equal(t, []time.Duration{
		0, 0,
		250 * time.Millisecond, 250 * time.Millisecond,
		500 * time.Millisecond, 500 * time.Millisecond,
		750 * time.Millisecond, 750 * time.Millisecond,
	}, result)
}

func TestComputeScheduleKeepsMinionOrder(t *testing.T) {
	schedule := ComputeSchedule(Regularly(time.Second, 1), []string{"x", "y", "z"}, 1, time.UnixMilli(0))
	assert.Len(t, schedule, 3)
	assert.Equal(t, "x", schedule[0].MinionID)
	assert.Equal(t, "z", schedule[2].MinionID)
	assert.Equal(t, int64(2000), schedule[2].StartTimestampEpochMs)
}
