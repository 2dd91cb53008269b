package runtime

import (
	"math"
	"time"

	"github.com/warriorguo/loadflow/types"
)

// RampUpStep starts Count minions, then waits Period before the next step.
type RampUpStep struct {
	Period time.Duration
	Count  int
}

// RampUpStrategy paces the start of the minions of a scenario.
type RampUpStrategy interface {
	Next(started, total int) RampUpStep
}

// Immediately starts all the minions at once.
func Immediately() RampUpStrategy {
	return immediateRampUp{}
}

type immediateRampUp struct{}

func (immediateRampUp) Next(started, total int) RampUpStep {
	return RampUpStep{Count: total - started}
}

// Regularly starts minionsPerPeriod minions every period.
func Regularly(period time.Duration, minionsPerPeriod int) RampUpStrategy {
	if minionsPerPeriod < 1 {
		minionsPerPeriod = 1
	}
	return &regularRampUp{period: period, minionsPerPeriod: minionsPerPeriod}
}

type regularRampUp struct {
	period           time.Duration
	minionsPerPeriod int
}

func (r *regularRampUp) Next(started, total int) RampUpStep {
	return RampUpStep{Period: r.period, Count: r.minionsPerPeriod}
}

// TimeFrame starts the minions evenly every period, so that all of them are
// started within the total duration.
func TimeFrame(period, total time.Duration) RampUpStrategy {
	return &timeFrameRampUp{period: period, total: total}
}

type timeFrameRampUp struct {
	period time.Duration
	total  time.Duration
}

func (r *timeFrameRampUp) Next(started, total int) RampUpStep {
	if r.total <= 0 || r.period <= 0 {
		return RampUpStep{Count: total - started}
	}
	perPeriod := int(math.Ceil(float64(total) * float64(r.period) / float64(r.total)))
	if perPeriod < 1 {
		perPeriod = 1
	}
	return RampUpStep{Period: r.period, Count: perPeriod}
}

// ComputeSchedule assigns a start instant to every minion. The periods of
// the strategy are divided by the speed factor.
func ComputeSchedule(strategy RampUpStrategy, minionIDs []string, speedFactor float64, start time.Time) []types.MinionStartDefinition {
	if strategy == nil {
		strategy = Immediately()
	}
	if speedFactor <= 0 {
		speedFactor = 1
	}

	schedule := make([]types.MinionStartDefinition, 0, len(minionIDs))
	total := len(minionIDs)
	at := start
	for started := 0; started < total; {
		step := strategy.Next(started, total)
		count := step.Count
		if count < 1 {
			count = 1
		}
		if started+count > total {
			count = total - started
		}
		for _, id := range minionIDs[started : started+count] {
			schedule = append(schedule, types.MinionStartDefinition{
				MinionID:              id,
				StartTimestampEpochMs: at.UnixMilli(),
			})
		}
		started += count
		at = at.Add(time.Duration(float64(step.Period) / speedFactor))
	}
	return schedule
}
