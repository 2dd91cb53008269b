// Package meters exposes the gauges, counters and timers recorded by the
// engine, scoped by campaign and scenario.
package meters

import (
	"time"

	"github.com/warriorguo/loadflow/types"
)

const (
	CampaignTag = "campaign"
	ScenarioTag = "scenario"
	DagTag      = "dag"
	StepTag     = "step"
	NodeTag     = "node"
)

type Gauge interface {
	Inc()
	Dec()
	Set(value float64)
}

type Counter interface {
	Inc()
	Add(value float64)
}

type Timer interface {
	Record(duration time.Duration)
}

// Registry creates meters. Every meter of a given name must always be
// created with the same set of tag keys.
type Registry interface {
	Gauge(name string, tags types.Data) Gauge
	Counter(name string, tags types.Data) Counter
	Timer(name string, tags types.Data) Timer
	// ReleaseScope forgets all the meters tagged with the campaign and scenario.
	ReleaseScope(campaignKey, scenarioName string)
}

// ScopeTags returns the tags identifying a campaign scenario.
func ScopeTags(campaignKey, scenarioName string) types.Data {
	return types.Data{CampaignTag: campaignKey, ScenarioTag: scenarioName}
}

var (
	_ Registry = noopRegistry{}
)

func Noop() Registry {
	return noopRegistry{}
}

type noopRegistry struct{}

type noopMeter struct{}

func (noopMeter) Inc()                 {}
func (noopMeter) Dec()                 {}
func (noopMeter) Set(float64)          {}
func (noopMeter) Add(float64)          {}
func (noopMeter) Record(time.Duration) {}

func (noopRegistry) Gauge(string, types.Data) Gauge     { return noopMeter{} }
func (noopRegistry) Counter(string, types.Data) Counter { return noopMeter{} }
func (noopRegistry) Timer(string, types.Data) Timer     { return noopMeter{} }
func (noopRegistry) ReleaseScope(string, string)        {}
