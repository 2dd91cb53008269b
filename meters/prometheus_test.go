package meters

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/loadflow/types"
)

func TestPrometheusCounterAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRegistry(reg, "loadflow").(*promRegistry)

	tags := ScopeTags("c1", "s1").With(StepTag, "step-1")
	r.Counter("step-timeout", tags).Inc()
	r.Counter("step-timeout", tags).Add(2)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.counters["step-timeout"].With(prometheus.Labels(tags.Strings()))))

	gauge := r.Gauge("running-minions", ScopeTags("c1", "s1"))
	gauge.Inc()
	gauge.Inc()
	gauge.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(r.gauges["running-minions"].With(prometheus.Labels(ScopeTags("c1", "s1").Strings()))))

	r.Timer("step-execution", tags).Record(15 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(r.timers["step-execution"]))

	count, err := testutil.GatherAndCount(reg, "loadflow_step_timeout_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusMismatchingTags(t *testing.T) {
	r := NewPrometheusRegistry(prometheus.NewRegistry(), "loadflow")

	r.Counter("events", types.Data{"a": "1"}).Inc()
	// the counter must not panic when tagged differently
	r.Counter("events", types.Data{"b": "1"}).Inc()
}

func TestPrometheusReleaseScope(t *testing.T) {
	r := NewPrometheusRegistry(prometheus.NewRegistry(), "loadflow").(*promRegistry)

	r.Gauge("running-minions", ScopeTags("c1", "s1")).Set(5)
	r.Gauge("running-minions", ScopeTags("c1", "s2")).Set(3)
	r.Counter("step-success", ScopeTags("c1", "s1").With(StepTag, "a")).Inc()
	assert.Equal(t, 2, testutil.CollectAndCount(r.gauges["running-minions"]))

	r.ReleaseScope("c1", "s1")
	assert.Equal(t, 1, testutil.CollectAndCount(r.gauges["running-minions"]))
	assert.Equal(t, 0, testutil.CollectAndCount(r.counters["step-success"]))
}

func TestNoopRegistry(t *testing.T) {
	r := Noop()
	r.Gauge("g", nil).Inc()
	r.Counter("c", nil).Add(1)
	r.Timer("t", nil).Record(time.Second)
	r.ReleaseScope("c", "s")
}
