package meters

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/types"
)

var (
	_ Registry = &promRegistry{}
)

var nameReplacer = strings.NewReplacer("-", "_", ".", "_", " ", "_")

// NewPrometheusRegistry creates a registry whose meters are registered
// into the prometheus registerer, prefixed with the namespace.
func NewPrometheusRegistry(registerer prometheus.Registerer, namespace string) Registry {
	return &promRegistry{
		registerer: registerer,
		namespace:  namespace,
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.CounterVec),
		timers:     make(map[string]*prometheus.HistogramVec),
	}
}

type promRegistry struct {
	mu sync.Mutex

	registerer prometheus.Registerer
	namespace  string

	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
	timers   map[string]*prometheus.HistogramVec
}

func (r *promRegistry) Gauge(name string, tags types.Data) Gauge {
	r.mu.Lock()
	vec, exists := r.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      nameReplacer.Replace(name),
			Help:      "Gauge " + name,
		}, tags.Keys())
		r.register(name, vec)
		r.gauges[name] = vec
	}
	r.mu.Unlock()

	gauge, err := vec.GetMetricWith(prometheus.Labels(tags.Strings()))
	if err != nil {
		log.Warnf("gauge %s can not be tagged with %v: %v", name, tags.Keys(), err)
		return noopMeter{}
	}
	return gauge
}

func (r *promRegistry) Counter(name string, tags types.Data) Counter {
	r.mu.Lock()
	vec, exists := r.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      nameReplacer.Replace(name) + "_total",
			Help:      "Counter " + name,
		}, tags.Keys())
		r.register(name, vec)
		r.counters[name] = vec
	}
	r.mu.Unlock()

	counter, err := vec.GetMetricWith(prometheus.Labels(tags.Strings()))
	if err != nil {
		log.Warnf("counter %s can not be tagged with %v: %v", name, tags.Keys(), err)
		return noopMeter{}
	}
	return counter
}

func (r *promRegistry) Timer(name string, tags types.Data) Timer {
	r.mu.Lock()
	vec, exists := r.timers[name]
	if !exists {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      nameReplacer.Replace(name) + "_seconds",
			Help:      "Timer " + name,
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, tags.Keys())
		r.register(name, vec)
		r.timers[name] = vec
	}
	r.mu.Unlock()

	observer, err := vec.GetMetricWith(prometheus.Labels(tags.Strings()))
	if err != nil {
		log.Warnf("timer %s can not be tagged with %v: %v", name, tags.Keys(), err)
		return noopMeter{}
	}
	return &promTimer{observer}
}

func (r *promRegistry) ReleaseScope(campaignKey, scenarioName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope := prometheus.Labels{CampaignTag: campaignKey, ScenarioTag: scenarioName}
	deleted := 0
	for _, vec := range r.gauges {
		deleted += vec.DeletePartialMatch(scope)
	}
	for _, vec := range r.counters {
		deleted += vec.DeletePartialMatch(scope)
	}
	for _, vec := range r.timers {
		deleted += vec.DeletePartialMatch(scope)
	}
	log.Debugf("released %d meters of campaign %s scenario %s", deleted, campaignKey, scenarioName)
}

func (r *promRegistry) register(name string, collector prometheus.Collector) {
	if r.registerer == nil {
		return
	}
	if err := r.registerer.Register(collector); err != nil {
		log.Warnf("meter %s could not be registered: %v", name, err)
	}
}

type promTimer struct {
	observer prometheus.Observer
}

func (t *promTimer) Record(duration time.Duration) {
	t.observer.Observe(duration.Seconds())
}
