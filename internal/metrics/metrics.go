// Package metrics exposes Prometheus collectors for the pass pipeline: remote
// fetch outcomes, cache effectiveness, pipeline latency, and how many passes
// survive each ranking stage.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/large-farva/passwatch/internal/pass"
)

// Pipeline stage labels for StagePasses.
const (
	StageRaw        = "raw"
	StageFiltered   = "filtered"
	StageObservable = "observable"
)

// Collector bundles the daemon's metrics. A nil *Collector is valid and
// records nothing, so components can be built without metrics in tests.
type Collector struct {
	gatherer prometheus.Gatherer

	Fetches          *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	StagePasses      *prometheus.GaugeVec
}

// New registers the collectors against reg, defaulting to the global
// Prometheus registry when reg is nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fetches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passwatch_fetch_total",
		Help: "Pass fetches by outcome (live or fallback).",
	}, []string{"outcome"}), "passwatch_fetch_total")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passwatch_cache_lookups_total",
		Help: "Pass cache lookups by result (hit or miss).",
	}, []string{"result"}), "passwatch_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "passwatch_pipeline_duration_seconds",
		Help:    "End-to-end ranking pipeline latency in seconds, fetch included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "passwatch_pipeline_duration_seconds")
	if err != nil {
		return nil, err
	}

	stages, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "passwatch_stage_passes",
		Help: "Passes remaining after each stage of the most recent pipeline run.",
	}, []string{"stage"}), "passwatch_stage_passes")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		Fetches:          fetches,
		CacheLookups:     lookups,
		PipelineDuration: duration,
		StagePasses:      stages,
	}, nil
}

// ObserveFetch counts one fetch outcome.
func (c *Collector) ObserveFetch(status pass.Status) {
	if c == nil || c.Fetches == nil {
		return
	}
	c.Fetches.WithLabelValues(status.Source).Inc()
}

// ObserveCache counts one cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// ObservePipeline records the latency and stage counts of one pipeline run.
func (c *Collector) ObservePipeline(d time.Duration, raw, filtered, observable int) {
	if c == nil {
		return
	}
	if c.PipelineDuration != nil {
		c.PipelineDuration.Observe(d.Seconds())
	}
	if c.StagePasses != nil {
		c.StagePasses.WithLabelValues(StageRaw).Set(float64(raw))
		c.StagePasses.WithLabelValues(StageFiltered).Set(float64(filtered))
		c.StagePasses.WithLabelValues(StageObservable).Set(float64(observable))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
