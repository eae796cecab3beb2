// Package metrics exports stage timings and memory samples to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/coupler/internal/core/solver"
	"github.com/zeusync/coupler/internal/core/timers"
)

var _ solver.StageObserver = (*Collector)(nil)

// Collector holds the per-rank metrics. It owns a private registry so
// several collectors can live in one process, one per in-process rank.
type Collector struct {
	registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageCurrent  *prometheus.GaugeVec
	MemoryMB      *prometheus.GaugeVec
	Steps         *prometheus.CounterVec
}

// New builds a collector whose series all carry the given rank.
func New(rank int) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"rank": strconv.Itoa(rank)}, reg,
	))

	return &Collector{
		registry: reg,
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coupler_stage_duration_seconds",
				Help:    "Wall-clock duration of timed solver stages.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
			},
			[]string{"solver", "stage"},
		),
		StageCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coupler_stage_current_seconds",
				Help: "Accumulated duration of the latest phase per stage label.",
			},
			[]string{"solver", "stage"},
		),
		MemoryMB: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coupler_memory_max_rss_megabytes",
				Help: "Peak resident set size of this rank in whole megabytes.",
			},
			[]string{"solver"},
		),
		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coupler_steps_total",
				Help: "Completed simulation steps.",
			},
			[]string{"solver"},
		),
	}
}

// WithRuntime adds the Go runtime and process collectors.
func (c *Collector) WithRuntime() *Collector {
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveStage feeds the histogram with the time of one bracket, so the two
// Pre brackets of a step sum to the combined phase. The gauge holds Current.
func (c *Collector) ObserveStage(identifier string, label timers.Label, elapsed, current time.Duration) {
	c.StageDuration.WithLabelValues(identifier, string(label)).Observe(elapsed.Seconds())
	c.StageCurrent.WithLabelValues(identifier, string(label)).Set(current.Seconds())
}

func (c *Collector) ObserveMemory(identifier string, mb int64) {
	c.MemoryMB.WithLabelValues(identifier).Set(float64(mb))
}

func (c *Collector) ObserveStep(identifier string) {
	c.Steps.WithLabelValues(identifier).Inc()
}

// Gatherer exposes the registry, mostly for tests.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// HandlerFor serves several collectors on one endpoint. Their series are
// told apart by the rank label; at most one of them should carry the
// runtime collectors.
func HandlerFor(cs ...*Collector) http.Handler {
	gatherers := make(prometheus.Gatherers, 0, len(cs))
	for _, c := range cs {
		gatherers = append(gatherers, c.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
