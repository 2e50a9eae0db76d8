// Package metrics exposes Prometheus instruments for the scheduling pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the scheduler and publisher report into.
type Recorder interface {
	ObserveTick(d time.Duration, err error)
	RecordPublish(kind string, ok bool)
	RecordAssigned(n int)
	RecordExhausted()
	RecordSanitizeFallback()
	SetQueue(ready, future, unscheduled int)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveTick(time.Duration, error) {}
func (Nop) RecordPublish(string, bool)       {}
func (Nop) RecordAssigned(int)               {}
func (Nop) RecordExhausted()                 {}
func (Nop) RecordSanitizeFallback()          {}
func (Nop) SetQueue(int, int, int)           {}

type Collector struct {
	ticks        *prometheus.CounterVec
	tickLatency  prometheus.Histogram
	published    *prometheus.CounterVec
	assigned     prometheus.Counter
	exhausted    prometheus.Counter
	sanitizeFall prometheus.Counter
	queue        *prometheus.GaugeVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the pipeline instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipbot_ticks_total",
			Help: "Scheduler ticks by result.",
		}, []string{"result"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipbot_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipbot_publish_total",
			Help: "Publish attempts by message kind and result.",
		}, []string{"kind", "result"}),
		assigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipbot_slots_assigned_total",
			Help: "Slots assigned to queued items.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipbot_slots_exhausted_total",
			Help: "Ticks that ran out of candidate slots within the lookahead.",
		}),
		sanitizeFall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipbot_sanitize_fallback_total",
			Help: "Contents that fell back to plain-text stripping.",
		}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shipbot_queue_items",
			Help: "Queued items at the last tick by partition.",
		}, []string{"partition"}),
	}
	reg.MustRegister(c.ticks, c.tickLatency, c.published, c.assigned, c.exhausted, c.sanitizeFall, c.queue)
	return c
}

func (c *Collector) ObserveTick(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ticks.WithLabelValues(result).Inc()
	c.tickLatency.Observe(d.Seconds())
}

func (c *Collector) RecordPublish(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.published.WithLabelValues(kind, result).Inc()
}

func (c *Collector) RecordAssigned(n int)    { c.assigned.Add(float64(n)) }
func (c *Collector) RecordExhausted()        { c.exhausted.Inc() }
func (c *Collector) RecordSanitizeFallback() { c.sanitizeFall.Inc() }

func (c *Collector) SetQueue(ready, future, unscheduled int) {
	c.queue.WithLabelValues("ready").Set(float64(ready))
	c.queue.WithLabelValues("future").Set(float64(future))
	c.queue.WithLabelValues("unscheduled").Set(float64(unscheduled))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
