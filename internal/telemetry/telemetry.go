package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry aggregates pipeline metrics: run outcomes, per-stage latency and
// LLM spend. Exposed through the server's /metrics endpoint.
type Telemetry struct {
	runsTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	eventsTotal   *prometheus.CounterVec
	tokensTotal   prometheus.Counter
	costTotal     prometheus.Counter
}

// New registers the pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alf_research_runs_total",
			Help: "Research pipeline runs by terminal status.",
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alf_pipeline_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alf_stream_events_total",
			Help: "Stream events emitted to clients by type.",
		}, []string{"type"}),
		tokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "alf_llm_tokens_total",
			Help: "Total LLM tokens consumed.",
		}),
		costTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "alf_llm_cost_dollars_total",
			Help: "Estimated LLM spend in dollars.",
		}),
	}
}

func (t *Telemetry) RecordRun(status string) {
	if t == nil {
		return
	}
	t.runsTotal.WithLabelValues(status).Inc()
}

func (t *Telemetry) ObserveStage(stage string, d time.Duration) {
	if t == nil {
		return
	}
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (t *Telemetry) RecordEvent(eventType string) {
	if t == nil {
		return
	}
	t.eventsTotal.WithLabelValues(eventType).Inc()
}

func (t *Telemetry) AddUsage(tokens int64, cost float64) {
	if t == nil {
		return
	}
	if tokens > 0 {
		t.tokensTotal.Add(float64(tokens))
	}
	if cost > 0 {
		t.costTotal.Add(cost)
	}
}
