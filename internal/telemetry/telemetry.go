package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slerner/deepresearch/internal/config"
)

// Telemetry tracks pipeline metrics and LLM cost across runs
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    *prometheus.CounterVec
	searchesDone  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
	llmCost       prometheus.Counter
	emailOutcome  *prometheus.CounterVec

	mu          sync.Mutex
	totalCost   float64
	totalTokens int64
}

// NewTelemetry creates a telemetry instance and registers its collectors.
// A nil registry falls back to the default prometheus registerer.
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Number of research runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Number of research runs that produced a report.",
		}),
		runsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_runs_failed_total",
			Help: "Number of research runs that failed, by stage.",
		}, []string{"stage"}),
		searchesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_searches_total",
			Help: "Number of search tasks resolved, by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_llm_tokens_total",
			Help: "LLM tokens consumed, by model and direction.",
		}, []string{"model", "direction"}),
		llmCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD.",
		}),
		emailOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_email_total",
			Help: "Email delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}
	if cfg.Enabled {
		reg.MustRegister(t.runsStarted, t.runsCompleted, t.runsFailed,
			t.searchesDone, t.stageDuration, t.llmTokens, t.llmCost, t.emailOutcome)
	}
	return t
}

// RecordRunStarted increments the started-run counter.
func (t *Telemetry) RecordRunStarted() {
	if t == nil {
		return
	}
	t.runsStarted.Inc()
}

// RecordRunCompleted increments the completed-run counter.
func (t *Telemetry) RecordRunCompleted() {
	if t == nil {
		return
	}
	t.runsCompleted.Inc()
}

// RecordRunFailed increments the failed-run counter for a stage.
func (t *Telemetry) RecordRunFailed(stage string) {
	if t == nil {
		return
	}
	t.runsFailed.WithLabelValues(stage).Inc()
}

// RecordSearch records one resolved search task.
func (t *Telemetry) RecordSearch(succeeded bool) {
	if t == nil {
		return
	}
	outcome := "succeeded"
	if !succeeded {
		outcome = "failed"
	}
	t.searchesDone.WithLabelValues(outcome).Inc()
}

// RecordStageDuration records the duration of one pipeline stage.
func (t *Telemetry) RecordStageDuration(stage string, d time.Duration) {
	if t == nil {
		return
	}
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordLLMUsage records token usage and estimated cost for one LLM call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if t.config.CostTracking {
		t.llmCost.Add(cost)
		t.mu.Lock()
		t.totalCost += cost
		t.totalTokens += inputTokens + outputTokens
		t.mu.Unlock()
	}
}

// RecordEmail records an email delivery attempt.
func (t *Telemetry) RecordEmail(sent bool) {
	if t == nil {
		return
	}
	outcome := "sent"
	if !sent {
		outcome = "failed"
	}
	t.emailOutcome.WithLabelValues(outcome).Inc()
}

// CostSummary reports accumulated LLM spend since process start.
type CostSummary struct {
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int64   `json:"total_tokens"`
}

// GetCostSummary returns the accumulated cost totals.
func (t *Telemetry) GetCostSummary() CostSummary {
	if t == nil {
		return CostSummary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return CostSummary{TotalCost: t.totalCost, TotalTokens: t.totalTokens}
}
