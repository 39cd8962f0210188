package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/telemetry"
	"github.com/slerner/deepresearch/tools/email"
	"github.com/slerner/deepresearch/tools/webfetch"
	"github.com/slerner/deepresearch/tools/websearch"
)

// State names one phase of a research run.
type State string

const (
	StateIdle         State = "idle"
	StatePlanning     State = "planning"
	StateSearching    State = "searching"
	StateSynthesizing State = "synthesizing"
	StateDelivering   State = "delivering"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// Stage contracts, satisfied by the concrete components in this
// package and by stubs in tests.
type queryPlanner interface {
	Plan(ctx context.Context, query string, count int) (SearchPlan, error)
}

type searchExecutor interface {
	Search(ctx context.Context, item SearchPlanItem) SearchResult
}

type reportWriter interface {
	Synthesize(ctx context.Context, query string, results []SearchResult) (ReportDraft, error)
}

type reportCritic interface {
	Audit(ctx context.Context, reportMarkdown string) (Audit, error)
}

type reportDispatcher interface {
	Deliver(ctx context.Context, report ReportDraft, query string) DeliveryOutcome
}

// Options tweaks a single run.
type Options struct {
	// SearchCount overrides the configured plan size; zero means use
	// the configured default. Clamped to [1, max_search_count].
	SearchCount int
	// SendEmail controls whether the delivering stage runs at all.
	SendEmail bool
}

// Manager sequences one research run through planning, searching,
// synthesizing, and delivering, and emits an ordered event stream for
// a single consumer. Each invocation owns its RunContext exclusively;
// nothing is shared across concurrent runs.
type Manager struct {
	config    *config.Config
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	planner    queryPlanner
	searcher   searchExecutor
	writer     reportWriter
	critic     reportCritic
	dispatcher reportDispatcher
}

// NewManager wires the full pipeline from its external capabilities.
// fetcher and sender may be nil: page extraction is then skipped and
// delivery reports "not configured" without failing the run.
func NewManager(cfg *config.Config, llm LLMProvider, ws websearch.WebSearcher, fetcher webfetch.Fetcher, sender email.Sender, tele *telemetry.Telemetry) *Manager {
	return &Manager{
		config:     cfg,
		telemetry:  tele,
		logger:     log.New(log.Writer(), "[MANAGER] ", log.LstdFlags),
		planner:    NewPlanner(cfg, llm, tele),
		searcher:   NewSearcher(cfg, llm, ws, fetcher, tele),
		writer:     NewWriter(cfg, llm, tele),
		critic:     NewCritic(cfg, llm, tele),
		dispatcher: NewDispatcher(cfg, llm, sender, tele),
	}
}

// Run starts one research run and returns its event stream. The
// stream is finite, single-consumer, and always terminates with
// exactly one EventRunComplete. Cancelling ctx stops event emission;
// in-flight external calls finish or time out on their own.
func (m *Manager) Run(ctx context.Context, query string, opts Options) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		m.run(ctx, query, opts, events)
	}()
	return events
}

func (m *Manager) run(ctx context.Context, query string, opts Options, events chan<- Event) {
	rc := RunContext{
		RunID:     uuid.New().String(),
		TraceID:   "trace_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Query:     strings.TrimSpace(query),
		StartedAt: time.Now(),
	}
	count := opts.SearchCount
	if count <= 0 {
		count = m.config.Research.SearchCount
	}
	if max := m.config.Research.MaxSearchCount; max > 0 && count > max {
		count = max
	}

	m.telemetry.RecordRunStarted()
	m.logger.Printf("run %s started (trace %s, %d searches)", rc.RunID, rc.TraceID, count)

	traceURL := ""
	if tmpl := m.config.General.TraceURLTemplate; tmpl != "" {
		traceURL = fmt.Sprintf(tmpl, rc.TraceID)
	}
	m.emit(ctx, events, Event{Kind: EventRunStarted, RunID: rc.RunID, TraceID: rc.TraceID, TraceURL: traceURL})

	// Planning
	state := StatePlanning
	if rc.Query == "" {
		m.fail(ctx, events, rc.RunID, state, &PlanningError{Reason: "empty query"})
		return
	}
	stageStart := time.Now()
	plan, err := m.planner.Plan(ctx, rc.Query, count)
	m.telemetry.RecordStageDuration(string(state), time.Since(stageStart))
	if err != nil {
		m.fail(ctx, events, rc.RunID, state, err)
		return
	}
	rc.Plan = &plan
	m.emit(ctx, events, Event{Kind: EventPlanCreated, RunID: rc.RunID, Plan: &plan})

	// Searching: fan out all tasks, then join. Completion events are
	// emitted in real resolution order, not plan order.
	state = StateSearching
	stageStart = time.Now()
	resultCh := make(chan SearchResult, len(plan.Searches))
	for _, item := range plan.Searches {
		item := item
		m.emit(ctx, events, Event{Kind: EventSearchStarted, RunID: rc.RunID, Item: &item})
		go func() {
			resultCh <- m.searcher.Search(ctx, item)
		}()
	}
	succeeded, failed := 0, 0
	for range plan.Searches {
		result := <-resultCh
		rc.Results = append(rc.Results, result)
		if result.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		m.telemetry.RecordSearch(result.Succeeded())
		m.emit(ctx, events, Event{Kind: EventSearchCompleted, RunID: rc.RunID, Result: &result})
	}
	m.telemetry.RecordStageDuration(string(state), time.Since(stageStart))
	m.logger.Printf("run %s searches done: %d succeeded, %d failed", rc.RunID, succeeded, failed)
	m.emit(ctx, events, Event{Kind: EventSearchesDone, RunID: rc.RunID, Succeeded: succeeded, Failed: failed})

	// Synthesizing: only the successful results cross the boundary,
	// failed searches end at the tally.
	state = StateSynthesizing
	m.emit(ctx, events, Event{Kind: EventReportStarted, RunID: rc.RunID})
	successes := make([]SearchResult, 0, succeeded)
	for _, result := range rc.Results {
		if result.Succeeded() {
			successes = append(successes, result)
		}
	}
	stageStart = time.Now()
	report, err := m.writer.Synthesize(ctx, rc.Query, successes)
	m.telemetry.RecordStageDuration(string(state), time.Since(stageStart))
	if err != nil {
		m.fail(ctx, events, rc.RunID, state, err)
		return
	}

	// Audit is advisory: failure or timeout ships the report as-is.
	if m.critic != nil {
		if audit, auditErr := m.critic.Audit(ctx, report.MarkdownReport); auditErr != nil {
			m.logger.Printf("run %s audit skipped: %v", rc.RunID, auditErr)
			m.emit(ctx, events, Event{Kind: EventAuditSkipped, RunID: rc.RunID, Error: auditErr.Error()})
		} else {
			report.MarkdownReport += "\n" + audit.Markdown()
			m.emit(ctx, events, Event{Kind: EventAuditCompleted, RunID: rc.RunID})
		}
	}
	report.MarkdownReport += "\n" + reportSignature(rc.Query, count)
	rc.Report = &report

	m.telemetry.RecordRunCompleted()
	m.emit(ctx, events, Event{Kind: EventReportDone, RunID: rc.RunID, Report: &report})

	// Delivering: outcome never reclassifies the run.
	state = StateDelivering
	if opts.SendEmail && m.dispatcher != nil {
		stageStart = time.Now()
		outcome := m.dispatcher.Deliver(ctx, report, rc.Query)
		m.telemetry.RecordStageDuration(string(state), time.Since(stageStart))
		m.telemetry.RecordEmail(outcome.Sent)
		rc.Delivery = &outcome
		if outcome.Sent {
			m.emit(ctx, events, Event{Kind: EventEmailSent, RunID: rc.RunID})
		} else {
			m.emit(ctx, events, Event{Kind: EventEmailFailed, RunID: rc.RunID, Stage: string(state), Error: outcome.Reason})
		}
	}

	m.logger.Printf("run %s complete in %v", rc.RunID, time.Since(rc.StartedAt))
	m.emit(ctx, events, Event{Kind: EventRunComplete, RunID: rc.RunID})
}

// fail records a fatal stage error and terminates the stream. The
// terminating EventRunComplete is still emitted so callers always see
// a final event.
func (m *Manager) fail(ctx context.Context, events chan<- Event, runID string, state State, err error) {
	m.logger.Printf("run %s failed in %s: %v", runID, state, err)
	m.telemetry.RecordRunFailed(string(state))
	m.emit(ctx, events, Event{Kind: EventRunFailed, RunID: runID, Stage: string(state), Error: err.Error()})
	m.emit(ctx, events, Event{Kind: EventRunComplete, RunID: runID})
}

// emit delivers an event unless the caller has stopped consuming.
func (m *Manager) emit(ctx context.Context, events chan<- Event, ev Event) {
	ev.Timestamp = time.Now()
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func reportSignature(query string, searchCount int) string {
	return fmt.Sprintf(`
---

## Report Signature

**Date:** %s

**Research Request:** %s

**Pipeline:** planner, %d parallel web searches, writer, critic, email delivery

---

*Report generated by deepresearch*
`, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), query, searchCount)
}
