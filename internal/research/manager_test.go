package research

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/slerner/deepresearch/internal/config"
)

type stubPlanner struct {
	plan SearchPlan
	err  error
}

func (s *stubPlanner) Plan(ctx context.Context, query string, count int) (SearchPlan, error) {
	return s.plan, s.err
}

type stubSearcher struct {
	// delay per query lets tests force a completion order that
	// differs from plan order.
	delay map[string]time.Duration
	fail  map[string]bool
}

func (s *stubSearcher) Search(ctx context.Context, item SearchPlanItem) SearchResult {
	if d, ok := s.delay[item.Query]; ok {
		time.Sleep(d)
	}
	if s.fail[item.Query] {
		return SearchResult{Item: item, Err: "provider unreachable"}
	}
	return SearchResult{Item: item, Summary: "findings for " + item.Query}
}

type stubWriter struct {
	gotResults []SearchResult
	err        error
}

func (s *stubWriter) Synthesize(ctx context.Context, query string, results []SearchResult) (ReportDraft, error) {
	s.gotResults = results
	if s.err != nil {
		return ReportDraft{}, s.err
	}
	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return ReportDraft{}, &SynthesisError{Reason: "no sources found"}
	}
	return ReportDraft{
		ShortSummary:      "summary of " + query,
		MarkdownReport:    "# Report\n\nbody",
		FollowUpQuestions: []string{"what next?"},
	}, nil
}

type stubCritic struct{ err error }

func (s *stubCritic) Audit(ctx context.Context, reportMarkdown string) (Audit, error) {
	if s.err != nil {
		return Audit{}, s.err
	}
	return Audit{CriticalSummary: "looks reasonable", ConfidenceScore: 70}, nil
}

type stubDispatcher struct {
	outcome DeliveryOutcome
	called  bool
}

func (s *stubDispatcher) Deliver(ctx context.Context, report ReportDraft, query string) DeliveryOutcome {
	s.called = true
	return s.outcome
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Research.SearchCount = 5
	cfg.Research.MaxSearchCount = 5
	return &Manager{
		config:     cfg,
		logger:     log.New(log.Writer(), "[MANAGER] ", log.LstdFlags),
		planner:    &stubPlanner{},
		searcher:   &stubSearcher{},
		writer:     &stubWriter{},
		critic:     &stubCritic{},
		dispatcher: &stubDispatcher{},
	}
}

func planOf(queries ...string) SearchPlan {
	var plan SearchPlan
	for _, q := range queries {
		plan.Searches = append(plan.Searches, SearchPlanItem{Query: q, Reason: "because"})
	}
	return plan
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("event stream did not terminate; got %d events so far", len(out))
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunHappyPath(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a", "b", "c")}
	dispatcher := &stubDispatcher{outcome: DeliveryOutcome{Sent: true}}
	m.dispatcher = dispatcher

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 3, SendEmail: true}))

	if got := countKind(events, EventSearchStarted); got != 3 {
		t.Fatalf("search_started count = %d, want 3", got)
	}
	if got := countKind(events, EventSearchCompleted); got != 3 {
		t.Fatalf("search_completed count = %d, want 3", got)
	}
	for _, kind := range []EventKind{EventRunStarted, EventPlanCreated, EventSearchesDone, EventReportStarted, EventReportDone, EventAuditCompleted, EventEmailSent} {
		if countKind(events, kind) != 1 {
			t.Fatalf("expected exactly one %s, got %d (stream: %v)", kind, countKind(events, kind), kinds(events))
		}
	}
	if !dispatcher.called {
		t.Fatal("dispatcher was not invoked")
	}
	last := events[len(events)-1]
	if last.Kind != EventRunComplete {
		t.Fatalf("last event = %s, want %s", last.Kind, EventRunComplete)
	}
	if countKind(events, EventRunComplete) != 1 {
		t.Fatalf("run_complete emitted %d times", countKind(events, EventRunComplete))
	}
	if countKind(events, EventRunFailed) != 0 {
		t.Fatalf("unexpected run_failed in stream: %v", kinds(events))
	}
}

func TestRunTallies(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a", "b", "c", "d", "e")}
	m.searcher = &stubSearcher{fail: map[string]bool{"b": true, "d": true}}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 5}))

	var done *Event
	for i := range events {
		if events[i].Kind == EventSearchesDone {
			done = &events[i]
		}
	}
	if done == nil {
		t.Fatalf("no searches_done event in %v", kinds(events))
	}
	if done.Succeeded != 3 || done.Failed != 2 {
		t.Fatalf("tallies = %d/%d, want 3/2", done.Succeeded, done.Failed)
	}
	if done.Succeeded+done.Failed != 5 {
		t.Fatalf("tallies do not sum to plan size: %d", done.Succeeded+done.Failed)
	}
}

func TestRunAllSearchesFail(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a", "b", "c")}
	m.searcher = &stubSearcher{fail: map[string]bool{"a": true, "b": true, "c": true}}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 3}))

	if countKind(events, EventReportDone) != 0 {
		t.Fatalf("report_done emitted despite zero successful searches: %v", kinds(events))
	}
	var failed *Event
	for i := range events {
		if events[i].Kind == EventRunFailed {
			failed = &events[i]
		}
	}
	if failed == nil {
		t.Fatalf("no run_failed event in %v", kinds(events))
	}
	if failed.Stage != string(StateSynthesizing) {
		t.Fatalf("run_failed stage = %q, want %q", failed.Stage, StateSynthesizing)
	}
	if events[len(events)-1].Kind != EventRunComplete {
		t.Fatalf("stream did not end with run_complete: %v", kinds(events))
	}
}

func TestRunPartialFailureReachesWriter(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a", "b", "c", "d")}
	m.searcher = &stubSearcher{fail: map[string]bool{"c": true}}
	writer := &stubWriter{}
	m.writer = writer

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 4}))

	if countKind(events, EventReportDone) != 1 {
		t.Fatalf("expected report_done despite one failed search: %v", kinds(events))
	}
	if len(writer.gotResults) != 3 {
		t.Fatalf("writer received %d results, want only the 3 successes", len(writer.gotResults))
	}
	for _, r := range writer.gotResults {
		if !r.Succeeded() {
			t.Fatalf("failed search %q crossed into the writer", r.Item.Query)
		}
	}
}

func TestRunPlanningFailure(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{err: &PlanningError{Reason: "planner capability unreachable", Err: errors.New("boom")}}

	events := collect(t, m.Run(context.Background(), "test query", Options{}))

	if countKind(events, EventSearchStarted) != 0 || countKind(events, EventSearchCompleted) != 0 {
		t.Fatalf("search events emitted after planning failure: %v", kinds(events))
	}
	got := kinds(events)
	want := []EventKind{EventRunStarted, EventRunFailed, EventRunComplete}
	if len(got) != len(want) {
		t.Fatalf("stream = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stream = %v, want %v", got, want)
		}
	}
	if events[1].Stage != string(StatePlanning) {
		t.Fatalf("run_failed stage = %q, want %q", events[1].Stage, StatePlanning)
	}
}

func TestRunEmptyQuery(t *testing.T) {
	m := testManager(t)
	events := collect(t, m.Run(context.Background(), "   ", Options{}))

	if countKind(events, EventRunFailed) != 1 {
		t.Fatalf("expected run_failed for empty query, got %v", kinds(events))
	}
	if events[len(events)-1].Kind != EventRunComplete {
		t.Fatalf("stream did not end with run_complete: %v", kinds(events))
	}
}

func TestRunCompletionOrder(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("slow", "fast")}
	m.searcher = &stubSearcher{delay: map[string]time.Duration{
		"slow": 150 * time.Millisecond,
		"fast": 5 * time.Millisecond,
	}}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 2}))

	var completed []string
	for _, ev := range events {
		if ev.Kind == EventSearchCompleted {
			completed = append(completed, ev.Result.Item.Query)
		}
	}
	if len(completed) != 2 {
		t.Fatalf("completed queries = %v, want 2", completed)
	}
	if completed[0] != "fast" || completed[1] != "slow" {
		t.Fatalf("completion order = %v, want [fast slow]", completed)
	}
}

func TestRunDeliveryFailureDoesNotRetractReport(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a")}
	m.dispatcher = &stubDispatcher{outcome: DeliveryOutcome{Sent: false, Reason: "smtp down"}}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 1, SendEmail: true}))

	reportIdx, emailIdx := -1, -1
	for i, ev := range events {
		switch ev.Kind {
		case EventReportDone:
			reportIdx = i
		case EventEmailFailed:
			emailIdx = i
		}
	}
	if reportIdx < 0 {
		t.Fatalf("no report_done: %v", kinds(events))
	}
	if emailIdx < 0 {
		t.Fatalf("no email_failed: %v", kinds(events))
	}
	if emailIdx < reportIdx {
		t.Fatalf("email_failed before report_done: %v", kinds(events))
	}
	if countKind(events, EventRunFailed) != 0 {
		t.Fatalf("delivery failure reclassified the run: %v", kinds(events))
	}
	if events[len(events)-1].Kind != EventRunComplete {
		t.Fatalf("stream did not end with run_complete: %v", kinds(events))
	}
}

func TestRunEmailDisabledSkipsDelivery(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a")}
	dispatcher := &stubDispatcher{outcome: DeliveryOutcome{Sent: true}}
	m.dispatcher = dispatcher

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 1, SendEmail: false}))

	if dispatcher.called {
		t.Fatal("dispatcher invoked with email disabled")
	}
	if countKind(events, EventEmailSent)+countKind(events, EventEmailFailed) != 0 {
		t.Fatalf("email events emitted with email disabled: %v", kinds(events))
	}
}

func TestRunAuditFailureTolerated(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a")}
	m.critic = &stubCritic{err: errors.New("audit timed out")}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 1}))

	if countKind(events, EventAuditSkipped) != 1 {
		t.Fatalf("expected audit_skipped, got %v", kinds(events))
	}
	if countKind(events, EventReportDone) != 1 {
		t.Fatalf("audit failure blocked the report: %v", kinds(events))
	}
}

func TestRunAuditAppendedToReport(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a")}

	events := collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 1}))

	var report *ReportDraft
	for _, ev := range events {
		if ev.Kind == EventReportDone {
			report = ev.Report
		}
	}
	if report == nil {
		t.Fatalf("no report_done in %v", kinds(events))
	}
	if !strings.Contains(report.MarkdownReport, "Critical Audit Report") {
		t.Error("audit section missing from final report")
	}
	if !strings.Contains(report.MarkdownReport, "Report Signature") {
		t.Error("signature block missing from final report")
	}
	if !strings.Contains(report.MarkdownReport, "test query") {
		t.Error("signature block does not echo the research request")
	}
}

func TestRunSearchCountClamped(t *testing.T) {
	m := testManager(t)
	planner := &recordingPlanner{plan: planOf("a")}
	m.planner = planner

	collect(t, m.Run(context.Background(), "test query", Options{SearchCount: 50}))

	if planner.gotCount != m.config.Research.MaxSearchCount {
		t.Fatalf("planner asked for %d searches, want clamp to %d", planner.gotCount, m.config.Research.MaxSearchCount)
	}

	planner.gotCount = 0
	collect(t, m.Run(context.Background(), "test query", Options{}))
	if planner.gotCount != m.config.Research.SearchCount {
		t.Fatalf("planner asked for %d searches, want default %d", planner.gotCount, m.config.Research.SearchCount)
	}
}

type recordingPlanner struct {
	plan     SearchPlan
	gotCount int
}

func (r *recordingPlanner) Plan(ctx context.Context, query string, count int) (SearchPlan, error) {
	r.gotCount = count
	return r.plan, nil
}

func TestRunCancelledContextTerminates(t *testing.T) {
	m := testManager(t)
	m.planner = &stubPlanner{plan: planOf("a", "b")}
	m.searcher = &stubSearcher{delay: map[string]time.Duration{"a": 50 * time.Millisecond, "b": 50 * time.Millisecond}}

	ctx, cancel := context.WithCancel(context.Background())
	events := m.Run(ctx, "test query", Options{SearchCount: 2})

	// Read the first event, then walk away.
	<-events
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream did not close after cancellation")
		}
	}
}
