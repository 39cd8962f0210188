package research

import "time"

// EventKind discriminates status events emitted during a run.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventPlanCreated     EventKind = "plan_created"
	EventSearchStarted   EventKind = "search_started"
	EventSearchCompleted EventKind = "search_completed"
	EventSearchesDone    EventKind = "searches_done"
	EventReportStarted   EventKind = "report_started"
	// EventReportChunk carries incremental report text for providers
	// that stream completions. The default provider returns whole
	// completions, so runs built on it emit no chunk events.
	EventReportChunk    EventKind = "report_chunk"
	EventReportDone     EventKind = "report_done"
	EventAuditCompleted EventKind = "audit_completed"
	EventAuditSkipped   EventKind = "audit_skipped"
	EventEmailSent      EventKind = "email_sent"
	EventEmailFailed    EventKind = "email_failed"
	EventRunFailed      EventKind = "run_failed"
	EventRunComplete    EventKind = "run_complete"
)

// Event is one entry in the ordered, append-only status stream a run
// emits to its caller. Exactly one EventRunComplete terminates every
// stream, regardless of upstream failures.
type Event struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	// run_started
	TraceID  string `json:"trace_id,omitempty"`
	TraceURL string `json:"trace_url,omitempty"`

	// plan_created
	Plan *SearchPlan `json:"plan,omitempty"`

	// search_started
	Item *SearchPlanItem `json:"item,omitempty"`

	// search_completed
	Result *SearchResult `json:"result,omitempty"`

	// searches_done
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`

	// report_chunk
	Chunk string `json:"chunk,omitempty"`

	// report_done
	Report *ReportDraft `json:"report,omitempty"`

	// run_failed, email_failed, audit_skipped
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
}
