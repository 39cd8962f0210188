package research

import (
	"context"
	"fmt"
	"time"
)

// SearchPlanItem is one planned web search with its rationale.
type SearchPlanItem struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// SearchPlan is the ordered set of searches produced for one run.
type SearchPlan struct {
	Searches []SearchPlanItem `json:"searches"`
}

// SourceRef points at one web source that backed a search summary.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchResult is the outcome of executing one plan item. A failed
// result carries no summary; Err records why it failed.
type SearchResult struct {
	Item     SearchPlanItem `json:"item"`
	Summary  string         `json:"summary,omitempty"`
	Sources  []SourceRef    `json:"sources,omitempty"`
	Err      string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Succeeded reports whether the search produced a usable summary.
func (r SearchResult) Succeeded() bool { return r.Err == "" }

// ReportDraft is the synthesized research report.
type ReportDraft struct {
	ShortSummary      string   `json:"short_summary"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// DeliveryOutcome records whether the report email went out.
type DeliveryOutcome struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// RunContext is the state of one research run, owned by the manager
// for the lifetime of that run and never shared across runs.
type RunContext struct {
	RunID     string           `json:"run_id"`
	TraceID   string           `json:"trace_id"`
	Query     string           `json:"query"`
	Plan      *SearchPlan      `json:"plan,omitempty"`
	Results   []SearchResult   `json:"results,omitempty"`
	Report    *ReportDraft     `json:"report,omitempty"`
	Delivery  *DeliveryOutcome `json:"delivery,omitempty"`
	StartedAt time.Time        `json:"started_at"`
}

// PlanningError is fatal to a run: the planner capability was
// unreachable or returned fewer than the requested search count.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// SynthesisError is fatal to a run: no search produced usable content,
// or the synthesis capability could not produce a consistent report.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesis failed: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// LLMProvider is the language-model completion capability: given a
// prompt and model, produce text or fail.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}
