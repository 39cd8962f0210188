package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/telemetry"
)

// Writer synthesizes successful search summaries into a report.
type Writer struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewWriter creates a new report writer
func NewWriter(cfg *config.Config, llmProvider LLMProvider, tele *telemetry.Telemetry) *Writer {
	return &Writer{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[WRITER] ", log.LstdFlags),
	}
}

// Synthesize produces a ReportDraft from the successful results only.
// Zero usable results is a SynthesisError; synthesis is not attempted
// on an empty input set.
func (w *Writer) Synthesize(ctx context.Context, query string, results []SearchResult) (ReportDraft, error) {
	var successes []SearchResult
	for _, r := range results {
		if r.Succeeded() {
			successes = append(successes, r)
		}
	}
	if len(successes) == 0 {
		return ReportDraft{}, &SynthesisError{Reason: "no sources found"}
	}

	if w.config.Research.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Research.WriteTimeout)
		defer cancel()
	}

	startTime := time.Now()
	model := w.config.LLM.Routing.Synthesis
	if model == "" {
		model = w.config.LLM.Routing.Fallback
	}

	prompt := w.createWritingPrompt(query, successes)
	response, inTok, outTok, err := w.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.4,
	})
	if err != nil {
		return ReportDraft{}, &SynthesisError{Reason: "synthesis capability unreachable", Err: err}
	}
	w.telemetry.RecordLLMUsage(model, inTok, outTok, w.llmProvider.CalculateCost(inTok, outTok, model))

	draft, err := parseReportResponse(response)
	if err != nil {
		return ReportDraft{}, &SynthesisError{Reason: "malformed report", Err: err}
	}

	w.logger.Printf("report written in %v (%d chars, %d follow-ups)",
		time.Since(startTime), len(draft.MarkdownReport), len(draft.FollowUpQuestions))
	return draft, nil
}

func (w *Writer) createWritingPrompt(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a senior researcher tasked with writing a cohesive, evidence-based report.

RULES:
1. Base the report ONLY on the research summaries provided below - never on pre-existing knowledge
2. Create an outline that flows logically and synthesize findings across summaries coherently
3. If summaries lack information on a topic, state the gap explicitly; do not fill gaps with assumptions
4. Cross-reference facts that appear in multiple summaries; note discrepancies with source dates where mentioned
5. The markdown report should be detailed and comprehensive, at least 1000 words

ORIGINAL QUERY: %s

RESEARCH SUMMARIES:
`, query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- Summary %d (search: %s) ---\n%s\n", i+1, r.Item.Query, r.Summary)
	}
	b.WriteString(`
Respond ONLY with valid JSON in the following format:
{"short_summary": "a 2-3 sentence summary of the findings", "markdown_report": "the full markdown report", "follow_up_questions": ["2-3 suggested topics to research further"]}
Do not include any other text.`)
	return b.String()
}

func parseReportResponse(response string) (ReportDraft, error) {
	var draft ReportDraft
	if err := json.Unmarshal([]byte(extractFirstJSON(response)), &draft); err != nil {
		return ReportDraft{}, fmt.Errorf("parse report response: %w", err)
	}
	draft.ShortSummary = strings.TrimSpace(draft.ShortSummary)
	draft.MarkdownReport = strings.TrimSpace(draft.MarkdownReport)
	if draft.ShortSummary == "" || draft.MarkdownReport == "" || len(draft.FollowUpQuestions) == 0 {
		return ReportDraft{}, fmt.Errorf("report draft incomplete")
	}
	if len(draft.FollowUpQuestions) > 3 {
		draft.FollowUpQuestions = draft.FollowUpQuestions[:3]
	}
	return draft, nil
}
