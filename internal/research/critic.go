package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/telemetry"
)

// Audit is a critical review of a finished report.
type Audit struct {
	CriticalSummary     string       `json:"critical_summary"`
	ConfidenceScore     int          `json:"confidence_score"`
	Explanation         []string     `json:"explanation"`
	UnprovenAssumptions []Assumption `json:"unproven_assumptions"`
	MissingQuestions    []Question   `json:"missing_questions"`
}

// Assumption is one claim the audit flags as insufficiently supported.
type Assumption struct {
	Claim            string `json:"claim"`
	Weakness         string `json:"weakness"`
	RequiredEvidence string `json:"required_evidence"`
}

// Question is a critical question the report leaves unanswered.
type Question struct {
	Question   string `json:"question"`
	Importance string `json:"importance"`
}

// Critic audits a synthesized report for weaknesses, unproven
// assumptions, and gaps. The audit is advisory: if it fails or times
// out, the report ships unaudited.
type Critic struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewCritic creates a new report critic
func NewCritic(cfg *config.Config, llmProvider LLMProvider, tele *telemetry.Telemetry) *Critic {
	return &Critic{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[CRITIC] ", log.LstdFlags),
	}
}

// Audit reviews the report markdown and returns a structured audit.
func (c *Critic) Audit(ctx context.Context, reportMarkdown string) (Audit, error) {
	if c.config.Research.AuditTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Research.AuditTimeout)
		defer cancel()
	}

	model := c.config.LLM.Routing.Audit
	if model == "" {
		model = c.config.LLM.Routing.Fallback
	}

	prompt := fmt.Sprintf(`You are a sceptical research auditor. Review the report below for weaknesses, unproven assumptions, and missing critical questions. Judge only what the report itself supports.

RESEARCH REPORT TO AUDIT:

%s

Respond ONLY with valid JSON in the following format:
{"critical_summary": "overall assessment in 2-3 sentences", "confidence_score": 0-100, "explanation": ["short bullet points explaining the score"], "unproven_assumptions": [{"claim": "...", "weakness": "...", "required_evidence": "..."}], "missing_questions": [{"question": "...", "importance": "..."}]}
Do not include any other text.`, reportMarkdown)

	response, inTok, outTok, err := c.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  2000,
	})
	if err != nil {
		return Audit{}, fmt.Errorf("audit capability: %w", err)
	}
	c.telemetry.RecordLLMUsage(model, inTok, outTok, c.llmProvider.CalculateCost(inTok, outTok, model))

	var audit Audit
	if err := json.Unmarshal([]byte(extractFirstJSON(response)), &audit); err != nil {
		return Audit{}, fmt.Errorf("parse audit response: %w", err)
	}
	if strings.TrimSpace(audit.CriticalSummary) == "" {
		return Audit{}, fmt.Errorf("audit response incomplete")
	}
	return audit, nil
}

// Markdown renders the audit as a report section.
func (a Audit) Markdown() string {
	var b strings.Builder
	b.WriteString("\n---\n\n## Critical Audit Report\n\n### Overall Assessment\n")
	b.WriteString(a.CriticalSummary)
	fmt.Fprintf(&b, "\n\n### Confidence Score: %d/100\n\n", a.ConfidenceScore)
	for _, point := range a.Explanation {
		fmt.Fprintf(&b, "- %s\n", point)
	}
	if len(a.UnprovenAssumptions) > 0 {
		b.WriteString("\n### Unproven Assumptions\n")
		for i, assumption := range a.UnprovenAssumptions {
			fmt.Fprintf(&b, "\n**Assumption %d:**\n- **Claim:** %s\n- **Weakness:** %s\n- **Required Evidence:** %s\n",
				i+1, assumption.Claim, assumption.Weakness, assumption.RequiredEvidence)
		}
	}
	if len(a.MissingQuestions) > 0 {
		b.WriteString("\n### Missing Critical Questions\n")
		for i, q := range a.MissingQuestions {
			fmt.Fprintf(&b, "\n**Question %d: %s**\n- **Importance:** %s\n", i+1, q.Question, q.Importance)
		}
	}
	b.WriteString("\n---\n")
	return b.String()
}
