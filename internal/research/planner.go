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

// Planner turns a research query into a fixed-count search plan.
type Planner struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(cfg *config.Config, llmProvider LLMProvider, tele *telemetry.Telemetry) *Planner {
	return &Planner{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan requests exactly count searches for the query. Fewer than count
// items in the response is a PlanningError, never silently padded.
func (p *Planner) Plan(ctx context.Context, query string, count int) (SearchPlan, error) {
	startTime := time.Now()

	if p.config.Research.PlanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Research.PlanTimeout)
		defer cancel()
	}

	model := p.config.LLM.Routing.Planning
	if model == "" {
		model = p.config.LLM.Routing.Fallback
	}

	prompt := p.createPlanningPrompt(query, count)
	response, inTok, outTok, err := p.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  2000,
	})
	if err != nil {
		return SearchPlan{}, &PlanningError{Reason: "planner capability unreachable", Err: err}
	}
	p.telemetry.RecordLLMUsage(model, inTok, outTok, p.llmProvider.CalculateCost(inTok, outTok, model))

	plan, err := parsePlanResponse(response)
	if err != nil {
		return SearchPlan{}, &PlanningError{Reason: "malformed plan", Err: err}
	}

	if len(plan.Searches) < count {
		return SearchPlan{}, &PlanningError{
			Reason: fmt.Sprintf("planner returned %d searches, expected %d", len(plan.Searches), count),
		}
	}
	if len(plan.Searches) > count {
		p.logger.Printf("planner returned %d searches, trimming to %d", len(plan.Searches), count)
		plan.Searches = plan.Searches[:count]
	}

	p.logger.Printf("planning completed in %v with %d searches", time.Since(startTime), len(plan.Searches))
	return plan, nil
}

func (p *Planner) createPlanningPrompt(query string, count int) string {
	return fmt.Sprintf(`You are a research planning assistant that creates web search queries.

RULES:
1. Generate EXACTLY %d search queries that will gather the most recent information relevant to the research query
2. Use relative time terms ("latest", "current", "recent") rather than hardcoded years
3. Prioritize queries that will find official documentation, recent news and announcements, and current specifications
4. Avoid generic queries - be specific

RESEARCH QUERY: %s

Respond ONLY with valid JSON in the following format:
{"searches": [{"query": "the search term", "reason": "why this search matters for the query"}]}
You must generate EXACTLY %d entries. Do not include any other text.`, count, query, count)
}

func parsePlanResponse(response string) (SearchPlan, error) {
	var plan SearchPlan
	if err := json.Unmarshal([]byte(extractFirstJSON(response)), &plan); err != nil {
		return SearchPlan{}, fmt.Errorf("parse plan response: %w", err)
	}
	var searches []SearchPlanItem
	for _, item := range plan.Searches {
		item.Query = strings.TrimSpace(item.Query)
		item.Reason = strings.TrimSpace(item.Reason)
		if item.Query == "" {
			continue
		}
		searches = append(searches, item)
	}
	plan.Searches = searches
	return plan, nil
}
