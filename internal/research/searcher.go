package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/telemetry"
	"github.com/slerner/deepresearch/tools/webfetch"
	"github.com/slerner/deepresearch/tools/websearch"
	"github.com/slerner/deepresearch/tools/websearch/models"
)

// Searcher executes one plan item: discover ranked web results,
// optionally fetch the top pages, and condense everything into a short
// summary. Failures are absorbed into the SearchResult; a bad search
// never aborts the rest of the fan-out.
type Searcher struct {
	config      *config.Config
	llmProvider LLMProvider
	searcher    websearch.WebSearcher
	fetcher     webfetch.Fetcher
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewSearcher creates a new search executor
func NewSearcher(cfg *config.Config, llmProvider LLMProvider, ws websearch.WebSearcher, fetcher webfetch.Fetcher, tele *telemetry.Telemetry) *Searcher {
	return &Searcher{
		config:      cfg,
		llmProvider: llmProvider,
		searcher:    ws,
		fetcher:     fetcher,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Search runs at most one attempt for the item and never returns an
// error: transient failures come back as a failed SearchResult.
func (s *Searcher) Search(ctx context.Context, item SearchPlanItem) SearchResult {
	startTime := time.Now()
	result := SearchResult{Item: item}

	if s.config.Research.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Research.SearchTimeout)
		defer cancel()
	}

	hits, err := s.searcher.Discover(ctx, item.Query, s.config.Search.MaxResults)
	if err != nil {
		s.logger.Printf("search %q failed: %v", item.Query, err)
		result.Err = fmt.Sprintf("search provider: %v", err)
		result.Duration = time.Since(startTime)
		return result
	}
	if len(hits) == 0 {
		result.Err = "no results"
		result.Duration = time.Since(startTime)
		return result
	}

	var extracts []webfetch.Result
	if s.fetcher != nil {
		extracts = s.fetchTop(ctx, hits)
	}

	summary, err := s.summarize(ctx, item, hits, extracts)
	if err != nil {
		s.logger.Printf("summarize %q failed: %v", item.Query, err)
		result.Err = fmt.Sprintf("summarize: %v", err)
		result.Duration = time.Since(startTime)
		return result
	}

	result.Summary = truncateWords(summary, s.config.Research.SummaryMaxWords)
	for _, h := range hits {
		result.Sources = append(result.Sources, SourceRef{Title: h.Title, URL: h.URL})
	}
	result.Duration = time.Since(startTime)
	return result
}

// fetchTop pulls readable text for the first few hits, best-effort.
func (s *Searcher) fetchTop(ctx context.Context, hits []models.Result) []webfetch.Result {
	limit := s.config.Research.FetchTopResults
	if limit <= 0 {
		return nil
	}
	var out []webfetch.Result
	for i, h := range hits {
		if i >= limit {
			break
		}
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.config.Search.FetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, s.config.Search.FetchTimeout)
		}
		page, err := s.fetcher.Fetch(fetchCtx, h.URL)
		cancel()
		if err != nil {
			s.logger.Printf("fetch %s skipped: %v", h.URL, err)
			continue
		}
		if page.Text != "" {
			out = append(out, page)
		}
	}
	return out
}

func (s *Searcher) summarize(ctx context.Context, item SearchPlanItem, hits []models.Result, extracts []webfetch.Result) (string, error) {
	model := s.config.LLM.Routing.Summary
	if model == "" {
		model = s.config.LLM.Routing.Fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search term: %s\nReason for searching: %s\n\nSEARCH RESULTS:\n", item.Query, item.Reason)
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, h.Title, h.URL, h.Snippet)
	}
	for _, e := range extracts {
		text := e.Text
		if len(text) > 4000 {
			text = text[:4000]
		}
		fmt.Fprintf(&b, "PAGE EXTRACT (%s):\n%s\n\n", e.URL, text)
	}
	fmt.Fprintf(&b, `Write a concise summary of the findings above for the stated search term.

RULES:
1. 2-3 paragraphs, less than %d words
2. Base the summary ONLY on the search results and extracts above, never on prior knowledge
3. Capture the main points relevant to the query, ignore fluff
4. Note the time range of the sources when it is apparent
5. Output only the summary itself, no additional commentary`, s.config.Research.SummaryMaxWords)

	out, inTok, outTok, err := s.llmProvider.GenerateWithTokens(ctx, b.String(), model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  900,
	})
	if err != nil {
		return "", err
	}
	s.telemetry.RecordLLMUsage(model, inTok, outTok, s.llmProvider.CalculateCost(inTok, outTok, model))

	out = strings.TrimSpace(out)
	if len(out) < 50 {
		return "", fmt.Errorf("summary too short (%d chars)", len(out))
	}
	return out, nil
}

// truncateWords caps s at approximately max words.
func truncateWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
