package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/research"
	"github.com/slerner/deepresearch/internal/store"
)

type researchRunner interface {
	Run(ctx context.Context, query string, opts research.Options) <-chan research.Event
}

type ResearchRequest struct {
	Query       string `json:"query"`
	SearchCount int    `json:"search_count"`
	SendEmail   *bool  `json:"send_email"`
}

// ResearchHandler runs research requests and streams their events as
// Server-Sent Events. Persistence is best-effort: store errors are
// logged, never surfaced into the stream.
type ResearchHandler struct {
	Config  *config.Config
	Manager researchRunner
	Store   *store.Store

	logger *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	h.logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	g.POST("/research", h.stream)
}

func (h *ResearchHandler) stream(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	opts := research.Options{SearchCount: h.clampCount(req.SearchCount)}
	if req.SendEmail != nil {
		opts.SendEmail = *req.SendEmail
	} else {
		opts.SendEmail = h.Config.Email.Enabled
	}

	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	rec := runRecorder{store: h.Store, logger: h.logger, userID: userID, query: req.Query, searchCount: opts.SearchCount}
	for ev := range h.Manager.Run(ctx, req.Query, opts) {
		rec.observe(ctx, ev)
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Printf("marshal event %s: %v", ev.Kind, err)
			continue
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Kind) + "\n")); err != nil {
			return nil
		}
		if _, err := resp.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			return nil
		}
		flusher.Flush()
	}
	return nil
}

func (h *ResearchHandler) clampCount(n int) int {
	if n <= 0 {
		return h.Config.Research.SearchCount
	}
	if max := h.Config.Research.MaxSearchCount; max > 0 && n > max {
		return max
	}
	return n
}

// runRecorder mirrors stream events into the run history table.
type runRecorder struct {
	store       *store.Store
	logger      *log.Logger
	userID      string
	query       string
	searchCount int

	runID     string
	succeeded int
	nfailed   int
	failed    bool
}

func (r *runRecorder) observe(ctx context.Context, ev research.Event) {
	if r.store == nil {
		return
	}
	var err error
	switch ev.Kind {
	case research.EventRunStarted:
		r.runID = ev.RunID
		err = r.store.CreateRun(ctx, ev.RunID, r.userID, r.query, r.searchCount)
	case research.EventSearchesDone:
		r.succeeded, r.nfailed = ev.Succeeded, ev.Failed
	case research.EventReportDone:
		var report []byte
		if report, err = json.Marshal(ev.Report); err == nil {
			err = r.store.SaveReport(ctx, r.runID, report, r.succeeded, r.nfailed)
		}
	case research.EventEmailSent:
		err = r.store.MarkEmailSent(ctx, r.runID, true)
	case research.EventRunFailed:
		r.failed = true
		msg := ev.Error
		err = r.store.FinishRun(ctx, r.runID, store.RunStatusFailed, &msg)
	case research.EventRunComplete:
		if !r.failed {
			err = r.store.FinishRun(ctx, r.runID, store.RunStatusCompleted, nil)
		}
	}
	if err != nil {
		r.logger.Printf("persist %s for run %s: %v", ev.Kind, r.runID, err)
	}
}
