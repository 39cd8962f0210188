package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/research"
	"github.com/slerner/deepresearch/internal/store"
	"github.com/slerner/deepresearch/internal/telemetry"
	"github.com/slerner/deepresearch/tools/email"
	"github.com/slerner/deepresearch/tools/email/mailjet"
	"github.com/slerner/deepresearch/tools/webfetch"
	"github.com/slerner/deepresearch/tools/websearch"
)

// Run starts the HTTP API server and blocks until it exits.
func Run(cfg *config.Config) error {
	e := newEcho()

	tele := telemetry.NewTelemetry(cfg.Telemetry, nil)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not configured")
	}
	llm := research.NewOpenAIProvider(cfg.LLM)

	searchKey := cfg.Search.SerperAPIKey
	if cfg.Search.Provider == string(websearch.BraveProvider) {
		searchKey = cfg.Search.BraveAPIKey
	}
	ws, err := websearch.NewWebSearcher(websearch.Provider(cfg.Search.Provider), searchKey, cfg.Search.Timeout)
	if err != nil {
		return err
	}
	fetcher := webfetch.NewHTTPFetcher(cfg.Search.FetchTimeout, 0)

	var sender email.Sender
	if cfg.Email.Enabled && cfg.Email.APIKey != "" {
		sender = mailjet.NewClient(cfg.Email.APIKey, cfg.Email.APISecret, cfg.Email.Timeout)
	}

	manager := research.NewManager(cfg, llm, ws, fetcher, sender, tele)

	// Persistence is optional: without Postgres the API still serves
	// streaming runs, it just keeps no history.
	ctx := context.Background()
	var st *store.Store
	if cfg.Storage.Postgres.DSN() != "" {
		if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st, err = store.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}
	}

	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) == 0 {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(AuthMiddleware(secret))

	rh := &ResearchHandler{Config: cfg, Manager: manager, Store: st}
	rh.Register(protected)

	runs := &RunsHandler{Store: st}
	runs.Register(protected)

	log.New(log.Writer(), "[SERVER] ", log.LstdFlags).Printf("listening on %s", cfg.Server.Addr)
	return e.Start(cfg.Server.Addr)
}

// newEcho builds the echo instance with the shared middleware stack.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	return e
}
