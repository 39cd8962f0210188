package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/research"
	"github.com/slerner/deepresearch/internal/telemetry"
	"github.com/slerner/deepresearch/tools/email"
	"github.com/slerner/deepresearch/tools/email/mailjet"
	"github.com/slerner/deepresearch/tools/webfetch"
	"github.com/slerner/deepresearch/tools/websearch"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var searches int
	var sendEmail bool
	var run = &cobra.Command{
		Use:   "run [query]",
		Short: "Run one research query and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			opts := research.Options{SearchCount: searches, SendEmail: sendEmail && cfg.Email.Enabled}
			var failed bool
			for ev := range manager.Run(ctx, query, opts) {
				switch ev.Kind {
				case research.EventRunStarted:
					fmt.Printf("Run %s started", ev.RunID)
					if ev.TraceURL != "" {
						fmt.Printf(" (trace: %s)", ev.TraceURL)
					}
					fmt.Println()
				case research.EventPlanCreated:
					fmt.Printf("Planned %d searches\n", len(ev.Plan.Searches))
				case research.EventSearchStarted:
					fmt.Printf("  searching: %s\n", ev.Item.Query)
				case research.EventSearchCompleted:
					if ev.Result.Succeeded() {
						fmt.Printf("  done: %s\n", ev.Result.Item.Query)
					} else {
						fmt.Printf("  failed: %s (%s)\n", ev.Result.Item.Query, ev.Result.Err)
					}
				case research.EventSearchesDone:
					fmt.Printf("Searches finished: %d succeeded, %d failed\n", ev.Succeeded, ev.Failed)
				case research.EventReportStarted:
					fmt.Println("Writing report...")
				case research.EventAuditSkipped:
					fmt.Printf("Audit skipped: %s\n", ev.Error)
				case research.EventEmailSent:
					fmt.Println("Report emailed")
				case research.EventEmailFailed:
					fmt.Printf("Email delivery failed: %s\n", ev.Error)
				case research.EventReportDone:
					fmt.Println("\n" + ev.Report.MarkdownReport)
					if len(ev.Report.FollowUpQuestions) > 0 {
						fmt.Println("\nFollow-up questions:")
						for _, q := range ev.Report.FollowUpQuestions {
							fmt.Printf("  - %s\n", q)
						}
					}
				case research.EventRunFailed:
					failed = true
					fmt.Fprintf(os.Stderr, "Run failed during %s: %s\n", ev.Stage, ev.Error)
				}
			}
			if failed {
				return fmt.Errorf("research run failed")
			}
			return nil
		},
	}
	run.Flags().IntVar(&searches, "searches", 0, "number of searches to plan (default from config)")
	run.Flags().BoolVar(&sendEmail, "email", false, "email the finished report")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

func buildManager(cfg *config.Config) (*research.Manager, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not configured")
	}
	llm := research.NewOpenAIProvider(cfg.LLM)

	searchKey := cfg.Search.SerperAPIKey
	if cfg.Search.Provider == string(websearch.BraveProvider) {
		searchKey = cfg.Search.BraveAPIKey
	}
	ws, err := websearch.NewWebSearcher(websearch.Provider(cfg.Search.Provider), searchKey, cfg.Search.Timeout)
	if err != nil {
		return nil, err
	}
	fetcher := webfetch.NewHTTPFetcher(cfg.Search.FetchTimeout, 0)

	var sender email.Sender
	if cfg.Email.Enabled && cfg.Email.APIKey != "" {
		sender = mailjet.NewClient(cfg.Email.APIKey, cfg.Email.APISecret, cfg.Email.Timeout)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry, nil)
	return research.NewManager(cfg, llm, ws, fetcher, sender, tele), nil
}
