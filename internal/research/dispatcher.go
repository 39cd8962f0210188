package research

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/slerner/deepresearch/internal/config"
	"github.com/slerner/deepresearch/internal/telemetry"
	"github.com/slerner/deepresearch/tools/email"
)

// Dispatcher formats a finished report as HTML email and hands it to
// the transport. Delivery failure never changes the run's research
// outcome; it is surfaced as a status event only.
type Dispatcher struct {
	config      *config.Config
	llmProvider LLMProvider
	sender      email.Sender
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewDispatcher creates a new delivery dispatcher
func NewDispatcher(cfg *config.Config, llmProvider LLMProvider, sender email.Sender, tele *telemetry.Telemetry) *Dispatcher {
	return &Dispatcher{
		config:      cfg,
		llmProvider: llmProvider,
		sender:      sender,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[EMAIL] ", log.LstdFlags),
	}
}

// Deliver sends the report. All failures come back as a DeliveryOutcome.
func (d *Dispatcher) Deliver(ctx context.Context, report ReportDraft, query string) DeliveryOutcome {
	if d.sender == nil {
		return DeliveryOutcome{Sent: false, Reason: "email transport not configured"}
	}
	if d.config.Email.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Email.Timeout)
		defer cancel()
	}

	subject, htmlBody := d.format(ctx, report, query)

	msg := email.Message{
		FromEmail: d.config.Email.FromEmail,
		FromName:  d.config.Email.FromName,
		ToEmail:   d.config.Email.ToEmail,
		Subject:   subject,
		HTMLBody:  htmlBody,
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Printf("email delivery failed: %v", err)
		return DeliveryOutcome{Sent: false, Reason: err.Error()}
	}
	d.logger.Printf("email sent to %s", msg.ToEmail)
	return DeliveryOutcome{Sent: true}
}

// format converts the markdown report to an email subject and HTML
// body via the LLM, falling back to a plain rendering when the model
// is unavailable.
func (d *Dispatcher) format(ctx context.Context, report ReportDraft, query string) (string, string) {
	model := d.config.LLM.Routing.Email
	if model == "" {
		model = d.config.LLM.Routing.Fallback
	}

	prompt := fmt.Sprintf(`Convert the research report below into a clean, well presented HTML email body with an appropriate subject line.

REPORT:

%s

Respond ONLY with valid JSON: {"subject": "...", "html_body": "..."}. Do not include any other text.`, report.MarkdownReport)

	response, inTok, outTok, err := d.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
	})
	if err == nil {
		d.telemetry.RecordLLMUsage(model, inTok, outTok, d.llmProvider.CalculateCost(inTok, outTok, model))
		var out struct {
			Subject  string `json:"subject"`
			HTMLBody string `json:"html_body"`
		}
		if jerr := json.Unmarshal([]byte(extractFirstJSON(response)), &out); jerr == nil &&
			strings.TrimSpace(out.Subject) != "" && strings.TrimSpace(out.HTMLBody) != "" {
			return out.Subject, out.HTMLBody
		}
	} else {
		d.logger.Printf("email formatting fell back to plain rendering: %v", err)
	}

	subject := fmt.Sprintf("Research report: %s", truncateWords(query, 12))
	body := fmt.Sprintf("<h1>Research Report</h1><p>%s</p><pre>%s</pre>",
		html.EscapeString(report.ShortSummary), html.EscapeString(report.MarkdownReport))
	return subject, body
}
