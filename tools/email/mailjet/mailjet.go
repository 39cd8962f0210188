package mailjet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slerner/deepresearch/tools/email"
)

const sendURL = "https://api.mailjet.com/v3.1/send"

// Client sends email through the Mailjet v3.1 API.
type Client struct {
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewClient builds a Mailjet client with the given credentials.
func NewClient(apiKey, apiSecret string, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Send(ctx context.Context, msg email.Message) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return fmt.Errorf("mailjet credentials not configured")
	}

	// https://dev.mailjet.com/email/guides/send-api-v31/
	payload := map[string]any{
		"Messages": []map[string]any{
			{
				"From": map[string]string{
					"Email": msg.FromEmail,
					"Name":  msg.FromName,
				},
				"To": []map[string]string{
					{"Email": msg.ToEmail},
				},
				"Subject":  msg.Subject,
				"HTMLPart": msg.HTMLBody,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sendURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailjet status %d", resp.StatusCode)
	}

	var out struct {
		Messages []struct {
			Status string `json:"Status"`
		} `json:"Messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	for _, m := range out.Messages {
		if m.Status != "success" {
			return fmt.Errorf("mailjet message status %q", m.Status)
		}
	}
	return nil
}
