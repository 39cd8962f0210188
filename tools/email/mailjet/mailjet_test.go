package mailjet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/slerner/deepresearch/tools/email"
)

type cannedTransport struct {
	status int
	body   string
	req    *http.Request
	sent   []byte
}

func (t *cannedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.req = req
	if req.Body != nil {
		t.sent, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

func testMessage() email.Message {
	return email.Message{
		FromEmail: "research@example.com",
		FromName:  "Deep Research",
		ToEmail:   "reader@example.com",
		Subject:   "Your report",
		HTMLBody:  "<h1>Report</h1>",
	}
}

func TestSend(t *testing.T) {
	rt := &cannedTransport{status: 200, body: `{"Messages": [{"Status": "success"}]}`}
	c := NewClient("key", "secret", time.Second)
	c.httpClient.Transport = rt

	if err := c.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	user, pass, ok := rt.req.BasicAuth()
	if !ok || user != "key" || pass != "secret" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}
	var payload struct {
		Messages []struct {
			From     map[string]string
			To       []map[string]string
			Subject  string
			HTMLPart string
		}
	}
	if err := json.Unmarshal(rt.sent, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Messages) != 1 {
		t.Fatalf("messages = %d", len(payload.Messages))
	}
	m := payload.Messages[0]
	if m.From["Email"] != "research@example.com" || m.To[0]["Email"] != "reader@example.com" {
		t.Errorf("addressing = %+v", m)
	}
	if m.Subject != "Your report" || m.HTMLPart != "<h1>Report</h1>" {
		t.Errorf("content = %+v", m)
	}
}

func TestSendRejectedMessage(t *testing.T) {
	c := NewClient("key", "secret", time.Second)
	c.httpClient.Transport = &cannedTransport{status: 200, body: `{"Messages": [{"Status": "error"}]}`}
	if err := c.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected error for per-message failure status")
	}
}

func TestSendHTTPError(t *testing.T) {
	c := NewClient("key", "secret", time.Second)
	c.httpClient.Transport = &cannedTransport{status: 401, body: `{}`}
	if err := c.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected error for 401 status")
	}
}

func TestSendMissingCredentials(t *testing.T) {
	c := NewClient("", "", time.Second)
	if err := c.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
