package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slerner/deepresearch/internal/config"
)

func TestExtractFirstJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"prose prefix", `Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"markdown fence", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{"nested braces", `x {"a": {"b": {"c": 3}}} y {"d": 4}`, `{"a": {"b": {"c": 3}}}`},
		{"no json", "plain text", "plain text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractFirstJSON(tc.in); got != tc.want {
				t.Errorf("extractFirstJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Models: map[string]config.LLMModel{
			"gpt-4o-mini": {
				Name:            "gpt-4o-mini",
				MaxTokens:       4000,
				Temperature:     0.5,
				CostPer1KInput:  0.00015,
				CostPer1KOutput: 0.0006,
			},
		},
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("api model = %q", req.Model)
		}
		if req.Temperature != 0.3 {
			t.Errorf("temperature = %v, want option override 0.3", req.Temperature)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testLLMConfig(srv.URL))
	out, inTok, outTok, err := p.GenerateWithTokens(context.Background(), "hi", "gpt-4o-mini", map[string]interface{}{"temperature": 0.3})
	if err != nil {
		t.Fatalf("GenerateWithTokens: %v", err)
	}
	if out != "hello" || inTok != 12 || outTok != 7 {
		t.Fatalf("got (%q, %d, %d)", out, inTok, outTok)
	}
}

func TestOpenAIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testLLMConfig(srv.URL))
	if _, err := p.Generate(context.Background(), "hi", "gpt-4o-mini", nil); err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if _, err := p.Generate(context.Background(), "hi", "unknown-model", nil); err == nil {
		t.Fatal("expected error for unconfigured model")
	}
}

func TestCalculateCost(t *testing.T) {
	p := NewOpenAIProvider(testLLMConfig(""))
	got := p.CalculateCost(1000, 2000, "gpt-4o-mini")
	want := 0.00015 + 2*0.0006
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost = %v, want %v", got, want)
	}
	if p.CalculateCost(1000, 1000, "unknown") != 0 {
		t.Fatal("unknown model should cost zero")
	}
}
