package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
	maxBodyBytes    = 2 << 20
)

var reSpaces = regexp.MustCompile(`\s+`)

// Result is one fetched and extracted page.
type Result struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher retrieves a page and extracts its readable text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// HTTPFetcher fetches pages over plain HTTP and runs readability extraction.
type HTTPFetcher struct {
	Client   *http.Client
	MaxChars int
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, maxChars int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxChars: maxChars,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "deepresearch/1.0")
	resp, err := f.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, err
	}

	parsed, err := nurl.Parse(rawURL)
	if err != nil {
		parsed = &nurl.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}

	text := strings.TrimSpace(reSpaces.ReplaceAllString(article.TextContent, " "))
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	return Result{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  text,
	}, nil
}
