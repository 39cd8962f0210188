package websearch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/slerner/deepresearch/tools/websearch/brave"
	"github.com/slerner/deepresearch/tools/websearch/models"
	"github.com/slerner/deepresearch/tools/websearch/serper"
)

// WebSearcher discovers ranked results for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewWebSearcher builds a searcher for the configured provider.
func NewWebSearcher(provider Provider, apiKey string, timeout time.Duration) (WebSearcher, error) {
	client := &http.Client{Timeout: timeout}
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
