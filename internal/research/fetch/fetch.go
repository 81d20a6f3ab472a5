package fetch

import (
	"fmt"
	"time"

	"github.com/alfhq/alf/config"
	"github.com/alfhq/alf/internal/research"
)

// New builds the fetcher selected by configuration. "api" talks to a hosted
// scrape/extract service, "http" fetches and extracts locally, "chromedp"
// renders JavaScript-heavy pages through a headless browser first. The local
// fetchers are wrapped with the backoff retry policy; the api fetcher already
// retries through its HTTP client.
func New(cfg config.ScrapeConfig, httpc *research.HTTPClient, retries int, backoff time.Duration) (research.Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	switch cfg.Fetcher {
	case "api":
		return &APIFetcher{BaseURL: cfg.APIBaseURL, APIKey: cfg.APIKey, HTTP: httpc}, nil
	case "http":
		return research.WithRetry(&HTTPFetcher{Timeout: timeout}, retries, backoff), nil
	case "chromedp":
		return research.WithRetry(&ChromeFetcher{Timeout: timeout}, retries, backoff), nil
	default:
		return nil, fmt.Errorf("unsupported scrape fetcher: %s", cfg.Fetcher)
	}
}
