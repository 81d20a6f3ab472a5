package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/alfhq/alf/internal/research"
)

// HTTPFetcher retrieves a page with a plain GET and extracts the readable
// article body locally.
type HTTPFetcher struct {
	Timeout time.Duration
	Client  *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (research.SourceDocument, error) {
	if strings.TrimSpace(rawURL) == "" {
		return research.SourceDocument{}, errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return research.SourceDocument{}, err
	}
	req.Header.Set("User-Agent", "ALFResearchBot/1.0 (+https://github.com/alfhq/alf)")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return research.SourceDocument{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return research.SourceDocument{}, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	article, err := readability.FromReader(resp.Body, mustParseURL(rawURL))
	if err != nil {
		return research.SourceDocument{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}

	doc := research.SourceDocument{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  strings.TrimSpace(article.TextContent),
	}
	if article.PublishedTime != nil {
		doc.Date = article.PublishedTime.Format(time.RFC3339)
	}
	return doc, nil
}

func (f *HTTPFetcher) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return 20 * time.Second
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
