package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfhq/alf/internal/research"
)

// APIFetcher talks to a hosted scrape/extract service. Different deployments
// put the extracted body under different fields, so the response is probed
// in a fixed fallback order.
type APIFetcher struct {
	BaseURL string
	APIKey  string
	HTTP    *research.HTTPClient
}

func (f *APIFetcher) Fetch(ctx context.Context, url string) (research.SourceDocument, error) {
	return f.call(ctx, "/scrape", map[string]any{"url": url, "formats": []string{"markdown"}})
}

// Extract runs the service's structured-extract operation. A 422-class
// response propagates research.ErrUnprocessable so the caller can fall back
// to a plain scrape.
func (f *APIFetcher) Extract(ctx context.Context, url, prompt string) (research.SourceDocument, error) {
	payload := map[string]any{"url": url}
	if strings.TrimSpace(prompt) != "" {
		payload["prompt"] = prompt
	}
	return f.call(ctx, "/extract", payload)
}

func (f *APIFetcher) call(ctx context.Context, path string, payload map[string]any) (research.SourceDocument, error) {
	headers := map[string]string{}
	if f.APIKey != "" {
		headers["Authorization"] = "Bearer " + f.APIKey
	}
	var raw json.RawMessage
	endpoint := strings.TrimRight(f.BaseURL, "/") + path
	if err := f.HTTP.DoJSON(ctx, "POST", endpoint, headers, payload, &raw); err != nil {
		return research.SourceDocument{}, err
	}

	url, _ := payload["url"].(string)
	doc := decodeScrapePayload(raw, url)
	if strings.TrimSpace(doc.Text) == "" {
		return research.SourceDocument{}, fmt.Errorf("no extractable content for %s", url)
	}
	return doc, nil
}

// decodeScrapePayload pulls the body out of whichever field the backend
// populated: markdown, content, text, article.content, else the raw object
// stringified as a last resort.
func decodeScrapePayload(raw json.RawMessage, url string) research.SourceDocument {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return research.SourceDocument{URL: url, Text: string(raw)}
	}
	// some backends wrap the document under "data"
	if data, ok := m["data"].(map[string]any); ok {
		m = data
	}

	doc := research.SourceDocument{URL: url}
	if u, ok := m["url"].(string); ok && u != "" {
		doc.URL = u
	}
	if t, ok := m["title"].(string); ok {
		doc.Title = t
	}
	if d, ok := m["date"].(string); ok {
		doc.Date = d
	}

	for _, key := range []string{"markdown", "content", "text"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			doc.Text = s
			return doc
		}
	}
	if article, ok := m["article"].(map[string]any); ok {
		if s, ok := article["content"].(string); ok && strings.TrimSpace(s) != "" {
			doc.Text = s
			if doc.Title == "" {
				if t, ok := article["title"].(string); ok {
					doc.Title = t
				}
			}
			return doc
		}
	}
	b, _ := json.Marshal(m)
	doc.Text = string(b)
	return doc
}
