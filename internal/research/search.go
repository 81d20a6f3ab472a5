package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/alfhq/alf/config"
)

// SearchStage issues a broad web query against one configured backend,
// normalizes the response, deduplicates by URL and caps the candidate count.
type SearchStage struct {
	backend SearchBackend
	cap     int
	logger  *log.Logger
}

// NewSearchStage builds the stage for the configured backend.
func NewSearchStage(cfg config.SearchConfig, httpc *HTTPClient) (*SearchStage, error) {
	var backend SearchBackend
	switch cfg.Backend {
	case "serper":
		backend = &SerperBackend{APIKey: cfg.SerperAPIKey, http: httpc}
	case "brave":
		backend = &BraveBackend{APIKey: cfg.BraveAPIKey, http: httpc}
	case "crawler":
		backend = &CrawlerBackend{BaseURL: cfg.CrawlerURL, APIKey: cfg.CrawlerAPIKey, http: httpc}
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", cfg.Backend)
	}
	max := cfg.MaxResults
	if max <= 0 {
		max = 30
	}
	return &SearchStage{
		backend: backend,
		cap:     max,
		logger:  log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}, nil
}

// NewSearchStageWithBackend wires an explicit backend, bypassing config.
func NewSearchStageWithBackend(backend SearchBackend, max int) *SearchStage {
	if max <= 0 {
		max = 30
	}
	return &SearchStage{
		backend: backend,
		cap:     max,
		logger:  log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Run executes the query. A backend failure after retries degrades to an
// empty candidate list; the orchestrator decides what that means.
func (s *SearchStage) Run(ctx context.Context, query string) []Candidate {
	raw, err := s.backend.Search(ctx, query, s.cap)
	if err != nil {
		s.logger.Printf("backend search failed: %v", err)
		return nil
	}
	return dedupeCandidates(raw, s.cap)
}

// dedupeCandidates drops entries without a URL, keeps the first occurrence
// per exact URL and truncates to max. Order is first-seen order.
func dedupeCandidates(in []Candidate, max int) []Candidate {
	seen := make(map[string]struct{}, len(in))
	var out []Candidate
	for _, c := range in {
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
		if len(out) >= max {
			break
		}
	}
	return out
}

// SerperBackend queries the Serper web search API.
type SerperBackend struct {
	APIKey string
	http   *HTTPClient
}

func (b *SerperBackend) Search(ctx context.Context, q string, max int) ([]Candidate, error) {
	payload := map[string]any{"q": q, "num": max}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": b.APIKey}
	if err := b.http.DoJSON(ctx, "POST", "https://google.serper.dev/search", headers, payload, &raw); err != nil {
		return nil, err
	}
	var out []Candidate
	for _, r := range raw.Organic {
		out = append(out, Candidate{URL: r.Link, Title: r.Title, Snippet: r.Snippet})
	}
	return out, nil
}

// BraveBackend queries the Brave web search API.
type BraveBackend struct {
	APIKey string
	http   *HTTPClient
}

func (b *BraveBackend) Search(ctx context.Context, q string, max int) ([]Candidate, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(q), max)
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"Accept": "application/json", "X-Subscription-Token": b.APIKey}
	if err := b.http.DoJSON(ctx, "GET", endpoint, headers, nil, &raw); err != nil {
		return nil, err
	}
	var out []Candidate
	for _, r := range raw.Web.Results {
		out = append(out, Candidate{URL: r.URL, Title: r.Title, Snippet: r.Snippet})
	}
	return out, nil
}

// CrawlerBackend queries a hosted crawl/search API whose response shape is
// not fixed: the result list may sit at the top level or under "results" or
// "data", and field names vary per deployment.
type CrawlerBackend struct {
	BaseURL string
	APIKey  string
	http    *HTTPClient
}

func (b *CrawlerBackend) Search(ctx context.Context, q string, max int) ([]Candidate, error) {
	payload := map[string]any{"query": q, "limit": max}
	headers := map[string]string{}
	if b.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.APIKey
	}
	var raw json.RawMessage
	if err := b.http.DoJSON(ctx, "POST", strings.TrimRight(b.BaseURL, "/")+"/search", headers, payload, &raw); err != nil {
		return nil, err
	}
	return normalizeSearchResponse(raw), nil
}

// normalizeSearchResponse decodes one of the known wire shapes. Absence of a
// recognizable array is treated as an empty result, never an error.
func normalizeSearchResponse(raw json.RawMessage) []Candidate {
	items := resultArray(raw)
	var out []Candidate
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		c := Candidate{
			URL:     firstString(m, "url", "link", "href"),
			Title:   firstString(m, "title", "name", "heading"),
			Snippet: firstString(m, "snippet", "description", "summary"),
		}
		if c.URL == "" {
			if meta, ok := m["metadata"].(map[string]any); ok {
				c.URL = firstString(meta, "url", "link", "href")
				if c.Title == "" {
					c.Title = firstString(meta, "title")
				}
			}
		}
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func resultArray(raw json.RawMessage) []any {
	var top []any
	if err := json.Unmarshal(raw, &top); err == nil {
		return top
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	for _, key := range []string{"results", "data"} {
		if v, ok := obj[key]; ok {
			var arr []any
			if err := json.Unmarshal(v, &arr); err == nil {
				return arr
			}
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
