package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// fakeProvider scripts LLM behaviour for stage tests.
type fakeProvider struct {
	generateOut string
	generateErr error

	streamDeltas []string
	streamErr    error
	streamCalls  int
}

func (f *fakeProvider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	return f.generateOut, f.generateErr
}

func (f *fakeProvider) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	return f.generateOut, 10, 20, f.generateErr
}

func (f *fakeProvider) GenerateStream(ctx context.Context, system, prompt, model string, options map[string]interface{}, onDelta func(string) error) (int64, int64, error) {
	f.streamCalls++
	for _, d := range f.streamDeltas {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if err := onDelta(d); err != nil {
			return 0, 0, err
		}
	}
	if f.streamErr != nil {
		return 0, 0, f.streamErr
	}
	return 100, 50, nil
}

func (f *fakeProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return float64(inputTokens+outputTokens) / 1000 * 0.01
}

// fakeBackend returns a fixed candidate list.
type fakeBackend struct {
	candidates []Candidate
	err        error
}

func (f *fakeBackend) Search(ctx context.Context, query string, max int) ([]Candidate, error) {
	return f.candidates, f.err
}

// fakeFetcher scripts per-URL scrape outcomes. URLs listed in fail error out.
type fakeFetcher struct {
	fail map[string]bool
	text map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (SourceDocument, error) {
	if f.fail[url] {
		return SourceDocument{}, errors.New("fetch failed")
	}
	text := f.text[url]
	if text == "" {
		text = "content of " + url
	}
	return SourceDocument{URL: url, Title: "title " + url, Text: text}, nil
}

func makeCandidates(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Candidate{
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Title:   fmt.Sprintf("Result %d", i),
			Snippet: fmt.Sprintf("snippet %d", i),
		})
	}
	return out
}

func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		parts = append(parts, string(ev.Type))
	}
	return strings.Join(parts, ",")
}
