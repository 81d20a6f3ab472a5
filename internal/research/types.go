package research

import (
	"context"
	"time"
)

// Candidate is a single normalized web search result.
type Candidate struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// RankedCandidate is a candidate with a model-assigned relevance score.
type RankedCandidate struct {
	Candidate
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// SourceDocument is the scraped content for a single URL, truncated to the
// stage's character budget.
type SourceDocument struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Date  string `json:"date,omitempty"` // ISO-8601 when the backend reports one
}

// EventType tags a stream event.
type EventType string

const (
	EventStatus EventType = "status"
	EventText   EventType = "text"
	EventTool   EventType = "tool"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event is one element of a research stream. Done is always last on success;
// Error is terminal wherever it appears.
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// StatusEvent reports a lifecycle milestone such as a stage transition.
func StatusEvent(stage string) Event {
	return Event{Type: EventStatus, Payload: map[string]interface{}{"stage": stage}}
}

// TextEvent carries an incremental content delta.
func TextEvent(delta string) Event {
	return Event{Type: EventText, Payload: map[string]interface{}{"delta": delta}}
}

// ToolEvent reports a tool invocation lifecycle step. Args and output are
// truncated by the relay before framing.
func ToolEvent(phase, name string, detail map[string]interface{}) Event {
	p := map[string]interface{}{"phase": phase, "name": name}
	for k, v := range detail {
		p[k] = v
	}
	return Event{Type: EventTool, Payload: p}
}

// ErrorEvent carries a terminal stream error.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: map[string]interface{}{"message": err.Error()}}
}

// DoneEvent closes a stream, optionally with summary stats.
func DoneEvent(stats map[string]interface{}) Event {
	if stats == nil {
		stats = map[string]interface{}{}
	}
	return Event{Type: EventDone, Payload: stats}
}

// Stage names for status events and run state tracking.
const (
	StageIdle         = "idle"
	StageSearching    = "searching"
	StageReranking    = "reranking"
	StageScraping     = "scraping"
	StageSynthesizing = "synthesizing"
	StageDone         = "done"
	StageErrored      = "errored"
)

// RunResult is the buffered outcome of a pipeline invocation for
// non-streaming callers.
type RunResult struct {
	ID         string           `json:"id"`
	Query      string           `json:"query"`
	Preset     string           `json:"preset"`
	Brief      string           `json:"brief"`
	Sources    []SourceDocument `json:"sources"`
	Candidates int              `json:"candidates"`
	TokensUsed int64            `json:"tokens_used"`
	Cost       float64          `json:"cost_estimate"`
	Duration   time.Duration    `json:"duration"`
	CreatedAt  time.Time        `json:"created_at"`
}

// LLMProvider is the contract the rerank and synthesis stages depend on.
type LLMProvider interface {
	// Generate produces a full completion for the prompt.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens produces a completion and reports token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GenerateStream produces a streaming completion, invoking onDelta for
	// each text chunk as it arrives. Partial output already delivered is not
	// retracted on error.
	GenerateStream(ctx context.Context, system, prompt string, model string, options map[string]interface{}, onDelta func(delta string) error) (int64, int64, error)

	// CalculateCost converts token usage into an estimated dollar cost.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// SearchBackend issues one web search query and returns raw candidates.
// Implementations normalize backend-specific wire shapes.
type SearchBackend interface {
	Search(ctx context.Context, query string, max int) ([]Candidate, error)
}

// Fetcher retrieves and extracts the content of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (SourceDocument, error)
}
