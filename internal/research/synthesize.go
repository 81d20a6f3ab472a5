package research

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// DefaultSystemPrompt describes the required brief structure.
const DefaultSystemPrompt = `You are a research analyst writing a sourced brief.
Structure the answer as markdown with exactly these sections:
1. A "TL;DR" paragraph of at most three sentences.
2. A bullet list of the key findings.
3. A narrative section expanding on the findings.
4. A "Sources" table with columns: index, title, url.
Cite sources inline with numeric markers like [1], [2] matching the table.
If no sources are provided, answer from background knowledge and say so.`

// SynthesisStage feeds the query and collected source documents into a
// streaming model call and yields text deltas as events.
type SynthesisStage struct {
	provider     LLMProvider
	model        string
	systemPrompt string
	perDocChars  int
	logger       *log.Logger
}

func NewSynthesisStage(provider LLMProvider, model, systemPrompt string, perDocChars int) *SynthesisStage {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if perDocChars <= 0 {
		perDocChars = 6000
	}
	return &SynthesisStage{
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		perDocChars:  perDocChars,
		logger:       log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

// Run streams the brief into the returned channel. The sequence is lazy,
// single-pass and non-restartable. Failure before the first token yields a
// single error event; mid-stream failure preserves the partial output and
// appends an error event. On success the last event is done.
func (s *SynthesisStage) Run(ctx context.Context, query string, sources []SourceDocument) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		prompt := s.buildPrompt(query, sources)
		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		inTok, outTok, err := s.provider.GenerateStream(ctx, s.systemPrompt, prompt, s.model, map[string]interface{}{"temperature": 0.3}, func(delta string) error {
			if !emit(TextEvent(delta)) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			s.logger.Printf("synthesis stream failed: %v", err)
			emit(ErrorEvent(err))
			return
		}
		emit(DoneEvent(map[string]interface{}{
			"sources":       len(sources),
			"tokens_used":   inTok + outTok,
			"cost_estimate": s.provider.CalculateCost(inTok, outTok, s.model),
		}))
	}()
	return out
}

// buildPrompt serializes the task and the (already truncated) documents.
// Each document is clamped again so prompt growth stays bounded regardless
// of the caller's scrape budget.
func (s *SynthesisStage) buildPrompt(query string, sources []SourceDocument) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "TASK: %s\n\n", query)
	if len(sources) == 0 {
		b.WriteString("No source documents were collected. Answer from background knowledge.\n")
		return b.String()
	}
	b.WriteString("SOURCE DOCUMENTS:\n")
	for i, doc := range sources {
		fmt.Fprintf(b, "[%d] %s\nurl: %s\n", i+1, doc.Title, doc.URL)
		if doc.Date != "" {
			fmt.Fprintf(b, "date: %s\n", doc.Date)
		}
		fmt.Fprintf(b, "%s\n\n", Truncate(doc.Text, s.perDocChars))
	}
	return b.String()
}
