package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfhq/alf/config"
	"github.com/alfhq/alf/internal/telemetry"
)

var orchestratorTracer trace.Tracer = otel.Tracer("alf/internal/research/orchestrator")

// Preset is a configuration variant of the fixed pipeline: same stages,
// different models, budgets and system prompt.
type Preset struct {
	Name           string
	TopN           int
	RerankModel    string
	SynthesisModel string
	SystemPrompt   string
	Deadline       time.Duration
	MaxChars       int
}

// Orchestrator sequences Search -> Rerank -> Scrape -> Synthesize and emits
// the combined event stream. Stage instances are constructed per invocation
// from the preset; nothing is shared mutable state across requests.
type Orchestrator struct {
	cfg       *config.Config
	search    *SearchStage
	fetcher   Fetcher
	provider  LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	presets   map[string]Preset
}

// NewOrchestrator wires the pipeline from configuration.
func NewOrchestrator(cfg *config.Config, search *SearchStage, fetcher Fetcher, provider LLMProvider, tele *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	o := &Orchestrator{
		cfg:       cfg,
		search:    search,
		fetcher:   fetcher,
		provider:  provider,
		telemetry: tele,
		logger:    logger,
	}
	o.presets = defaultPresets(cfg)
	return o
}

func defaultPresets(cfg *config.Config) map[string]Preset {
	rerankModel := cfg.LLM.Routing.Rerank
	if rerankModel == "" {
		rerankModel = cfg.LLM.Routing.Fallback
	}
	synthModel := cfg.LLM.Routing.Synthesis
	if synthModel == "" {
		synthModel = cfg.LLM.Routing.Fallback
	}
	topN := cfg.Pipeline.TopN
	if topN <= 0 {
		topN = 8
	}
	deadline := cfg.Pipeline.Deadline
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	maxChars := cfg.Scrape.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	return map[string]Preset{
		"default": {Name: "default", TopN: topN, RerankModel: rerankModel, SynthesisModel: synthModel, Deadline: deadline, MaxChars: maxChars},
		"quick":   {Name: "quick", TopN: min(topN, 4), RerankModel: rerankModel, SynthesisModel: synthModel, Deadline: deadline / 2, MaxChars: maxChars / 2},
		"thorough": {
			Name: "thorough", TopN: topN * 2, RerankModel: rerankModel, SynthesisModel: synthModel,
			Deadline: deadline * 2, MaxChars: maxChars,
		},
	}
}

// Preset resolves a preset by name, falling back to "default".
func (o *Orchestrator) Preset(name string) Preset {
	if p, ok := o.presets[strings.TrimSpace(name)]; ok {
		return p
	}
	return o.presets["default"]
}

// Run executes the pipeline and streams events. The returned channel is
// closed after the terminal event (done or error). Cancelling ctx aborts all
// in-flight upstream calls.
func (o *Orchestrator) Run(ctx context.Context, query string, preset Preset) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		runCtx, cancel := context.WithTimeout(ctx, preset.Deadline)
		defer cancel()

		runCtx, span := orchestratorTracer.Start(runCtx, "research.run",
			trace.WithAttributes(
				attribute.String("research.preset", preset.Name),
				attribute.Int("research.top_n", preset.TopN),
			))
		defer span.End()

		// Emission stops only when the caller goes away; the run deadline
		// cancels upstream work but the terminal event must still go out.
		emit := func(ev Event) bool {
			select {
			case out <- ev:
				o.telemetry.RecordEvent(string(ev.Type))
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(StatusEvent("started")) {
			return
		}

		// Search
		if !emit(StatusEvent(StageSearching)) {
			return
		}
		candidates := o.runSearch(runCtx, query, emit)

		// Rerank + Scrape only when there is something to work with; zero
		// candidates degrade to synthesis from background knowledge.
		var sources []SourceDocument
		if len(candidates) > 0 {
			if !emit(StatusEvent(StageReranking)) {
				return
			}
			ranked := o.runRerank(runCtx, query, candidates, preset, emit)

			if !emit(StatusEvent(StageScraping)) {
				return
			}
			sources = o.runScrape(runCtx, ranked, preset, emit)
		} else {
			o.logger.Printf("no candidates for %q, proceeding without sources", query)
		}

		// Synthesis
		if !emit(StatusEvent(StageSynthesizing)) {
			return
		}
		synthStart := time.Now()
		synth := NewSynthesisStage(o.provider, preset.SynthesisModel, preset.SystemPrompt, preset.MaxChars)
		failed := false
		terminal := false
		var brief strings.Builder
		for ev := range synth.Run(runCtx, query, sources) {
			if ev.Type == EventText {
				if delta, ok := ev.Payload["delta"].(string); ok {
					brief.WriteString(delta)
				}
			}
			if ev.Type == EventError {
				failed = true
			}
			if ev.Type == EventError || ev.Type == EventDone {
				terminal = true
			}
			if ev.Type == EventDone {
				// models occasionally skip the sources table they were asked for
				if table := missingSourcesTable(brief.String(), sources); table != "" {
					if !emit(TextEvent(table)) {
						return
					}
				}
				ev.Payload["candidates"] = len(candidates)
				// full documents; relays strip bodies before the wire
				ev.Payload["source_documents"] = sources
				if tokens, ok := ev.Payload["tokens_used"].(int64); ok {
					cost, _ := ev.Payload["cost_estimate"].(float64)
					o.telemetry.AddUsage(tokens, cost)
				}
			}
			if !emit(ev) {
				return
			}
		}
		o.telemetry.ObserveStage(StageSynthesizing, time.Since(synthStart))

		// The stage can lose its terminal event racing deadline expiry.
		if !terminal {
			err := runCtx.Err()
			if err == nil {
				err = errors.New("synthesis ended without result")
			}
			failed = true
			emit(ErrorEvent(err))
		}

		if failed {
			o.telemetry.RecordRun(StageErrored)
			span.SetStatus(codes.Error, "synthesis failed")
			return
		}
		o.telemetry.RecordRun(StageDone)
		span.SetStatus(codes.Ok, "completed")
	}()
	return out
}

// missingSourcesTable returns a sources-table delta to append when the brief
// cites nothing, or "" when the model already rendered one.
func missingSourcesTable(brief string, sources []SourceDocument) string {
	if len(sources) == 0 {
		return ""
	}
	lower := strings.ToLower(brief)
	if strings.Contains(lower, "| # |") || strings.Contains(lower, "## sources") {
		return ""
	}
	return "\n\n## Sources\n\n" + FormatSourcesTable(sources)
}

func (o *Orchestrator) runSearch(ctx context.Context, query string, emit func(Event) bool) []Candidate {
	ctx, span := orchestratorTracer.Start(ctx, "research.search")
	defer span.End()
	start := time.Now()

	emit(ToolEvent("call", "web_search", map[string]interface{}{"args": query}))
	candidates := o.search.Run(ctx, query)
	emit(ToolEvent("output", "web_search", map[string]interface{}{"output": fmt.Sprintf("%d candidates", len(candidates))}))

	o.telemetry.ObserveStage(StageSearching, time.Since(start))
	span.SetAttributes(attribute.Int("search.candidates", len(candidates)))
	return candidates
}

func (o *Orchestrator) runRerank(ctx context.Context, query string, candidates []Candidate, preset Preset, emit func(Event) bool) []RankedCandidate {
	ctx, span := orchestratorTracer.Start(ctx, "research.rerank")
	defer span.End()
	start := time.Now()

	emit(ToolEvent("call", "rerank", map[string]interface{}{"args": fmt.Sprintf("%d candidates, top %d", len(candidates), preset.TopN)}))
	ranked := NewRerankStage(o.provider, preset.RerankModel).Run(ctx, query, candidates, preset.TopN)
	emit(ToolEvent("output", "rerank", map[string]interface{}{"output": fmt.Sprintf("%d selected", len(ranked))}))

	o.telemetry.ObserveStage(StageReranking, time.Since(start))
	span.SetAttributes(attribute.Int("rerank.selected", len(ranked)))
	return ranked
}

func (o *Orchestrator) runScrape(ctx context.Context, ranked []RankedCandidate, preset Preset, emit func(Event) bool) []SourceDocument {
	ctx, span := orchestratorTracer.Start(ctx, "research.scrape")
	defer span.End()
	start := time.Now()

	urls := make([]string, 0, len(ranked))
	for _, r := range ranked {
		urls = append(urls, r.URL)
	}
	emit(ToolEvent("call", "scrape", map[string]interface{}{"args": strings.Join(urls, " ")}))
	sources := NewScrapeStage(o.fetcher, preset.MaxChars, o.cfg.Scrape.Concurrency).Many(ctx, urls)
	emit(ToolEvent("output", "scrape", map[string]interface{}{"output": fmt.Sprintf("%d of %d scraped", len(sources), len(urls))}))

	// scraped documents keep the search result title when extraction found none
	byURL := make(map[string]RankedCandidate, len(ranked))
	for _, r := range ranked {
		byURL[r.URL] = r
	}
	for i := range sources {
		if sources[i].Title == "" {
			sources[i].Title = byURL[sources[i].URL].Title
		}
	}

	o.telemetry.ObserveStage(StageScraping, time.Since(start))
	span.SetAttributes(attribute.Int("scrape.documents", len(sources)))
	return sources
}

// RunSync buffers the stream for non-streaming callers. The error return is
// non-nil only for terminal pipeline failure.
func (o *Orchestrator) RunSync(ctx context.Context, query string, preset Preset) (RunResult, error) {
	start := time.Now()
	result := RunResult{
		ID:        uuid.NewString(),
		Query:     query,
		Preset:    preset.Name,
		CreatedAt: start,
	}

	var brief strings.Builder
	var streamErr error
	for ev := range o.Run(ctx, query, preset) {
		switch ev.Type {
		case EventText:
			if delta, ok := ev.Payload["delta"].(string); ok {
				brief.WriteString(delta)
			}
		case EventError:
			if msg, ok := ev.Payload["message"].(string); ok {
				streamErr = errors.New(msg)
			} else {
				streamErr = errors.New("pipeline failed")
			}
		case EventDone:
			if n, ok := ev.Payload["candidates"].(int); ok {
				result.Candidates = n
			}
			if docs, ok := ev.Payload["source_documents"].([]SourceDocument); ok {
				result.Sources = docs
			}
			if tokens, ok := ev.Payload["tokens_used"].(int64); ok {
				result.TokensUsed = tokens
			}
			if cost, ok := ev.Payload["cost_estimate"].(float64); ok {
				result.Cost = cost
			}
		}
	}
	result.Brief = brief.String()
	result.Duration = time.Since(start)
	if streamErr != nil && result.Brief == "" {
		return result, streamErr
	}
	return result, nil
}

