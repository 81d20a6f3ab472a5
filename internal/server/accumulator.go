package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/alfhq/alf/internal/research"
)

// runAccumulator watches the event stream on its way to the client and
// rebuilds the run record for persistence.
type runAccumulator struct {
	id      string
	query   string
	preset  string
	started time.Time

	brief      []byte
	sources    []research.SourceDocument
	candidates int
	tokens     int64
	cost       float64
	done       bool
	failed     bool
}

func newRunAccumulator(query, preset string) *runAccumulator {
	return &runAccumulator{
		id:      uuid.NewString(),
		query:   query,
		preset:  preset,
		started: time.Now().UTC(),
	}
}

func (a *runAccumulator) observe(ev research.Event) {
	switch ev.Type {
	case research.EventText:
		if delta, ok := ev.Payload["delta"].(string); ok {
			a.brief = append(a.brief, delta...)
		}
	case research.EventError:
		a.failed = true
	case research.EventDone:
		a.done = true
		if n, ok := ev.Payload["candidates"].(int); ok {
			a.candidates = n
		}
		if docs, ok := ev.Payload["source_documents"].([]research.SourceDocument); ok {
			a.sources = docs
		}
		if tokens, ok := ev.Payload["tokens_used"].(int64); ok {
			a.tokens = tokens
		}
		if cost, ok := ev.Payload["cost_estimate"].(float64); ok {
			a.cost = cost
		}
	}
}

func (a *runAccumulator) result() (research.RunResult, string, []research.SourceDocument) {
	status := research.StageDone
	if a.failed || !a.done {
		status = research.StageErrored
	}
	return research.RunResult{
		ID:         a.id,
		Query:      a.query,
		Preset:     a.preset,
		Brief:      string(a.brief),
		Candidates: a.candidates,
		TokensUsed: a.tokens,
		Cost:       a.cost,
		Duration:   time.Since(a.started),
		CreatedAt:  a.started,
	}, status, a.sources
}
