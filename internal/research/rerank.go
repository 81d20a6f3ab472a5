package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// RerankStage asks an LLM to order candidates by relevance, authority and
// recency. Any failure degrades deterministically to identity truncation.
type RerankStage struct {
	provider LLMProvider
	model    string
	logger   *log.Logger
}

func NewRerankStage(provider LLMProvider, model string) *RerankStage {
	return &RerankStage{
		provider: provider,
		model:    model,
		logger:   log.New(log.Writer(), "[RERANK] ", log.LstdFlags),
	}
}

const rerankPromptTemplate = `You are a search result reranker for a research assistant.
Given the task query and the candidate results below, score each candidate 0..1
for relevance, authority and recency, and return the best %d.

QUERY: %s

CANDIDATES:
%s

Respond ONLY with strict JSON of the shape:
{"ranked": [{"url": string, "score": number 0..1, "reason": string}]}
sorted by score descending, at most %d entries. No other text.`

// Run reranks candidates and returns at most topN entries. The model's
// ordering is trusted as already sorted; on invalid output the stage falls
// back to candidates[:topN] with a neutral score. The fallback is a degrade
// path, not an error.
func (s *RerankStage) Run(ctx context.Context, query string, candidates []Candidate, topN int) []RankedCandidate {
	if len(candidates) == 0 {
		return nil
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	listing := &strings.Builder{}
	for i, c := range candidates {
		fmt.Fprintf(listing, "%d. %s\n   url: %s\n   snippet: %s\n", i+1, c.Title, c.URL, c.Snippet)
	}
	prompt := fmt.Sprintf(rerankPromptTemplate, topN, query, listing.String(), topN)

	out, err := s.provider.Generate(ctx, prompt, s.model, map[string]interface{}{"temperature": 0.1, "max_tokens": 1200})
	if err != nil {
		s.logger.Printf("rerank model call failed, using baseline order: %v", err)
		return baselineRank(candidates, topN)
	}

	var parsed struct {
		Ranked []struct {
			URL    string  `json:"url"`
			Score  float64 `json:"score"`
			Reason string  `json:"reason"`
		} `json:"ranked"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil || len(parsed.Ranked) == 0 {
		s.logger.Printf("rerank output unparseable, using baseline order")
		return baselineRank(candidates, topN)
	}

	byURL := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byURL[c.URL] = c
	}
	var out2 []RankedCandidate
	for _, r := range parsed.Ranked {
		if len(out2) >= topN {
			break
		}
		c, ok := byURL[r.URL]
		if !ok {
			continue
		}
		out2 = append(out2, RankedCandidate{Candidate: c, Score: r.Score, Reason: r.Reason})
	}
	if len(out2) == 0 {
		return baselineRank(candidates, topN)
	}
	return out2
}

// baselineRank is identity truncation with a neutral placeholder score.
func baselineRank(candidates []Candidate, topN int) []RankedCandidate {
	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]RankedCandidate, 0, topN)
	for _, c := range candidates[:topN] {
		out = append(out, RankedCandidate{Candidate: c, Score: 0.5, Reason: "baseline"})
	}
	return out
}

// extractFirstJSON finds the first top-level JSON object in a string,
// tolerating prose the model wraps around it.
func extractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
