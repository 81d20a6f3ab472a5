package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/alfhq/alf/config"
	"github.com/alfhq/alf/internal/index"
	"github.com/alfhq/alf/internal/research"
	"github.com/alfhq/alf/internal/telemetry"
)

type stubBackend struct {
	candidates []research.Candidate
	err        error
}

func (s *stubBackend) Search(ctx context.Context, q string, max int) ([]research.Candidate, error) {
	return s.candidates, s.err
}

type stubFetcher struct {
	fail map[string]bool
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (research.SourceDocument, error) {
	if s.fail[url] {
		return research.SourceDocument{}, errors.New("fetch failed")
	}
	return research.SourceDocument{URL: url, Title: "t", Text: "body of " + url}, nil
}

type stubProvider struct {
	rankJSON  string
	deltas    []string
	streamErr error
}

func (s *stubProvider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	return s.rankJSON, nil
}

func (s *stubProvider) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	return s.rankJSON, 1, 1, nil
}

func (s *stubProvider) GenerateStream(ctx context.Context, system, prompt, model string, options map[string]interface{}, onDelta func(string) error) (int64, int64, error) {
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return 0, 0, err
		}
	}
	return 10, 5, s.streamErr
}

func (s *stubProvider) CalculateCost(in, out int64, model string) float64 { return 0 }

func testOrchestrator(provider research.LLMProvider, backend research.SearchBackend) *research.Orchestrator {
	cfg := &config.Config{
		LLM:      config.LLMConfig{Routing: config.LLMRoutingConfig{Rerank: "m", Synthesis: "m", Fallback: "m"}},
		Scrape:   config.ScrapeConfig{MaxChars: 8000, Concurrency: 2},
		Pipeline: config.PipelineConfig{TopN: 4, Deadline: 10 * time.Second},
	}
	return research.NewOrchestrator(cfg,
		research.NewSearchStageWithBackend(backend, 30),
		&stubFetcher{}, provider, telemetry.New(nil),
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags))
}

func testCandidates(n int) []research.Candidate {
	out := make([]research.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, research.Candidate{URL: fmt.Sprintf("https://example.com/%d", i), Title: fmt.Sprintf("R%d", i)})
	}
	return out
}

func newResearchHandler(orch *research.Orchestrator) *ResearchHandler {
	return &ResearchHandler{
		Orch:   orch,
		Index:  index.NewStore(time.Hour),
		Logger: log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

func TestResearchRejectsMissingQuery(t *testing.T) {
	h := newResearchHandler(testOrchestrator(&stubProvider{}, &stubBackend{}))
	e := echo.New()

	for _, body := range []string{`{}`, `{"query":"   "}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := h.research(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %v", body, err)
		}
	}
	// nothing was streamed
}

func TestResearchStreamsSSE(t *testing.T) {
	provider := &stubProvider{
		rankJSON: `{"ranked":[{"url":"https://example.com/0","score":0.9,"reason":"r"}]}`,
		deltas:   []string{"answer ", "text"},
	}
	h := newResearchHandler(testOrchestrator(provider, &stubBackend{candidates: testCandidates(3)}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"query":"what"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.research(c); err != nil {
		t.Fatalf("research: %v", err)
	}
	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	for _, want := range []string{"event: status", "event: text", "event: done", `"delta":"answer "`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in stream:\n%s", want, body)
		}
	}
	if strings.Contains(body, "body of https://example.com/0") {
		t.Fatalf("document bodies must not reach the wire")
	}
}

func TestResearchTextEndpoint(t *testing.T) {
	provider := &stubProvider{
		rankJSON: `{"ranked":[{"url":"https://example.com/0","score":0.9,"reason":"r"}]}`,
		deltas:   []string{"plain ", "answer"},
	}
	h := newResearchHandler(testOrchestrator(provider, &stubBackend{candidates: testCandidates(2)}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/research/text", strings.NewReader(`{"query":"what"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.researchText(c); err != nil {
		t.Fatalf("researchText: %v", err)
	}
	if got := rec.Body.String(); !strings.Contains(got, "plain answer") {
		t.Fatalf("text body %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
}

func TestResearchIndexesSourcesAfterRun(t *testing.T) {
	provider := &stubProvider{
		rankJSON: `{"ranked":[{"url":"https://example.com/0","score":0.9,"reason":"r"}]}`,
		deltas:   []string{"done"},
	}
	h := newResearchHandler(testOrchestrator(provider, &stubBackend{candidates: testCandidates(2)}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"query":"what"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.research(e.NewContext(req, rec)); err != nil {
		t.Fatalf("research: %v", err)
	}

	runID := runIDFromStream(t, rec.Body.String())
	hits, err := h.Index.Search(runID, "body", 5)
	if err != nil {
		t.Fatalf("run sources not indexed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected hits for scraped body")
	}
}

// runIDFromStream pulls run_id out of the done frame.
func runIDFromStream(t *testing.T, body string) string {
	t.Helper()
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(frame, "event: done") {
			continue
		}
		data := strings.TrimPrefix(strings.SplitN(frame, "\n", 2)[1], "data: ")
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			t.Fatalf("done frame: %v", err)
		}
		id, _ := payload["run_id"].(string)
		if id == "" {
			t.Fatalf("done frame missing run_id: %s", data)
		}
		return id
	}
	t.Fatalf("no done frame in stream:\n%s", body)
	return ""
}
