package index

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfhq/alf/internal/research"
)

func TestIndexRunAndSearch(t *testing.T) {
	st := NewStore(time.Hour)
	docs := []research.SourceDocument{
		{URL: "https://go.dev/blog", Title: "Go Blog", Text: "The Go programming language makes concurrency simple with goroutines and channels."},
		{URL: "https://rust-lang.org", Title: "Rust", Text: "Rust is a systems programming language focused on memory safety."},
	}
	if err := st.IndexRun("run-1", docs); err != nil {
		t.Fatalf("IndexRun: %v", err)
	}

	hits, err := st.Search("run-1", "goroutines", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].URL != "https://go.dev/blog" {
		t.Fatalf("wrong top hit: %+v", hits[0])
	}
	if hits[0].Rank != 1 || hits[0].Score <= 0 {
		t.Fatalf("hit metadata missing: %+v", hits[0])
	}
}

func TestSearchUnknownRun(t *testing.T) {
	st := NewStore(time.Hour)
	if _, err := st.Search("nope", "q", 5); !errors.Is(err, ErrRunNotIndexed) {
		t.Fatalf("expected ErrRunNotIndexed, got %v", err)
	}
}

func TestIndexRunReplacesPrevious(t *testing.T) {
	st := NewStore(time.Hour)
	first := []research.SourceDocument{{URL: "https://a.com", Text: "alpha beta gamma"}}
	second := []research.SourceDocument{{URL: "https://b.com", Text: "delta epsilon zeta"}}
	if err := st.IndexRun("run-1", first); err != nil {
		t.Fatalf("IndexRun: %v", err)
	}
	if err := st.IndexRun("run-1", second); err != nil {
		t.Fatalf("IndexRun: %v", err)
	}
	if hits, _ := st.Search("run-1", "alpha", 5); len(hits) != 0 {
		t.Fatalf("old index must be replaced, got %+v", hits)
	}
	hits, err := st.Search("run-1", "delta", 5)
	if err != nil || len(hits) == 0 {
		t.Fatalf("new index must serve, hits=%v err=%v", hits, err)
	}
}

func TestMakeChunksOverlap(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := makeChunks(text, 1000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 1000 {
		t.Fatalf("chunk size %d", len(chunks[0]))
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	// 200 bytes of overlap between consecutive chunks
	if total != 2500+2*200 {
		t.Fatalf("overlap not applied, total %d", total)
	}
	if got := makeChunks("short", 1000, 200); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short input must be a single chunk: %v", got)
	}
	if got := makeChunks("   ", 1000, 200); got != nil {
		t.Fatalf("blank input must produce no chunks")
	}
}
