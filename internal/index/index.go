// Package index keeps an in-memory BM25 index of the source documents
// gathered by each research run, so clients can search inside a finished
// run's evidence without re-fetching anything.
package index

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/alfhq/alf/internal/research"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// ErrRunNotIndexed is returned when a run id has no index, either because
// the run never completed or its index expired.
var ErrRunNotIndexed = errors.New("run not indexed")

// DocChunk is one indexed slice of a source document.
type DocChunk struct {
	DocID string `json:"doc_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Hit is a single search result within a run's sources.
type Hit struct {
	DocID   string  `json:"doc_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type runIndex struct {
	bleve     bleve.Index
	meta      map[string]DocChunk
	expiresAt time.Time
}

func (r *runIndex) search(q string, k int) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := r.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for i, hit := range res.Hits {
		chunk := r.meta[hit.ID]
		out = append(out, Hit{
			DocID: hit.ID, URL: chunk.URL, Title: chunk.Title,
			Snippet: snippet(chunk.Text),
			Score:   hit.Score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Store maps run ids to their source indexes. Indexes are memory-only and
// expire after the configured TTL.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*runIndex
	ttl  time.Duration
}

// NewStore builds an empty store. ttl <= 0 defaults to 24h.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{runs: make(map[string]*runIndex), ttl: ttl}
}

// IndexRun chunks and indexes the documents of a completed run, replacing
// any previous index for the same id.
func (s *Store) IndexRun(runID string, docs []research.SourceDocument) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	run := &runIndex{
		bleve:     idx,
		meta:      make(map[string]DocChunk),
		expiresAt: time.Now().Add(s.ttl),
	}
	for _, doc := range docs {
		for i, text := range makeChunks(doc.Text, chunkSize, chunkOverlap) {
			chunk := DocChunk{
				DocID: chunkID(doc.URL, i),
				URL:   doc.URL,
				Title: doc.Title,
				Text:  text,
			}
			run.meta[chunk.DocID] = chunk
			if err := run.bleve.Index(chunk.DocID, chunk); err != nil {
				return err
			}
		}
	}
	s.mu.Lock()
	s.runs[runID] = run
	s.prune()
	s.mu.Unlock()
	return nil
}

// Search queries one run's sources.
func (s *Store) Search(runID, q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok || time.Now().After(run.expiresAt) {
		return nil, ErrRunNotIndexed
	}
	return run.search(q, k)
}

// prune is called with the write lock held.
func (s *Store) prune() {
	now := time.Now()
	for id, run := range s.runs {
		if now.After(run.expiresAt) {
			delete(s.runs, id)
		}
	}
}

func chunkID(url string, i int) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:]) + "-" + strconv.Itoa(i)
}

func makeChunks(s string, approx, overlap int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if len(s) <= approx {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(s); {
		end := start + approx
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[start:end])
		if end == len(s) {
			break
		}
		start = end - overlap
	}
	return out
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
