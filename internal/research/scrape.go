package research

import (
	"context"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ScrapeStage fetches full content for a batch of URLs with bounded fan-out.
// URLs succeed or fail independently; failed URLs are omitted from the
// result, never represented as empty documents.
type ScrapeStage struct {
	fetcher     Fetcher
	maxChars    int
	concurrency int
	logger      *log.Logger
}

func NewScrapeStage(fetcher Fetcher, maxChars, concurrency int) *ScrapeStage {
	if maxChars <= 0 {
		maxChars = 8000
	}
	if concurrency <= 0 {
		concurrency = 6
	}
	return &ScrapeStage{
		fetcher:     fetcher,
		maxChars:    maxChars,
		concurrency: concurrency,
		logger:      log.New(log.Writer(), "[SCRAPE] ", log.LstdFlags),
	}
}

// Many scrapes all URLs concurrently and returns the documents that
// succeeded, in input order. The batch never fails as a whole.
func (s *ScrapeStage) Many(ctx context.Context, urls []string) []SourceDocument {
	if len(urls) == 0 {
		return nil
	}

	docs := make([]*SourceDocument, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			doc, err := s.fetcher.Fetch(gctx, u)
			if err != nil {
				s.logger.Printf("scrape %s failed, skipping: %v", u, err)
				return nil
			}
			if strings.TrimSpace(doc.Text) == "" {
				s.logger.Printf("scrape %s returned no text, skipping", u)
				return nil
			}
			doc.Text = Truncate(doc.Text, s.maxChars)
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]SourceDocument, 0, len(urls))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// Truncate hard-cuts s to at most max bytes. No word-boundary logic; the
// operation is idempotent for a fixed budget.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
