package crawljobs

import (
	"context"
	"log"
	"time"

	"github.com/alfhq/alf/internal/research"
)

// Runner executes crawl jobs in the background using the pipeline's scrape
// stage. Each Enqueue spawns one goroutine; concurrency within a job is
// bounded by the scrape stage itself.
type Runner struct {
	store   Store
	scraper *research.ScrapeStage
	timeout time.Duration
	logger  *log.Logger
}

// NewRunner wires a runner. timeout bounds one whole job; <= 0 means 5m.
func NewRunner(store Store, scraper *research.ScrapeStage, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{
		store:   store,
		scraper: scraper,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[CRAWL] ", log.LstdFlags),
	}
}

// Enqueue registers a job and starts scraping it in the background. The
// returned job is in the pending state; poll the store for progress.
func (r *Runner) Enqueue(ctx context.Context, urls []string) (Job, error) {
	job := NewJob(urls)
	if err := r.store.Put(ctx, job); err != nil {
		return Job{}, err
	}
	go r.run(job)
	return job, nil
}

func (r *Runner) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	job.Status = StatusRunning
	if err := r.store.Put(ctx, job); err != nil {
		r.logger.Printf("job %s: status update failed: %v", job.ID, err)
	}

	docs := r.scraper.Many(ctx, job.URLs)
	job.Documents = make([]Document, 0, len(docs))
	for _, d := range docs {
		job.Documents = append(job.Documents, Document{URL: d.URL, Title: d.Title, Text: d.Text, Date: d.Date})
	}

	switch {
	case len(docs) == 0 && len(job.URLs) > 0:
		job.Status = StatusFailed
		job.Error = "no URLs could be scraped"
	default:
		job.Status = StatusCompleted
	}
	if err := r.store.Put(ctx, job); err != nil {
		r.logger.Printf("job %s: final update failed: %v", job.ID, err)
	}
	r.logger.Printf("job %s: %s (%d/%d documents)", job.ID, job.Status, len(docs), len(job.URLs))
}
