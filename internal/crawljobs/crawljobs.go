// Package crawljobs tracks asynchronous scrape batches. A job is a set of
// URLs fetched in the background; clients poll its status by id.
package crawljobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned for unknown or expired job ids.
var ErrNotFound = errors.New("crawl job not found")

// Document is one scraped page inside a job result.
type Document struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Date  string `json:"date,omitempty"`
}

// Job is the persisted state of one crawl batch.
type Job struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	URLs      []string   `json:"urls"`
	Documents []Document `json:"documents,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store persists job state across poll requests.
type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// NewJob builds a pending job for the given URLs.
func NewJob(urls []string) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		URLs:      urls,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MemoryStore keeps jobs in process memory, for single-node deployments
// and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (m *MemoryStore) Put(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}
