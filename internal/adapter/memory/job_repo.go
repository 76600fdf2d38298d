package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

type record struct {
	mu  sync.RWMutex
	job *domain.GenerationJob
}

// JobRepository keeps jobs in process memory. The table lock only guards the
// index; each record carries its own read/write guard so unrelated jobs never
// contend.
type JobRepository struct {
	mu      sync.RWMutex
	records map[string]*record
	handles map[string]string
	now     func() time.Time
}

// NewJobRepository creates an empty in-memory repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{
		records: make(map[string]*record),
		handles: make(map[string]string),
		now:     time.Now,
	}
}

func handleKey(provider, handle string) string {
	return strings.ToLower(provider) + "|" + handle
}

// Create stores a copy of job. Duplicate ids are rejected.
func (r *JobRepository) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("memory: create job: %w", domain.ErrInvalidJob)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := job.Clone()
	if stored.Status == "" {
		stored.Status = domain.JobStatusPending
	}
	now := r.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[stored.ID]; exists {
		return fmt.Errorf("memory: job %s already exists: %w", stored.ID, domain.ErrInvalidJob)
	}
	r.records[stored.ID] = &record{job: stored}
	if stored.ProviderHandle != "" {
		r.handles[handleKey(stored.ProviderUsed, stored.ProviderHandle)] = stored.ID
	}
	return nil
}

func (r *JobRepository) lookup(jobID string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.records[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Get returns a snapshot of the job.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.job.Clone(), nil
}

// FindByProviderHandle resolves a job from the remote task id a provider returned.
func (r *JobRepository) FindByProviderHandle(ctx context.Context, provider, handle string) (*domain.GenerationJob, error) {
	r.mu.RLock()
	jobID, ok := r.handles[handleKey(provider, handle)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, jobID)
}

// MarkDispatched records the accepting provider and moves the job to dispatched.
func (r *JobRepository) MarkDispatched(ctx context.Context, jobID, provider, handle string, attempts int) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if !rec.job.Status.CanTransition(domain.JobStatusDispatched) {
		status := rec.job.Status
		rec.mu.Unlock()
		return fmt.Errorf("memory: job %s %s -> %s: %w", jobID, status, domain.JobStatusDispatched, domain.ErrInvalidTransition)
	}
	rec.job.Status = domain.JobStatusDispatched
	rec.job.ProviderUsed = provider
	rec.job.ProviderHandle = handle
	rec.job.Attempt = attempts
	rec.job.ErrorMessage = ""
	rec.job.UpdatedAt = r.now()
	rec.mu.Unlock()

	if handle != "" {
		r.mu.Lock()
		r.handles[handleKey(provider, handle)] = jobID
		r.mu.Unlock()
	}
	return nil
}

// RecordDispatchFailure stores the attempt count and last failure reason of a
// job that no provider accepted. The status is left untouched.
func (r *JobRepository) RecordDispatchFailure(ctx context.Context, jobID string, attempts int, reason string) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.job.Attempt = attempts
	rec.job.ErrorMessage = reason
	rec.job.UpdatedAt = r.now()
	return nil
}

// Complete applies the terminal transition exactly once per job.
func (r *JobRepository) Complete(ctx context.Context, completion domain.NormalizedCompletion) (*domain.GenerationJob, bool, error) {
	rec, err := r.lookup(completion.JobID)
	if err != nil {
		return nil, false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.IsTerminal() {
		return rec.job.Clone(), false, nil
	}
	rec.job.Status = completion.Outcome.Status()
	rec.job.VideoURL = completion.VideoURL
	rec.job.ThumbnailURL = completion.ThumbnailURL
	rec.job.ErrorMessage = completion.ErrorMessage
	if rec.job.ProviderUsed == "" {
		rec.job.ProviderUsed = completion.Provider
	}
	rec.job.UpdatedAt = r.now()
	return rec.job.Clone(), true, nil
}

var _ domain.JobRepository = (*JobRepository)(nil)
