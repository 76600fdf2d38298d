package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Status
// transitions are conditional updates so the row lock serializes writers of
// one job without any cross-job locking.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new pending job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("repo: create job: %w", domain.ErrInvalidJob)
	}
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("repo: encode job input: %w", err)
	}
	status := job.Status
	if status == "" {
		status = domain.JobStatusPending
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertVideoJob, job.ID, job.ListingID, job.RoomID, input, string(status))
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("repo: insert job %s: %w", job.ID, err)
	}
	job.Status = status
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectVideoJob, jobID))
}

// FindByProviderHandle fetches the job a provider task id belongs to.
func (r *JobRepositoryPG) FindByProviderHandle(ctx context.Context, provider, handle string) (*domain.GenerationJob, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectVideoJobByHandle, provider, handle))
}

// MarkDispatched moves a pending job to dispatched.
func (r *JobRepositoryPG) MarkDispatched(ctx context.Context, jobID, provider, handle string, attempts int) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkVideoJobDispatched, jobID, provider, handle, attempts)
	if err != nil {
		return fmt.Errorf("repo: mark job %s dispatched: %w", jobID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("repo: job %s %s -> %s: %w", jobID, current.Status, domain.JobStatusDispatched, domain.ErrInvalidTransition)
}

// RecordDispatchFailure stores attempts and the last failure reason.
func (r *JobRepositoryPG) RecordDispatchFailure(ctx context.Context, jobID string, attempts int, reason string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QRecordVideoJobDispatchFailure, jobID, attempts, reason)
	if err != nil {
		return fmt.Errorf("repo: record dispatch failure for %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete applies the terminal transition; applied is false for a job that
// was already terminal.
func (r *JobRepositoryPG) Complete(ctx context.Context, c domain.NormalizedCompletion) (*domain.GenerationJob, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QCompleteVideoJob,
		c.JobID,
		string(c.Outcome.Status()),
		c.VideoURL,
		c.ThumbnailURL,
		c.ErrorMessage,
		c.Provider,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, true, nil
	}
	if err != domain.ErrNotFound {
		return nil, false, err
	}
	existing, err := r.Get(ctx, c.JobID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var (
		job                                  domain.GenerationJob
		roomID, providerUsed, providerHandle *string
		videoURL, thumbnailURL, errorMessage *string
		input                                []byte
		status                               string
	)
	if err := row.Scan(
		&job.ID,
		&job.ListingID,
		&roomID,
		&input,
		&status,
		&providerUsed,
		&providerHandle,
		&job.Attempt,
		&videoURL,
		&thumbnailURL,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, fmt.Errorf("repo: decode job input: %w", err)
		}
	}
	job.Status = domain.JobStatus(status)
	job.RoomID = deref(roomID)
	job.ProviderUsed = deref(providerUsed)
	job.ProviderHandle = deref(providerHandle)
	job.VideoURL = deref(videoURL)
	job.ThumbnailURL = deref(thumbnailURL)
	job.ErrorMessage = deref(errorMessage)
	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
