package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

func newJob(id string) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:        id,
		ListingID: "listing-1",
		Input:     domain.JobInput{Prompt: "living room", ImageURLs: []string{"https://img.example.com/1.jpg"}},
	}
}

func TestJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	require.NoError(t, repo.MarkDispatched(ctx, "job-1", "veo", "operations/1", 1))
	found, err := repo.FindByProviderHandle(ctx, "VEO", "operations/1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", found.ID)
	assert.Equal(t, domain.JobStatusDispatched, found.Status)

	done, applied, err := repo.Complete(ctx, domain.NormalizedCompletion{JobID: "job-1", Outcome: domain.OutcomeSucceeded, VideoURL: "https://cdn.example.com/1.mp4"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusSucceeded, done.Status)

	again, applied, err := repo.Complete(ctx, domain.NormalizedCompletion{JobID: "job-1", Outcome: domain.OutcomeFailed, ErrorMessage: "late"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusSucceeded, again.Status)
	assert.Equal(t, "https://cdn.example.com/1.mp4", again.VideoURL)

	err = repo.MarkDispatched(ctx, "job-1", "wan", "task", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobRepositoryRejectsDuplicatesAndMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	assert.ErrorIs(t, repo.Create(ctx, newJob("job-1")), domain.ErrInvalidJob)
	assert.ErrorIs(t, repo.Create(ctx, &domain.GenerationJob{}), domain.ErrInvalidJob)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = repo.Complete(ctx, domain.NormalizedCompletion{JobID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepositoryRecordDispatchFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	require.NoError(t, repo.RecordDispatchFailure(ctx, "job-1", 3, "wan: PROVIDER_DISPATCH_FAILED"))
	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, "wan: PROVIDER_DISPATCH_FAILED", job.ErrorMessage)
}

func TestJobRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	job := newJob("job-1")
	require.NoError(t, repo.Create(ctx, job))
	job.Input.ImageURLs[0] = "mutated"

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/1.jpg", got.Input.ImageURLs[0])

	got.Status = domain.JobStatusFailed
	fresh, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, fresh.Status)
}

func TestJobRepositoryConcurrentCompleteAppliesOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applies int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := repo.Complete(ctx, domain.NormalizedCompletion{JobID: "job-1", Outcome: domain.OutcomeSucceeded, VideoURL: "https://cdn.example.com/1.mp4"})
			if err == nil && applied {
				mu.Lock()
				applies++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applies)
}
