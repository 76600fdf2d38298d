package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladams7905/zencourt-sub009/internal/adapter/memory"
	"github.com/cladams7905/zencourt-sub009/internal/breaker"
	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
	"github.com/cladams7905/zencourt-sub009/internal/providers/video"
)

// fakeStrategy answers Dispatch from a per-job script; jobs without a script
// succeed.
type fakeStrategy struct {
	name      string
	canHandle func(job *domain.GenerationJob) bool
	fail      func(job *domain.GenerationJob, call int) error

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
}

func newFake(name string) *fakeStrategy {
	return &fakeStrategy{name: name, calls: make(map[string]int)}
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) CanHandle(job *domain.GenerationJob) bool {
	if f.canHandle == nil {
		return true
	}
	return f.canHandle(job)
}

func (f *fakeStrategy) Dispatch(ctx context.Context, job *domain.GenerationJob) (video.Handle, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[job.ID]++
	call := f.calls[job.ID]
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(job, call); err != nil {
			return video.Handle{}, err
		}
	}
	return video.Handle{Provider: f.name, RemoteID: f.name + "-" + job.ID}, nil
}

func (f *fakeStrategy) callsFor(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[jobID]
}

func unavailable(provider string) error {
	return domain.NewProviderError(provider, domain.CodeProviderDispatchFailed, 503, errors.New("unavailable"))
}

func seed(t *testing.T, repo *memory.JobRepository, ids ...string) []*domain.GenerationJob {
	t.Helper()
	jobs := make([]*domain.GenerationJob, 0, len(ids))
	for _, id := range ids {
		job := &domain.GenerationJob{ID: id, ListingID: "listing-1", Input: domain.JobInput{Prompt: "tour", AspectRatio: "16:9", DurationSeconds: 5}}
		require.NoError(t, repo.Create(context.Background(), job))
		jobs = append(jobs, job)
	}
	return jobs
}

func TestDispatchBatchFallsBackAlongChain(t *testing.T) {
	repo := memory.NewJobRepository()
	jobs := seed(t, repo, "job-1", "job-2", "job-3")

	a := newFake("a")
	a.fail = func(job *domain.GenerationJob, _ int) error {
		if job.ID == "job-1" {
			return unavailable("a")
		}
		return nil
	}
	b := newFake("b")
	b.fail = func(job *domain.GenerationJob, _ int) error {
		if job.ID == "job-3" {
			return unavailable("b")
		}
		return nil
	}
	b.canHandle = func(job *domain.GenerationJob) bool { return job.ID != "job-2" }
	a.canHandle = func(job *domain.GenerationJob) bool { return job.ID != "job-3" }

	o := New(Options{Repo: repo, Concurrency: 2})
	res, err := o.DispatchBatch(context.Background(), jobs, Chains{Primary: []video.Strategy{a, b}, Fallback: []video.Strategy{b}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.JobsStarted)
	assert.Equal(t, []string{"job-3"}, res.FailedJobs)
	assert.Equal(t, len(jobs), res.JobsStarted+len(res.FailedJobs))

	assert.Equal(t, "b", res.Outcomes[0].Provider)
	assert.Equal(t, 2, res.Outcomes[0].Attempts)
	assert.Equal(t, "a", res.Outcomes[1].Provider)
	assert.Equal(t, 1, b.callsFor("job-3"), "duplicate fallback entry must not be retried")

	j1, _ := repo.Get(context.Background(), "job-1")
	assert.Equal(t, domain.JobStatusDispatched, j1.Status)
	assert.Equal(t, "b", j1.ProviderUsed)
	assert.Equal(t, "b-job-1", j1.ProviderHandle)
	assert.Equal(t, 2, j1.Attempt)

	j3, _ := repo.Get(context.Background(), "job-3")
	assert.Equal(t, domain.JobStatusPending, j3.Status)
	assert.Contains(t, j3.ErrorMessage, "PROVIDER_DISPATCH_FAILED")
	assert.Equal(t, 1, j3.Attempt)
}

func TestDispatchBatchNoStrategyCanHandle(t *testing.T) {
	repo := memory.NewJobRepository()
	jobs := seed(t, repo, "job-1", "job-2")
	a := newFake("a")
	a.canHandle = func(*domain.GenerationJob) bool { return false }

	res, err := New(Options{Repo: repo}).DispatchBatch(context.Background(), jobs, Chains{Primary: []video.Strategy{a}})
	require.NoError(t, err)
	assert.Zero(t, res.JobsStarted)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, res.FailedJobs)
	assert.Zero(t, a.total.Load())
	assert.Zero(t, res.Outcomes[0].Attempts)

	j, _ := repo.Get(context.Background(), "job-1")
	assert.Equal(t, "no configured provider can handle the job", j.ErrorMessage)
}

func TestDispatchBatchRequiresStrategies(t *testing.T) {
	_, err := New(Options{}).DispatchBatch(context.Background(), []*domain.GenerationJob{{ID: "x"}}, Chains{})
	assert.ErrorIs(t, err, ErrNoStrategies)

	_, err = New(Options{}).DispatchBatch(context.Background(), []*domain.GenerationJob{nil}, Chains{Primary: []video.Strategy{newFake("a")}})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestDispatchBatchEmpty(t *testing.T) {
	res, err := New(Options{}).DispatchBatch(context.Background(), nil, Chains{Primary: []video.Strategy{newFake("a")}})
	require.NoError(t, err)
	assert.Zero(t, res.JobsStarted)
	assert.Empty(t, res.FailedJobs)
}

func TestDispatchBatchSkipsOpenCircuit(t *testing.T) {
	repo := memory.NewJobRepository()
	now := time.Unix(1000, 0)
	breakers := breaker.NewRegistry(breaker.Settings{Threshold: 2, Cooldown: time.Minute, Now: func() time.Time { return now }})

	a := newFake("a")
	a.fail = func(*domain.GenerationJob, int) error { return unavailable("a") }
	b := newFake("b")

	o := New(Options{Repo: repo, Breakers: breakers, Concurrency: 1})
	chains := Chains{Primary: []video.Strategy{a}, Fallback: []video.Strategy{b}}

	res, err := o.DispatchBatch(context.Background(), seed(t, repo, "job-1", "job-2"), chains)
	require.NoError(t, err)
	assert.Equal(t, 2, res.JobsStarted)
	assert.Equal(t, breaker.StateOpen, breakers.Get("a").Snapshot().State)

	res, err = o.DispatchBatch(context.Background(), seed(t, repo, "job-3"), chains)
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsStarted)
	assert.Equal(t, 0, a.callsFor("job-3"), "open circuit must not be called")
	assert.Equal(t, 1, res.Outcomes[0].Attempts)
	assert.Equal(t, "b", res.Outcomes[0].Provider)
}

func TestDispatchBatchInvalidInputDoesNotTripBreaker(t *testing.T) {
	repo := memory.NewJobRepository()
	breakers := breaker.NewRegistry(breaker.Settings{Threshold: 1})
	a := newFake("a")
	a.fail = func(*domain.GenerationJob, int) error {
		return domain.NewProviderError("a", domain.CodeInvalidProviderInput, 400, errors.New("bad"))
	}
	b := newFake("b")

	res, err := New(Options{Repo: repo, Breakers: breakers}).DispatchBatch(context.Background(), seed(t, repo, "job-1", "job-2"), Chains{Primary: []video.Strategy{a, b}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.JobsStarted)
	assert.Equal(t, breaker.StateClosed, breakers.Get("a").Snapshot().State)
}

func TestDispatchBatchTransientRetries(t *testing.T) {
	repo := memory.NewJobRepository()
	a := newFake("a")
	a.fail = func(_ *domain.GenerationJob, call int) error {
		if call < 3 {
			return unavailable("a")
		}
		return nil
	}
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	o := New(Options{
		Repo:             repo,
		TransientRetries: 2,
		RetryBackoff:     100 * time.Millisecond,
		RetryMaxBackoff:  time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	})
	res, err := o.DispatchBatch(context.Background(), seed(t, repo, "job-1"), Chains{Primary: []video.Strategy{a}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsStarted)
	assert.Equal(t, 3, res.Outcomes[0].Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDispatchBatchDoesNotRetryTerminalErrors(t *testing.T) {
	repo := memory.NewJobRepository()
	a := newFake("a")
	a.fail = func(*domain.GenerationJob, int) error {
		return domain.NewProviderError("a", domain.CodeProviderDispatchFailed, 403, errors.New("forbidden"))
	}
	o := New(Options{Repo: repo, TransientRetries: 3, Sleep: func(context.Context, time.Duration) error {
		t.Fatal("terminal errors must not be retried")
		return nil
	}})
	res, err := o.DispatchBatch(context.Background(), seed(t, repo, "job-1"), Chains{Primary: []video.Strategy{a}})
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, res.FailedJobs)
	assert.Equal(t, 1, a.callsFor("job-1"))
}

func TestDispatchBatchAccountingUnderConcurrency(t *testing.T) {
	repo := memory.NewJobRepository()
	ids := make([]string, 40)
	for i := range ids {
		ids[i] = "job-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	jobs := seed(t, repo, ids...)
	a := newFake("a")
	a.fail = func(job *domain.GenerationJob, _ int) error {
		if job.ID[len(job.ID)-2]%2 == 0 {
			return unavailable("a")
		}
		return nil
	}
	m := metrics.New()
	res, err := New(Options{Repo: repo, Concurrency: 5, Metrics: m, Breakers: breaker.NewRegistry(breaker.Settings{Threshold: 1000})}).
		DispatchBatch(context.Background(), jobs, Chains{Primary: []video.Strategy{a}})
	require.NoError(t, err)
	assert.Equal(t, len(jobs), res.JobsStarted+len(res.FailedJobs))
	assert.NotZero(t, res.JobsStarted)
	assert.NotEmpty(t, res.FailedJobs)
}

func TestDispatchBatchTimeoutFailsRemainingJobs(t *testing.T) {
	repo := memory.NewJobRepository()
	blocking := &blockingStrategy{name: "blocking"}

	o := New(Options{Repo: repo, Concurrency: 1, BatchTimeout: 20 * time.Millisecond})
	res, err := o.DispatchBatch(context.Background(), seed(t, repo, "job-1", "job-2"), Chains{Primary: []video.Strategy{blocking}})
	require.NoError(t, err)
	assert.Zero(t, res.JobsStarted)
	assert.Len(t, res.FailedJobs, 2)
	assert.ErrorIs(t, res.Outcomes[1].Err, context.DeadlineExceeded)
}

// blockingStrategy waits for the context to end.
type blockingStrategy struct{ name string }

func (b *blockingStrategy) Name() string { return b.name }

func (b *blockingStrategy) CanHandle(*domain.GenerationJob) bool { return true }

func (b *blockingStrategy) Dispatch(ctx context.Context, _ *domain.GenerationJob) (video.Handle, error) {
	<-ctx.Done()
	return video.Handle{}, domain.NewProviderError(b.name, domain.CodeProviderDispatchFailed, 0, ctx.Err())
}

func TestDispatchBatchPrimaryFallbackScenario(t *testing.T) {
	repo := memory.NewJobRepository()
	jobs := seed(t, repo, "job-1", "job-2", "job-3")
	a := newFake("A")
	a.fail = func(job *domain.GenerationJob, _ int) error {
		if job.ID == "job-3" {
			return nil
		}
		return unavailable("A")
	}
	b := newFake("B")

	res, err := New(Options{Repo: repo}).DispatchBatch(context.Background(), jobs, Chains{
		Primary:  []video.Strategy{a, b},
		Fallback: []video.Strategy{b},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.JobsStarted)
	assert.Empty(t, res.FailedJobs)

	want := map[string]string{"job-1": "B", "job-2": "B", "job-3": "A"}
	for id, provider := range want {
		job, err := repo.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, provider, job.ProviderUsed, id)
		assert.Equal(t, domain.JobStatusDispatched, job.Status, id)
	}
}
