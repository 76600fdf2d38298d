// Package dispatch routes generation jobs to video providers, falling back
// along an ordered chain of strategies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cladams7905/zencourt-sub009/internal/backoff"
	"github.com/cladams7905/zencourt-sub009/internal/breaker"
	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
	"github.com/cladams7905/zencourt-sub009/internal/pool"
	"github.com/cladams7905/zencourt-sub009/internal/providers/video"
)

// ErrNoStrategies is returned when both chains are empty.
var ErrNoStrategies = errors.New("dispatch: no strategies configured")

// DefaultConcurrency bounds in-flight jobs when Options leaves it unset.
const DefaultConcurrency = 3

// Chains is the ordered list of strategies to try. Fallback strategies are
// tried after every primary one.
type Chains struct {
	Primary  []video.Strategy
	Fallback []video.Strategy
}

func (c Chains) candidates() []video.Strategy {
	seen := make(map[string]bool)
	var out []video.Strategy
	for _, list := range [][]video.Strategy{c.Primary, c.Fallback} {
		for _, s := range list {
			if s == nil || seen[s.Name()] {
				continue
			}
			seen[s.Name()] = true
			out = append(out, s)
		}
	}
	return out
}

// Outcome is what happened to one job of a batch.
type Outcome struct {
	JobID    string
	Started  bool
	Provider string
	Handle   string
	Attempts int
	Err      error
}

// BatchResult summarizes a batch. JobsStarted+len(FailedJobs) always equals
// the number of submitted jobs.
type BatchResult struct {
	JobsStarted int
	FailedJobs  []string
	Outcomes    []Outcome
}

// Options configures an Orchestrator.
type Options struct {
	Repo         domain.JobRepository
	Breakers     *breaker.Registry
	Concurrency  int
	BatchTimeout time.Duration

	// TransientRetries repeats a call on the same provider after a retryable
	// failure before moving down the chain.
	TransientRetries int
	RetryBackoff     time.Duration
	RetryMaxBackoff  time.Duration
	Sleep            func(ctx context.Context, d time.Duration) error

	Metrics *metrics.Metrics
	Logger  *infra.Logger
}

// Orchestrator dispatches batches of jobs.
type Orchestrator struct {
	repo         domain.JobRepository
	breakers     *breaker.Registry
	concurrency  int
	batchTimeout time.Duration
	retries      int
	retryBase    time.Duration
	retryMax     time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	metrics      *metrics.Metrics
	logger       *infra.Logger
}

// New builds an Orchestrator. A nil breaker registry gets one with default settings.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		repo:         opts.Repo,
		breakers:     opts.Breakers,
		concurrency:  opts.Concurrency,
		batchTimeout: opts.BatchTimeout,
		retries:      opts.TransientRetries,
		retryBase:    opts.RetryBackoff,
		retryMax:     opts.RetryMaxBackoff,
		sleep:        opts.Sleep,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	if o.logger == nil {
		o.logger = infra.NopLogger()
	}
	if o.breakers == nil {
		o.breakers = breaker.NewRegistry(breaker.Settings{Logger: o.logger})
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	if o.retries < 0 {
		o.retries = 0
	}
	if o.sleep == nil {
		o.sleep = backoff.Sleep
	}
	return o
}

// DispatchBatch sends every job to the first strategy in chains that can
// handle it, accepts it and is not circuit-open. A failing job never affects
// its siblings; the only batch-level errors are an empty chain and nil jobs.
func (o *Orchestrator) DispatchBatch(ctx context.Context, jobs []*domain.GenerationJob, chains Chains) (*BatchResult, error) {
	candidates := chains.candidates()
	if len(candidates) == 0 {
		return nil, ErrNoStrategies
	}
	for i, job := range jobs {
		if job == nil {
			return nil, fmt.Errorf("dispatch: job %d is nil: %w", i, domain.ErrInvalidJob)
		}
	}

	if o.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.batchTimeout)
		defer cancel()
	}

	results := pool.Run(ctx, jobs, o.concurrency, func(ctx context.Context, job *domain.GenerationJob) (Outcome, error) {
		return o.dispatchJob(ctx, job, candidates), nil
	})

	batch := &BatchResult{Outcomes: make([]Outcome, len(jobs))}
	for i, res := range results {
		out := res.Value
		if res.Err != nil {
			out = Outcome{JobID: jobs[i].ID, Err: res.Err}
			o.recordFailure(ctx, jobs[i], 0, res.Err)
		}
		batch.Outcomes[i] = out
		if out.Started {
			batch.JobsStarted++
			o.metrics.DispatchJob("started")
		} else {
			batch.FailedJobs = append(batch.FailedJobs, out.JobID)
			o.metrics.DispatchJob("failed")
		}
	}

	o.logger.Info().
		Int("jobs", len(jobs)).
		Int("started", batch.JobsStarted).
		Int("failed", len(batch.FailedJobs)).
		Msg("dispatch batch finished")
	return batch, nil
}

func (o *Orchestrator) dispatchJob(ctx context.Context, job *domain.GenerationJob, candidates []video.Strategy) Outcome {
	out := Outcome{JobID: job.ID}
	var lastErr error

	for _, strategy := range candidates {
		if ctx.Err() != nil {
			break
		}
		name := strategy.Name()
		if !strategy.CanHandle(job) {
			o.logger.Debug().Str("job_id", job.ID).Str("provider", name).Msg("provider cannot handle job")
			o.metrics.DispatchAttempt(name, "skipped")
			continue
		}
		b := o.breakers.Get(name)
		if b.Open() {
			lastErr = domain.NewProviderError(name, domain.CodeProviderCircuitOpen, 0, breaker.ErrOpen)
			o.logger.Debug().Str("job_id", job.ID).Str("provider", name).Msg("provider circuit open, skipping")
			o.metrics.DispatchAttempt(name, "skipped_open")
			continue
		}

		for try := 1; ; try++ {
			out.Attempts++
			var handle video.Handle
			err := b.Execute(ctx, func(ctx context.Context) error {
				h, err := strategy.Dispatch(ctx, job)
				handle = h
				return err
			})
			if err == nil {
				o.metrics.DispatchAttempt(name, "success")
				out.Started = true
				out.Provider = name
				out.Handle = handle.RemoteID
				o.markDispatched(ctx, job, out)
				return out
			}

			lastErr = err
			o.metrics.DispatchAttempt(name, attemptOutcome(err))
			o.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("provider", name).
				Int("attempt", out.Attempts).
				Msg("provider dispatch failed")

			if try > o.retries || !retryable(err) || ctx.Err() != nil {
				break
			}
			if err := o.sleep(ctx, backoff.Delay(try, o.retryBase, o.retryMax)); err != nil {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no configured provider can handle the job")
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		lastErr = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	out.Err = lastErr
	o.recordFailure(ctx, job, out.Attempts, lastErr)
	return out
}

// Repo writes are detached from the batch deadline.
func (o *Orchestrator) markDispatched(ctx context.Context, job *domain.GenerationJob, out Outcome) {
	o.logger.Info().
		Str("job_id", job.ID).
		Str("provider", out.Provider).
		Str("handle", out.Handle).
		Int("attempt", out.Attempts).
		Msg("job dispatched")
	if o.repo == nil {
		return
	}
	if err := o.repo.MarkDispatched(context.WithoutCancel(ctx), job.ID, out.Provider, out.Handle, out.Attempts); err != nil {
		// A fast callback may already have completed the job.
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("could not mark job dispatched")
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, job *domain.GenerationJob, attempts int, cause error) {
	o.logger.Error().
		Err(cause).
		Str("job_id", job.ID).
		Int("attempt", attempts).
		Msg("job could not be dispatched")
	if o.repo == nil {
		return
	}
	if err := o.repo.RecordDispatchFailure(context.WithoutCancel(ctx), job.ID, attempts, cause.Error()); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("could not record dispatch failure")
	}
}

func retryable(err error) bool {
	var pe *domain.ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

func attemptOutcome(err error) string {
	if code := domain.ProviderErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
