package domain

import "context"

// JobRepository persists generation jobs. Implementations guard each record so
// that the intake path and status reads always see the latest value.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	Get(ctx context.Context, jobID string) (*GenerationJob, error)
	FindByProviderHandle(ctx context.Context, provider, handle string) (*GenerationJob, error)
	MarkDispatched(ctx context.Context, jobID, provider, handle string, attempts int) error
	RecordDispatchFailure(ctx context.Context, jobID string, attempts int, reason string) error
	// Complete moves a non-terminal job to the completion's terminal status.
	// applied is false when the job had already reached a terminal status.
	Complete(ctx context.Context, completion NormalizedCompletion) (job *GenerationJob, applied bool, err error)
}
