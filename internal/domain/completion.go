package domain

// Outcome is the terminal result reported by a provider callback.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Status maps the outcome onto the job lifecycle.
func (o Outcome) Status() JobStatus {
	if o == OutcomeSucceeded {
		return JobStatusSucceeded
	}
	return JobStatusFailed
}

// NormalizedCompletion is the provider-independent form of a completion callback.
type NormalizedCompletion struct {
	JobID          string  `json:"jobId" validate:"required"`
	Outcome        Outcome `json:"status" validate:"required,oneof=succeeded failed"`
	VideoURL       string  `json:"videoUrl,omitempty" validate:"required_if=Outcome succeeded,omitempty,url"`
	ThumbnailURL   string  `json:"thumbnailUrl,omitempty" validate:"omitempty,url"`
	ErrorMessage   string  `json:"errorMessage,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	ProviderHandle string  `json:"-"`
}
