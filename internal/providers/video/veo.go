package video

import (
	"context"
	"errors"
	"strings"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/providers/genai"
)

var (
	veoAspectRatios = map[string]bool{"16:9": true, "9:16": true}
	veoDurations    = []int{4, 6, 8}
)

const veoMaxReferenceImages = 3

// VeoClient is the part of genai.Client the strategy needs.
type VeoClient interface {
	HasCredentials() bool
	StartVideoGeneration(ctx context.Context, req genai.VideoRequest) (*genai.Operation, error)
}

// VeoStrategy renders through Google Veo. It is the high fidelity option but
// only supports landscape and portrait framing and clips up to 8 seconds.
type VeoStrategy struct {
	client   VeoClient
	callback CallbackURLFunc
}

// NewVeoStrategy wraps a Veo client. callback may be nil.
func NewVeoStrategy(client VeoClient, callback CallbackURLFunc) *VeoStrategy {
	return &VeoStrategy{client: client, callback: callback}
}

func (s *VeoStrategy) Name() string { return ProviderVeo }

func (s *VeoStrategy) CanHandle(job *domain.GenerationJob) bool {
	if job == nil || s.client == nil || !s.client.HasCredentials() {
		return false
	}
	if strings.TrimSpace(job.Input.Prompt) == "" {
		return false
	}
	if !veoAspectRatios[domain.NormalizeAspectRatio(job.Input.AspectRatio)] {
		return false
	}
	if _, ok := snapUp(job.Input.DurationSeconds, veoDurations); !ok {
		return false
	}
	return len(job.Input.ImageURLs) <= veoMaxReferenceImages
}

func (s *VeoStrategy) Dispatch(ctx context.Context, job *domain.GenerationJob) (Handle, error) {
	if !s.CanHandle(job) {
		return Handle{}, domain.NewProviderError(ProviderVeo, domain.CodeInvalidProviderInput, 0, errors.New("job outside veo capabilities"))
	}
	duration, _ := snapUp(job.Input.DurationSeconds, veoDurations)
	req := genai.VideoRequest{
		Prompt:          buildPrompt(job.Input),
		NegativePrompt:  job.Input.NegativePrompt,
		ImageURIs:       job.Input.ImageURLs,
		AspectRatio:     domain.NormalizeAspectRatio(job.Input.AspectRatio),
		DurationSeconds: duration,
		SampleCount:     1,
		JobID:           job.ID,
	}
	if s.callback != nil {
		req.WebhookURL = s.callback(ProviderVeo, job.ID)
	}

	op, err := s.client.StartVideoGeneration(ctx, req)
	if err != nil {
		var apiErr *genai.APIError
		if errors.As(err, &apiErr) {
			return Handle{}, classifyStatus(ProviderVeo, apiErr.StatusCode, apiErr.Status == "INVALID_ARGUMENT", err)
		}
		if errors.Is(err, genai.ErrMissingAPIKey) {
			return Handle{}, domain.NewProviderError(ProviderVeo, domain.CodeInvalidProviderInput, 0, err)
		}
		return Handle{}, classifyTransport(ProviderVeo, err)
	}
	if op == nil || strings.TrimSpace(op.Name) == "" {
		return Handle{}, domain.NewProviderError(ProviderVeo, domain.CodeProviderOutputMissing, 0, errors.New("operation name missing"))
	}
	return Handle{Provider: ProviderVeo, RemoteID: op.Name}, nil
}

var _ Strategy = (*VeoStrategy)(nil)
