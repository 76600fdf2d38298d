package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
)

// EventVideoCompleted is sent in the X-Webhook-Event header.
const EventVideoCompleted = "video.completed"

const defaultClaimTTL = 24 * time.Hour

const unknownProviderLabel = "other"

// OutboundPayload is the body delivered to the client endpoint.
type OutboundPayload struct {
	JobID        string `json:"jobId"`
	ListingID    string `json:"listingId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	Status       string `json:"status"`
	VideoURL     string `json:"videoUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// IntakeOptions configures an Intake.
type IntakeOptions struct {
	Repo   domain.JobRepository
	Claims ClaimStore
	Sender *Sender

	DefaultWebhookURL string
	SigningSecret     string
	MaxRetries        int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	ClaimTTL          time.Duration

	Metrics *metrics.Metrics
	Logger  *infra.Logger
}

// Intake normalizes provider callbacks, records the completion once per job
// and relays it to the client.
type Intake struct {
	opts IntakeOptions
}

// IntakeResult describes what a callback caused.
type IntakeResult struct {
	Completion domain.NormalizedCompletion
	Job        *domain.GenerationJob
	// Ignored is set for progress callbacks without an outcome.
	Ignored bool
	// Duplicate is set when the job had already been completed.
	Duplicate   bool
	Delivered   bool
	Delivery    *Result
	DeliveryErr error
}

// NewIntake builds an Intake. Claims default to an in-memory store.
func NewIntake(opts IntakeOptions) *Intake {
	if opts.Claims == nil {
		opts.Claims = NewMemoryClaims()
	}
	if opts.Logger == nil {
		opts.Logger = infra.NopLogger()
	}
	if opts.Sender == nil {
		opts.Sender = NewSender(SenderOptions{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	return &Intake{opts: opts}
}

// ProcessVideoWebhookPayload handles one raw provider callback. The job id is
// taken from the payload, then fallbackJobID, then the provider handle. A
// delivery failure does not undo the recorded completion; it is reported in
// the result.
func (in *Intake) ProcessVideoWebhookPayload(ctx context.Context, provider string, raw []byte, fallbackJobID string) (*IntakeResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !KnownProvider(provider) {
		// Unknown path segments share one label so callers cannot mint series.
		in.opts.Metrics.WebhookIntake(unknownProviderLabel, "invalid")
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("unknown provider %q", provider)}, Err: ErrUnknownProvider}
	}
	log := in.opts.Logger.With().Str("provider", provider).Logger()

	completion, err := Decode(provider, raw)
	if errors.Is(err, ErrNotTerminal) {
		in.opts.Metrics.WebhookIntake(provider, "ignored")
		log.Debug().Str("handle", completion.ProviderHandle).Msg("progress callback ignored")
		return &IntakeResult{Completion: completion, Ignored: true}, nil
	}
	if err != nil {
		in.opts.Metrics.WebhookIntake(provider, "invalid")
		return nil, err
	}

	if completion.JobID == "" {
		completion.JobID = strings.TrimSpace(fallbackJobID)
	}
	if completion.JobID == "" && completion.ProviderHandle != "" && in.opts.Repo != nil {
		job, err := in.opts.Repo.FindByProviderHandle(ctx, provider, completion.ProviderHandle)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("webhook: resolve job for %s: %w", completion.ProviderHandle, err)
		}
		if job != nil {
			completion.JobID = job.ID
		}
	}
	if err := Validate(completion); err != nil {
		in.opts.Metrics.WebhookIntake(provider, "invalid")
		log.Warn().Err(err).Msg("invalid provider callback")
		return nil, err
	}
	log = log.With().Str("job_id", completion.JobID).Logger()

	res := &IntakeResult{Completion: completion}
	key := "video-completion:" + completion.JobID
	claimed, err := in.opts.Claims.Claim(ctx, key, in.opts.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook: claim %s: %w", key, err)
	}
	if !claimed {
		in.opts.Metrics.WebhookIntake(provider, "duplicate")
		log.Info().Msg("duplicate completion callback")
		res.Duplicate = true
		return res, nil
	}

	job, applied, err := in.opts.Repo.Complete(ctx, completion)
	if err != nil {
		if relErr := in.opts.Claims.Release(context.WithoutCancel(ctx), key); relErr != nil {
			log.Warn().Err(relErr).Msg("could not release completion claim")
		}
		in.opts.Metrics.WebhookIntake(provider, "error")
		return nil, fmt.Errorf("webhook: complete job %s: %w", completion.JobID, err)
	}
	res.Job = job
	if !applied {
		in.opts.Metrics.WebhookIntake(provider, "duplicate")
		log.Info().Str("status", string(job.Status)).Msg("job already terminal")
		res.Duplicate = true
		return res, nil
	}
	in.opts.Metrics.WebhookIntake(provider, "processed")
	log.Info().Str("status", string(job.Status)).Msg("job completed")

	target := strings.TrimSpace(job.Input.WebhookURL)
	if target == "" {
		target = in.opts.DefaultWebhookURL
	}
	if target == "" {
		log.Warn().Msg("no client webhook configured, completion not relayed")
		return res, nil
	}

	delivery, err := in.opts.Sender.SendWebhook(ctx, Request{
		URL:        target,
		Secret:     in.opts.SigningSecret,
		Payload:    outbound(job, completion),
		MaxRetries: in.opts.MaxRetries,
		Backoff:    in.opts.Backoff,
		MaxBackoff: in.opts.MaxBackoff,
		Event:      EventVideoCompleted,
		DeliveryID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
	})
	res.Delivery = delivery
	if err != nil {
		res.DeliveryErr = err
		attempts := 0
		if delivery != nil {
			attempts = len(delivery.Attempts)
		}
		log.Error().Err(err).Int("attempts", attempts).Msg("client webhook delivery failed")
		return res, nil
	}
	res.Delivered = true
	return res, nil
}

func outbound(job *domain.GenerationJob, c domain.NormalizedCompletion) OutboundPayload {
	provider := job.ProviderUsed
	if provider == "" {
		provider = c.Provider
	}
	return OutboundPayload{
		JobID:        job.ID,
		ListingID:    job.ListingID,
		RoomID:       job.RoomID,
		Status:       string(job.Status),
		VideoURL:     job.VideoURL,
		ThumbnailURL: job.ThumbnailURL,
		ErrorMessage: job.ErrorMessage,
		Provider:     provider,
	}
}
