package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cladams7905/zencourt-sub009/internal/dispatch"
	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

const maxBatchBody = 1 << 20

type videoJobRequest struct {
	RoomID          string   `json:"roomId" validate:"omitempty,max=128"`
	Prompt          string   `json:"prompt" validate:"required,max=4000"`
	NegativePrompt  string   `json:"negativePrompt" validate:"max=2000"`
	ImageURLs       []string `json:"imageUrls" validate:"max=8,dive,url"`
	DurationSeconds int      `json:"durationSeconds" validate:"gte=1,lte=60"`
	AspectRatio     string   `json:"aspectRatio" validate:"required,max=16"`
	Locale          string   `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

type createVideosRequest struct {
	WebhookURL string            `json:"webhookUrl" validate:"omitempty,url"`
	Locale     string            `json:"locale" validate:"omitempty,bcp47_language_tag"`
	Jobs       []videoJobRequest `json:"jobs" validate:"required,min=1,max=50,dive"`
}

type createVideosResponse struct {
	JobsStarted int      `json:"jobsStarted"`
	FailedJobs  []string `json:"failedJobs"`
	JobIDs      []string `json:"jobIds"`
}

// CreateListingVideos stores one job per requested clip and dispatches the
// batch synchronously. Jobs no provider accepted are listed in failedJobs.
func (a *App) CreateListingVideos(w http.ResponseWriter, r *http.Request) {
	listingID := strings.TrimSpace(chi.URLParam(r, "listing_id"))
	if listingID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "listing_id required")
		return
	}
	var req createVideosRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBatchBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
		return
	}

	jobs := make([]*domain.GenerationJob, 0, len(req.Jobs))
	ids := make([]string, 0, len(req.Jobs))
	for _, jr := range req.Jobs {
		locale := jr.Locale
		if locale == "" {
			locale = req.Locale
		}
		job := &domain.GenerationJob{
			ID:        a.NewID(),
			ListingID: listingID,
			RoomID:    jr.RoomID,
			Status:    domain.JobStatusPending,
			Input: domain.JobInput{
				Prompt:          jr.Prompt,
				NegativePrompt:  jr.NegativePrompt,
				ImageURLs:       jr.ImageURLs,
				DurationSeconds: jr.DurationSeconds,
				AspectRatio:     domain.NormalizeAspectRatio(jr.AspectRatio),
				WebhookURL:      req.WebhookURL,
				Locale:          locale,
			},
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	for i, job := range jobs {
		if err := a.Repo.Create(r.Context(), job); err != nil {
			a.Logger.Error().Err(err).Str("listing_id", listingID).Str("job_id", job.ID).Msg("create video job")
			a.abandonStored(r.Context(), jobs[:i], err)
			a.error(w, http.StatusInternalServerError, "internal", "failed to store video job")
			return
		}
	}

	batch, err := a.Orchestrator.DispatchBatch(r.Context(), jobs, a.Chains)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoStrategies) {
			a.error(w, http.StatusServiceUnavailable, "no_providers", "no video provider configured")
			return
		}
		a.Logger.Error().Err(err).Str("listing_id", listingID).Msg("dispatch video batch")
		a.error(w, http.StatusInternalServerError, "internal", "failed to dispatch video jobs")
		return
	}

	failed := batch.FailedJobs
	if failed == nil {
		failed = []string{}
	}
	a.json(w, http.StatusAccepted, createVideosResponse{
		JobsStarted: batch.JobsStarted,
		FailedJobs:  failed,
		JobIDs:      ids,
	})
}

// abandonStored records jobs that were stored before a later job of the same
// batch failed to store, so they do not sit pending without a reason.
func (a *App) abandonStored(ctx context.Context, stored []*domain.GenerationJob, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := "batch aborted before dispatch: " + cause.Error()
	for _, job := range stored {
		if err := a.Repo.RecordDispatchFailure(ctx, job.ID, 0, reason); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("record abandoned job")
		}
	}
}

func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Repo.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("load video job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
