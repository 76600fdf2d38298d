package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cladams7905/zencourt-sub009/internal/middleware"
	"github.com/cladams7905/zencourt-sub009/internal/webhook"
)

const maxCallbackBody = 1 << 20

// VideoWebhook acknowledges a provider callback immediately and processes it
// in the background. Providers retry on non-2xx, so failures are only logged.
// Unregistered provider names are 404.
func (a *App) VideoWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	fallbackJobID := chi.URLParam(r, "job_id")
	log := a.Logger.With().
		Str("provider", provider).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Logger()

	if !webhook.KnownProvider(provider) {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		log.Warn().Err(err).Msg("read provider callback")
		a.json(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if a.Intake == nil {
		log.Warn().Msg("webhook intake not configured, callback dropped")
		a.json(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	base := context.WithoutCancel(r.Context())
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		ctx, cancel := context.WithTimeout(base, a.IntakeTimeout)
		defer cancel()
		res, err := a.Intake.ProcessVideoWebhookPayload(ctx, provider, raw, fallbackJobID)
		if err != nil {
			log.Error().Err(err).Str("fallback_job_id", fallbackJobID).Msg("process provider callback")
			return
		}
		if res.DeliveryErr != nil {
			log.Warn().Err(res.DeliveryErr).Str("job_id", res.Completion.JobID).Msg("completion recorded but not delivered")
		}
	}()

	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
