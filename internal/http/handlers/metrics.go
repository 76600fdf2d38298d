package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cladams7905/zencourt-sub009/internal/breaker"
)

// ProviderCircuits lists the breaker state of every provider seen so far.
func (a *App) ProviderCircuits(w http.ResponseWriter, r *http.Request) {
	items := []breaker.Snapshot{}
	if a.Breakers != nil {
		items = append(items, a.Breakers.Snapshots()...)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// ResetProviderCircuit closes the breaker of one provider.
func (a *App) ResetProviderCircuit(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "provider required")
		return
	}
	if a.Breakers == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "circuit registry not configured")
		return
	}
	if a.Breakers.Reset(provider) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider circuit")
		return
	}
	a.Logger.Info().Str("provider", provider).Msg("provider circuit reset")
	b, _ := a.Breakers.Lookup(provider)
	a.json(w, http.StatusOK, b.Snapshot())
}

// PrometheusMetrics serves the process metric registry.
func (a *App) PrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if a.Metrics == nil {
		a.error(w, http.StatusNotFound, "not_found", "metrics disabled")
		return
	}
	a.Metrics.Handler().ServeHTTP(w, r)
}
