package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cladams7905/zencourt-sub009/internal/http/handlers"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/middleware"
)

// Options tunes the router's middleware stack.
type Options struct {
	Logger          *infra.Logger
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/metrics", app.PrometheusMetrics)

	// Provider callbacks are not rate limited; a burst of completions is normal.
	r.Route("/v1/webhooks/video/{provider}", func(r chi.Router) {
		r.Post("/", app.VideoWebhook)
		r.Post("/{job_id}", app.VideoWebhook)
	})

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin))
		}
		r.Post("/v1/listings/{listing_id}/videos", app.CreateListingVideos)
		r.Get("/v1/videos/{job_id}", app.VideoStatus)
		r.Get("/v1/providers/circuits", app.ProviderCircuits)
		r.Post("/v1/providers/circuits/{provider}/reset", app.ResetProviderCircuit)
	})

	return r
}
