package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cladams7905/zencourt-sub009/internal/breaker"
	"github.com/cladams7905/zencourt-sub009/internal/dispatch"
	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
	"github.com/cladams7905/zencourt-sub009/internal/webhook"
)

const defaultIntakeTimeout = 10 * time.Minute

// App carries the collaborators every handler needs.
type App struct {
	Repo         domain.JobRepository
	Orchestrator *dispatch.Orchestrator
	Chains       dispatch.Chains
	Intake       *webhook.Intake
	Breakers     *breaker.Registry
	Metrics      *metrics.Metrics
	Logger       *infra.Logger

	// IntakeTimeout bounds one background callback, client delivery included.
	IntakeTimeout time.Duration
	NewID         func() string

	validate *validator.Validate
	inflight sync.WaitGroup
}

// Deps groups the constructor arguments of NewApp.
type Deps struct {
	Repo          domain.JobRepository
	Orchestrator  *dispatch.Orchestrator
	Chains        dispatch.Chains
	Intake        *webhook.Intake
	Breakers      *breaker.Registry
	Metrics       *metrics.Metrics
	Logger        *infra.Logger
	IntakeTimeout time.Duration
}

func NewApp(d Deps) *App {
	a := &App{
		Repo:          d.Repo,
		Orchestrator:  d.Orchestrator,
		Chains:        d.Chains,
		Intake:        d.Intake,
		Breakers:      d.Breakers,
		Metrics:       d.Metrics,
		Logger:        d.Logger,
		IntakeTimeout: d.IntakeTimeout,
		NewID:         uuid.NewString,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
	if a.Logger == nil {
		a.Logger = infra.NopLogger()
	}
	if a.IntakeTimeout <= 0 {
		a.IntakeTimeout = defaultIntakeTimeout
	}
	return a
}

// Wait blocks until background webhook processing has drained or ctx ends.
func (a *App) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
