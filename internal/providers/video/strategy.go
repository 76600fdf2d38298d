// Package video adapts external video renderers to one dispatch contract.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

// Provider names used in chains, callback routes and breaker keys.
const (
	ProviderVeo = "veo"
	ProviderWan = "wan"
)

// Handle identifies an accepted render at the provider.
type Handle struct {
	Provider string
	RemoteID string
}

// Strategy renders jobs through one provider. CanHandle must be pure so the
// orchestrator can call it freely before spending a network round trip.
type Strategy interface {
	Name() string
	CanHandle(job *domain.GenerationJob) bool
	Dispatch(ctx context.Context, job *domain.GenerationJob) (Handle, error)
}

// CallbackURLFunc returns the URL a provider should notify for a job.
type CallbackURLFunc func(provider, jobID string) string

// CallbackURL builds callback URLs of the form
// {baseURL}/v1/webhooks/video/{provider}/{jobID}.
func CallbackURL(baseURL string) CallbackURLFunc {
	base := strings.TrimRight(baseURL, "/")
	return func(provider, jobID string) string {
		if base == "" {
			return ""
		}
		return fmt.Sprintf("%s/v1/webhooks/video/%s/%s", base, url.PathEscape(provider), url.PathEscape(jobID))
	}
}

// snapUp returns the smallest allowed value >= want. ok is false when want
// exceeds every allowed value. A non-positive want picks the smallest.
func snapUp(want int, allowed []int) (int, bool) {
	for _, v := range allowed {
		if want <= v {
			return v, true
		}
	}
	return 0, false
}

// buildPrompt appends the requested narration locale, canonicalized, to the
// render prompt.
func buildPrompt(input domain.JobInput) string {
	prompt := strings.TrimSpace(input.Prompt)
	locale := strings.TrimSpace(input.Locale)
	if locale == "" {
		return prompt
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return prompt
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = tag.String()
	}
	var b strings.Builder
	b.WriteString(prompt)
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("On-screen text language: ")
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(tag.String())
	b.WriteString(")")
	return b.String()
}

// classifyStatus maps an upstream HTTP status to the error taxonomy.
func classifyStatus(provider string, status int, invalid bool, err error) *domain.ProviderError {
	if invalid || status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return domain.NewProviderError(provider, domain.CodeInvalidProviderInput, status, err)
	}
	return domain.NewProviderError(provider, domain.CodeProviderDispatchFailed, status, err)
}

// classifyTransport wraps a call that produced no HTTP answer.
func classifyTransport(provider string, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return domain.NewProviderError(provider, domain.CodeProviderDispatchFailed, 0, err)
}
