// Package webhook relays provider completions to client-owned endpoints and
// turns provider callbacks into normalized completions.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cladams7905/zencourt-sub009/internal/backoff"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
)

// Delivery headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderAttempt   = "X-Webhook-Attempt"
)

const (
	DefaultMaxRetries = 3
	defaultTimeout    = 10 * time.Second
)

var (
	// ErrDeliveryExhausted means every attempt in the budget failed retryably.
	ErrDeliveryExhausted = errors.New("webhook: delivery attempts exhausted")
	// ErrDeliveryRejected means the endpoint answered with a non-retryable status.
	ErrDeliveryRejected = errors.New("webhook: delivery rejected")
)

// Request describes one outbound delivery. Body wins over Payload when both
// are set. MaxRetries is the total number of attempts.
type Request struct {
	URL        string
	Secret     string
	Payload    any
	Body       []byte
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Event      string
	DeliveryID string
}

// Attempt records one POST.
type Attempt struct {
	URL         string
	Number      int
	ScheduledAt time.Time
	StatusCode  int
	Err         error
}

// Result lists every attempt made for a delivery.
type Result struct {
	DeliveryID string
	Delivered  bool
	StatusCode int
	Attempts   []Attempt
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Now        func() time.Time
	Metrics    *metrics.Metrics
	Logger     *infra.Logger
}

// Sender posts signed JSON payloads with exponential backoff between attempts.
type Sender struct {
	client  *http.Client
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *infra.Logger
}

// NewSender builds a Sender with defaults for every unset option.
func NewSender(opts SenderOptions) *Sender {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	s := &Sender{
		client:  client,
		sleep:   opts.Sleep,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.sleep == nil {
		s.sleep = backoff.Sleep
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = infra.NopLogger()
	}
	return s
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

// SendWebhook delivers req at least once unless the endpoint rejects it or
// the budget runs out. 2xx is success; 429, 5xx and transport errors are
// retried; anything else stops immediately with ErrDeliveryRejected.
func (s *Sender) SendWebhook(ctx context.Context, req Request) (*Result, error) {
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("webhook: invalid url %q", req.URL)
	}
	body := req.Body
	if body == nil {
		encoded, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("webhook: encode payload: %w", err)
		}
		body = encoded
	}
	budget := req.MaxRetries
	if budget < 1 {
		budget = DefaultMaxRetries
	}
	deliveryID := req.DeliveryID
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	var signature string
	if req.Secret != "" {
		signature = Sign(req.Secret, body)
	}

	res := &Result{DeliveryID: deliveryID}
	var lastErr error
	for n := 1; n <= budget; n++ {
		if n > 1 {
			if err := s.sleep(ctx, backoff.Delay(n-1, req.Backoff, req.MaxBackoff)); err != nil {
				return res, fmt.Errorf("webhook: delivery %s cancelled: %w", deliveryID, err)
			}
		}
		attempt := Attempt{URL: req.URL, Number: n, ScheduledAt: s.now()}
		status, err := s.post(ctx, req, body, signature, deliveryID, n)
		attempt.StatusCode = status
		attempt.Err = err
		res.Attempts = append(res.Attempts, attempt)
		res.StatusCode = status

		log := s.logger.With().
			Str("delivery_id", deliveryID).
			Str("url", req.URL).
			Int("attempt", n).
			Int("status", status).
			Logger()

		switch {
		case err == nil && status >= 200 && status < 300:
			s.metrics.WebhookAttempt("success")
			res.Delivered = true
			log.Debug().Msg("webhook delivered")
			return res, nil
		case err != nil || status == http.StatusTooManyRequests || status >= 500:
			s.metrics.WebhookAttempt("retryable")
			if err == nil {
				err = fmt.Errorf("status %d", status)
			}
			lastErr = err
			log.Warn().Err(err).Msg("webhook attempt failed")
			if ctx.Err() != nil {
				return res, fmt.Errorf("webhook: delivery %s cancelled: %w", deliveryID, ctx.Err())
			}
		default:
			s.metrics.WebhookAttempt("rejected")
			log.Warn().Msg("webhook rejected")
			return res, fmt.Errorf("%w: status %d", ErrDeliveryRejected, status)
		}
	}
	return res, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryExhausted, budget, lastErr)
}

func (s *Sender) post(ctx context.Context, req Request, body []byte, signature, deliveryID string, attempt int) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderDelivery, deliveryID)
	httpReq.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	if req.Event != "" {
		httpReq.Header.Set(HeaderEvent, req.Event)
	}
	if signature != "" {
		httpReq.Header.Set(HeaderSignature, signature)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
