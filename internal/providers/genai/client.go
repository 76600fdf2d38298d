package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cladams7905/zencourt-sub009/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("genai: api key is required")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client starts Veo long-running video operations through the Gemini REST API.
// Completion is reported asynchronously to the notification webhook, so the
// client never polls the operation.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// VideoRequest represents the information required to start a video render.
type VideoRequest struct {
	Prompt          string
	NegativePrompt  string
	ImageURIs       []string
	AspectRatio     string
	DurationSeconds int
	SampleCount     int
	WebhookURL      string
	JobID           string
}

// Operation is the handle of a started long-running render.
type Operation struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// APIError is returned for any non-2xx answer from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("genai: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("genai: status %d", e.StatusCode)
}

type predictRequest struct {
	Instances    []veoInstance    `json:"instances"`
	Parameters   veoParameters    `json:"parameters"`
	Notification *veoNotification `json:"notification,omitempty"`
}

type veoInstance struct {
	Prompt          string              `json:"prompt"`
	ReferenceImages []veoReferenceImage `json:"referenceImages,omitempty"`
}

type veoReferenceImage struct {
	Image         veoImage `json:"image"`
	ReferenceType string   `json:"referenceType,omitempty"`
}

type veoImage struct {
	FileURI  string `json:"fileUri"`
	MimeType string `json:"mimeType,omitempty"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	SampleCount     int    `json:"sampleCount,omitempty"`
}

type veoNotification struct {
	WebhookURL string            `json:"webhookUrl"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-3.0-generate-001"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// StartVideoGeneration submits a predictLongRunning request and returns the
// operation handle.
func (c *Client) StartVideoGeneration(ctx context.Context, req VideoRequest) (*Operation, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("genai: prompt is required")
	}

	instance := veoInstance{Prompt: prompt}
	for _, uri := range req.ImageURIs {
		if uri = strings.TrimSpace(uri); uri == "" {
			continue
		}
		instance.ReferenceImages = append(instance.ReferenceImages, veoReferenceImage{
			Image:         veoImage{FileURI: uri, MimeType: mimeFromURI(uri)},
			ReferenceType: "asset",
		})
	}
	sampleCount := req.SampleCount
	if sampleCount <= 0 {
		sampleCount = 1
	}
	payload := predictRequest{
		Instances: []veoInstance{instance},
		Parameters: veoParameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: req.DurationSeconds,
			NegativePrompt:  strings.TrimSpace(req.NegativePrompt),
			SampleCount:     sampleCount,
		},
	}
	if req.WebhookURL != "" {
		payload.Notification = &veoNotification{WebhookURL: req.WebhookURL}
		if req.JobID != "" {
			payload.Notification.Metadata = map[string]string{"jobId": req.JobID}
		}
	}

	var op Operation
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.model)), payload, &op); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", c.model).
		Str("operation", op.Name).
		Msg("genai: started video operation")

	return &op, nil
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("genai: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail geminiErrorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			apiErr.Message = detail.Error.Message
			apiErr.Status = detail.Error.Status
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}
	return nil
}

func mimeFromURI(uri string) string {
	path := strings.ToLower(uri)
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	default:
		return ""
	}
}
