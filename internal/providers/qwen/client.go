package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cladams7905/zencourt-sub009/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// Options configures the DashScope Wan video client.
type Options struct {
	APIKey         string
	BaseURL        string
	T2VModel       string
	I2VModel       string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits asynchronous Wan video-synthesis tasks to DashScope.
type Client struct {
	apiKey       string
	baseURL      string
	t2vModel     string
	i2vModel     string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

// VideoRequest captures the inputs of one synthesis task. An ImageURL selects
// the image-to-video model.
type VideoRequest struct {
	Prompt         string
	NegativePrompt string
	ImageURL       string
	Size           string
	Duration       int
	CallbackURL    string
	RequestID      string
}

// Task is the handle DashScope returns for an accepted task.
type Task struct {
	ID        string
	Status    string
	RequestID string
}

// APIError is a non-2xx answer or an error code in the response body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("qwen: status %d: %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("qwen: status %d: %s", e.StatusCode, e.Message)
}

// InvalidParameter reports whether DashScope rejected the request content.
func (e *APIError) InvalidParameter() bool {
	return strings.HasPrefix(e.Code, "InvalidParameter")
}

type synthesisRequest struct {
	Model      string          `json:"model"`
	Input      synthesisInput  `json:"input"`
	Parameters synthesisParams `json:"parameters"`
}

type synthesisInput struct {
	Prompt         string `json:"prompt"`
	ImgURL         string `json:"img_url,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type synthesisParams struct {
	Size         string `json:"size,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
	Watermark    *bool  `json:"watermark,omitempty"`
}

type synthesisResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	t2v := strings.TrimSpace(opts.T2VModel)
	if t2v == "" {
		t2v = "wan2.2-t2v-plus"
	}
	i2v := strings.TrimSpace(opts.I2VModel)
	if i2v == "" {
		i2v = "wan2.2-i2v-plus"
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
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		t2vModel:     t2v,
		i2vModel:     i2v,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// ModelFor returns the model used for a request with or without a source image.
func (c *Client) ModelFor(withImage bool) string {
	if withImage {
		return c.i2vModel
	}
	return c.t2vModel
}

// SubmitVideoTask creates an asynchronous synthesis task. DashScope posts the
// result to CallbackURL when one is given.
func (c *Client) SubmitVideoTask(ctx context.Context, req VideoRequest) (*Task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("qwen: prompt is required")
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	payload := synthesisRequest{
		Model: c.ModelFor(imageURL != ""),
		Input: synthesisInput{
			Prompt:         prompt,
			ImgURL:         imageURL,
			NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		},
		Parameters: synthesisParams{Duration: req.Duration},
	}
	// Image-to-video takes its framing from the source image and only accepts a resolution tier.
	if imageURL != "" {
		payload.Parameters.Resolution = resolutionTier(req.Size)
	} else {
		payload.Parameters.Size = req.Size
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	endpoint := c.baseURL + "/services/aigc/video-generation/video-synthesis"
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-DashScope-Async", "enable")
	if req.CallbackURL != "" {
		httpReq.Header.Set("X-DashScope-Callback-Url", req.CallbackURL)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: detail.Code, Message: detail.Message}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded synthesisResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("qwen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: decoded.Code, Message: decoded.Message}
	}
	c.logger.Debug().
		Str("model", payload.Model).
		Str("request_id", decoded.RequestID).
		Str("task_id", decoded.Output.TaskID).
		Msg("qwen: submitted video task")
	return &Task{ID: decoded.Output.TaskID, Status: decoded.Output.TaskStatus, RequestID: decoded.RequestID}, nil
}

// resolutionTier maps a "W*H" size to the i2v resolution names.
func resolutionTier(size string) string {
	switch size {
	case "":
		return ""
	case "1920*1080", "1080*1920", "1440*1440", "1632*1248", "1248*1632":
		return "1080P"
	case "832*480", "480*832", "624*624":
		return "480P"
	default:
		return "720P"
	}
}
