package video

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/providers/qwen"
)

var (
	wanSizes = map[string]string{
		"16:9": "1280*720",
		"9:16": "720*1280",
		"1:1":  "960*960",
		"4:3":  "1088*832",
		"3:4":  "832*1088",
	}
	wanDurations = []int{5, 10}
)

// WanClient is the part of qwen.Client the strategy needs.
type WanClient interface {
	HasCredentials() bool
	SubmitVideoTask(ctx context.Context, req qwen.VideoRequest) (*qwen.Task, error)
}

// WanStrategy renders through Alibaba Wan on DashScope. It accepts more
// framings than Veo but at most one source image.
type WanStrategy struct {
	client   WanClient
	callback CallbackURLFunc
}

// NewWanStrategy wraps a DashScope client. callback may be nil.
func NewWanStrategy(client WanClient, callback CallbackURLFunc) *WanStrategy {
	return &WanStrategy{client: client, callback: callback}
}

func (s *WanStrategy) Name() string { return ProviderWan }

func (s *WanStrategy) CanHandle(job *domain.GenerationJob) bool {
	if job == nil || s.client == nil || !s.client.HasCredentials() {
		return false
	}
	if strings.TrimSpace(job.Input.Prompt) == "" {
		return false
	}
	if _, ok := wanSizes[domain.NormalizeAspectRatio(job.Input.AspectRatio)]; !ok {
		return false
	}
	if _, ok := snapUp(job.Input.DurationSeconds, wanDurations); !ok {
		return false
	}
	return len(job.Input.ImageURLs) <= 1
}

func (s *WanStrategy) Dispatch(ctx context.Context, job *domain.GenerationJob) (Handle, error) {
	if !s.CanHandle(job) {
		return Handle{}, domain.NewProviderError(ProviderWan, domain.CodeInvalidProviderInput, 0, errors.New("job outside wan capabilities"))
	}
	duration, _ := snapUp(job.Input.DurationSeconds, wanDurations)
	req := qwen.VideoRequest{
		Prompt:         buildPrompt(job.Input),
		NegativePrompt: job.Input.NegativePrompt,
		Size:           wanSizes[domain.NormalizeAspectRatio(job.Input.AspectRatio)],
		Duration:       duration,
		RequestID:      job.ID,
	}
	if len(job.Input.ImageURLs) == 1 {
		req.ImageURL = job.Input.ImageURLs[0]
	}
	if s.callback != nil {
		req.CallbackURL = s.callback(ProviderWan, job.ID)
	}

	task, err := s.client.SubmitVideoTask(ctx, req)
	if err != nil {
		var apiErr *qwen.APIError
		if errors.As(err, &apiErr) {
			status := apiErr.StatusCode
			// Error codes inside a 2xx body still need a failing status.
			if status < 300 {
				status = http.StatusBadGateway
				if strings.HasPrefix(apiErr.Code, "Throttling") {
					status = http.StatusTooManyRequests
				}
			}
			return Handle{}, classifyStatus(ProviderWan, status, apiErr.InvalidParameter(), err)
		}
		if errors.Is(err, qwen.ErrMissingAPIKey) {
			return Handle{}, domain.NewProviderError(ProviderWan, domain.CodeInvalidProviderInput, 0, err)
		}
		return Handle{}, classifyTransport(ProviderWan, err)
	}
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return Handle{}, domain.NewProviderError(ProviderWan, domain.CodeProviderOutputMissing, 0, errors.New("task id missing"))
	}
	return Handle{Provider: ProviderWan, RemoteID: task.ID}, nil
}

var _ Strategy = (*WanStrategy)(nil)
