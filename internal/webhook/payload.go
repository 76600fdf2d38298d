package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

var (
	// ErrInvalidCallback is matched by every *ValidationError.
	ErrInvalidCallback = errors.New("webhook: invalid callback")
	// ErrNotTerminal marks a progress callback that carries no outcome yet.
	ErrNotTerminal = errors.New("webhook: callback is not terminal")
	// ErrUnknownProvider is wrapped in the ValidationError for callbacks on an
	// unregistered provider path.
	ErrUnknownProvider = errors.New("webhook: unknown provider")
)

// ProviderRelay accepts callbacks already in the normalized completion shape,
// e.g. from an internal relay in front of a provider.
const ProviderRelay = "relay"

// KnownProvider reports whether callbacks for provider can be decoded.
func KnownProvider(provider string) bool {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "veo", "wan", ProviderRelay:
		return true
	default:
		return false
	}
}

// ValidationError lists what is wrong with a callback.
type ValidationError struct {
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidCallback, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidCallback }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a normalized completion.
func Validate(c domain.NormalizedCompletion) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Problems: []string{err.Error()}, Err: err}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Problems: problems, Err: err}
}

// veoOperation is the Gemini long-running operation posted on completion.
type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		JobID string `json:"jobId"`
	} `json:"metadata"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// wanTask is the DashScope async task callback.
type wanTask struct {
	RequestID string `json:"request_id"`
	Output    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		VideoURL      string `json:"video_url"`
		CoverImageURL string `json:"cover_image_url"`
		Code          string `json:"code"`
		Message       string `json:"message"`
	} `json:"output"`
}

// Decode converts a provider callback body into a NormalizedCompletion. The
// result is not validated and JobID may still be empty.
func Decode(provider string, raw []byte) (domain.NormalizedCompletion, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	var (
		c   domain.NormalizedCompletion
		err error
	)
	switch provider {
	case "veo":
		c, err = decodeVeo(raw)
	case "wan":
		c, err = decodeWan(raw)
	case ProviderRelay:
		c, err = decodeCanonical(raw)
	default:
		return c, &ValidationError{Problems: []string{fmt.Sprintf("unknown provider %q", provider)}, Err: ErrUnknownProvider}
	}
	if err != nil {
		return c, err
	}
	c.Provider = provider
	return c, nil
}

func decodeVeo(raw []byte) (domain.NormalizedCompletion, error) {
	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return domain.NormalizedCompletion{}, &ValidationError{Problems: []string{"malformed veo operation"}, Err: err}
	}
	c := domain.NormalizedCompletion{JobID: op.Metadata.JobID, ProviderHandle: op.Name}
	if !op.Done {
		return c, ErrNotTerminal
	}
	if op.Error != nil && (op.Error.Code != 0 || op.Error.Message != "") {
		c.Outcome = domain.OutcomeFailed
		c.ErrorMessage = strings.TrimSpace(op.Error.Message)
		if c.ErrorMessage == "" {
			c.ErrorMessage = fmt.Sprintf("veo operation failed with code %d", op.Error.Code)
		}
		return c, nil
	}
	if op.Response != nil {
		for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
			if uri := strings.TrimSpace(sample.Video.URI); uri != "" {
				c.Outcome = domain.OutcomeSucceeded
				c.VideoURL = uri
				return c, nil
			}
		}
	}
	c.Outcome = domain.OutcomeFailed
	c.ErrorMessage = string(domain.CodeProviderOutputMissing) + ": veo returned no video"
	return c, nil
}

func decodeWan(raw []byte) (domain.NormalizedCompletion, error) {
	var task wanTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return domain.NormalizedCompletion{}, &ValidationError{Problems: []string{"malformed wan task"}, Err: err}
	}
	out := task.Output
	c := domain.NormalizedCompletion{ProviderHandle: out.TaskID}
	switch strings.ToUpper(out.TaskStatus) {
	case "SUCCEEDED":
		if strings.TrimSpace(out.VideoURL) == "" {
			c.Outcome = domain.OutcomeFailed
			c.ErrorMessage = string(domain.CodeProviderOutputMissing) + ": wan returned no video"
			return c, nil
		}
		c.Outcome = domain.OutcomeSucceeded
		c.VideoURL = strings.TrimSpace(out.VideoURL)
		c.ThumbnailURL = strings.TrimSpace(out.CoverImageURL)
	case "FAILED", "CANCELED", "UNKNOWN":
		c.Outcome = domain.OutcomeFailed
		c.ErrorMessage = strings.TrimSpace(out.Message)
		if out.Code != "" {
			c.ErrorMessage = strings.TrimSpace(fmt.Sprintf("%s %s", out.Code, c.ErrorMessage))
		}
		if c.ErrorMessage == "" {
			c.ErrorMessage = "wan task " + strings.ToLower(out.TaskStatus)
		}
	default:
		return c, ErrNotTerminal
	}
	return c, nil
}

// canonical accepts "providerHandle" on input even though the normalized
// form does not serialize it.
type canonical struct {
	domain.NormalizedCompletion
	ProviderHandle string `json:"providerHandle"`
}

func decodeCanonical(raw []byte) (domain.NormalizedCompletion, error) {
	var in canonical
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.NormalizedCompletion{}, &ValidationError{Problems: []string{"malformed completion"}, Err: err}
	}
	c := in.NormalizedCompletion
	c.ProviderHandle = in.ProviderHandle
	c.Outcome = domain.Outcome(strings.ToLower(strings.TrimSpace(string(c.Outcome))))
	return c, nil
}
