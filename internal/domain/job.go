package domain

import (
	"strings"
	"time"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. A pending job may complete directly when its dispatch was
// abandoned after the provider had already accepted it.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusDispatched || next.IsTerminal()
	case JobStatusDispatched:
		return next.IsTerminal()
	default:
		return false
	}
}

// JobInput is the canonical, provider-agnostic render request.
type JobInput struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negativePrompt,omitempty"`
	ImageURLs       []string `json:"imageUrls,omitempty"`
	DurationSeconds int      `json:"durationSeconds"`
	AspectRatio     string   `json:"aspectRatio"`
	WebhookURL      string   `json:"webhookUrl,omitempty"`
	Locale          string   `json:"locale,omitempty"`
}

// GenerationJob is one request to render one video for a listing.
type GenerationJob struct {
	ID             string    `json:"id"`
	ListingID      string    `json:"listingId"`
	RoomID         string    `json:"roomId,omitempty"`
	Input          JobInput  `json:"input"`
	Status         JobStatus `json:"status"`
	ProviderUsed   string    `json:"providerUsed,omitempty"`
	ProviderHandle string    `json:"providerHandle,omitempty"`
	Attempt        int       `json:"attempt"`
	VideoURL       string    `json:"videoUrl,omitempty"`
	ThumbnailURL   string    `json:"thumbnailUrl,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so stored records never alias caller memory.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Input.ImageURLs != nil {
		cp.Input.ImageURLs = append([]string(nil), j.Input.ImageURLs...)
	}
	return &cp
}

// NormalizeAspectRatio folds the common spellings of an aspect ratio
// ("16x9", " 16:9 ", "landscape") into the "W:H" form.
func NormalizeAspectRatio(aspect string) string {
	a := strings.ToLower(strings.TrimSpace(aspect))
	switch a {
	case "landscape", "horizontal":
		return "16:9"
	case "portrait", "vertical":
		return "9:16"
	case "square":
		return "1:1"
	}
	a = strings.ReplaceAll(a, "x", ":")
	a = strings.ReplaceAll(a, "/", ":")
	a = strings.ReplaceAll(a, " ", "")
	return a
}
