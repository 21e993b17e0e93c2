package run

import (
	"fmt"
	"time"

	"github.com/Strob0t/PostForge/internal/domain"
)

var validSourceTypes = map[SourceType]bool{
	SourceDaily:  true,
	SourceManual: true,
}

var validTones = map[Tone]bool{
	ToneProfessional:   true,
	ToneConversational: true,
	ToneBold:           true,
	ToneEducational:    true,
}

var validCategories = map[Category]bool{
	CategoryIndustryNews:      true,
	CategoryThoughtLeadership: true,
	CategoryCaseStudy:         true,
	CategoryTipsAndInsights:   true,
}

var validMedia = map[RequestedMedia]bool{
	MediaImageOnly:     true,
	MediaImageAndVideo: true,
}

// ValidStatus reports whether s is a known run status.
func ValidStatus(s Status) bool {
	return s == StatusReviewReady || s == StatusPosted || s == StatusFailed || isActive(s)
}

func isActive(s Status) bool {
	for _, a := range activeStatuses {
		if a == s {
			return true
		}
	}
	return false
}

// Normalize fills defaults on a create request.
func (req *CreateRequest) Normalize() {
	if req.SourceType == "" {
		req.SourceType = SourceManual
	}
	if req.Tone == "" {
		req.Tone = ToneProfessional
	}
	if req.Input.RequestedMedia == "" {
		req.Input.RequestedMedia = MediaImageOnly
	}
}

// Validate checks that a create request carries known enum values and, for
// manual runs, something to write about.
func (req *CreateRequest) Validate() error {
	if !validSourceTypes[req.SourceType] {
		return fmt.Errorf("invalid sourceType %q: %w", req.SourceType, domain.ErrValidation)
	}
	if !validTones[req.Tone] {
		return fmt.Errorf("invalid tone %q: %w", req.Tone, domain.ErrValidation)
	}
	if !validCategories[req.Category] {
		return fmt.Errorf("invalid category %q: %w", req.Category, domain.ErrValidation)
	}
	if !validMedia[req.Input.RequestedMedia] {
		return fmt.Errorf("invalid requestedMedia %q: %w", req.Input.RequestedMedia, domain.ErrValidation)
	}
	if req.SourceType == SourceManual &&
		req.Input.ManualIdeaText == "" &&
		req.Input.SelectedNewsTopic == "" &&
		len(req.Input.UploadedFiles) == 0 {
		return fmt.Errorf("manual runs need an idea, a topic, or uploaded files: %w", domain.ErrValidation)
	}
	for i, f := range req.Input.UploadedFiles {
		if f.URI == "" {
			return fmt.Errorf("uploadedFiles[%d].uri is required: %w", i, domain.ErrValidation)
		}
	}
	return nil
}

// New builds a queued run from a validated request.
func New(id string, req CreateRequest, now time.Time) Run {
	return Run{
		ID:         id,
		SourceType: req.SourceType,
		Status:     StatusQueued,
		Tone:       req.Tone,
		Category:   req.Category,
		CreatedAt:  now,
		Input:      req.Input,
		Assets:     []Asset{},
	}
}
