// Package run defines the Run aggregate: one branded-content pipeline execution
// from topic discovery through delivery.
package run

import "time"

// Status represents the current state of a run.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusResearching     Status = "researching"
	StatusDrafting        Status = "drafting"
	StatusImageGeneration Status = "image_generation"
	StatusVideoGeneration Status = "video_generation"
	StatusReviewReady     Status = "review_ready" // pipeline done, awaiting manual delivery
	StatusPosted          Status = "posted"
	StatusFailed          Status = "failed"
)

// SourceType records how a run was triggered.
type SourceType string

const (
	SourceDaily  SourceType = "daily"
	SourceManual SourceType = "manual"
)

// Tone selects the voice of the drafted copy.
type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneConversational Tone = "conversational"
	ToneBold           Tone = "bold"
	ToneEducational    Tone = "educational"
)

// Category selects the content angle.
type Category string

const (
	CategoryIndustryNews      Category = "industry_news"
	CategoryThoughtLeadership Category = "thought_leadership"
	CategoryCaseStudy         Category = "case_study"
	CategoryTipsAndInsights   Category = "tips_and_insights"
)

// RequestedMedia declares which assets the pipeline must produce.
type RequestedMedia string

const (
	MediaImageOnly     RequestedMedia = "image_only"
	MediaImageAndVideo RequestedMedia = "image_and_video"
)

// AssetType distinguishes generated media.
type AssetType string

const (
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
)

// FileRef points at a user-uploaded file used as grounding material.
type FileRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
}

// Input is the frozen configuration a run was created with.
type Input struct {
	RequestedMedia    RequestedMedia `json:"requestedMedia"`
	Resolution        string         `json:"resolution,omitempty"`
	Style             string         `json:"style,omitempty"`
	ManualIdeaText    string         `json:"manualIdeaText,omitempty"`
	UploadedFiles     []FileRef      `json:"uploadedFiles,omitempty"`
	SelectedNewsTopic string         `json:"selectedNewsTopic,omitempty"`
}

// WantsVideo reports whether the video stage must run.
func (in Input) WantsVideo() bool {
	return in.RequestedMedia == MediaImageAndVideo
}

// Citation is a source backing a claim in the draft.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Draft is the copy produced by the drafting stage.
type Draft struct {
	Title      string     `json:"title"`
	Hook       string     `json:"hook"`
	Body       string     `json:"body"`
	CTA        string     `json:"cta"`
	PainPoints []string   `json:"painPoints"`
	Citations  []Citation `json:"citations"`
	Category   Category   `json:"category"`
}

// Asset is a generated media file. Assets are append-only on a run.
type Asset struct {
	ID        string    `json:"id"`
	Type      AssetType `json:"type"`
	URI       string    `json:"uri"`
	Model     string    `json:"model"`
	LatencyMs int64     `json:"latencyMs"`
	CreatedAt time.Time `json:"createdAt"`
}

// TeamsDelivery records a successful post to a chat channel.
type TeamsDelivery struct {
	TeamID    string    `json:"teamId"`
	ChannelID string    `json:"channelId"`
	MessageID string    `json:"messageId,omitempty"`
	Status    string    `json:"status"`
	PostedAt  time.Time `json:"postedAt"`
}

// Run is one pipeline execution. It is owned by the repository and mutated
// only through its updater-function primitive.
type Run struct {
	ID            string         `json:"id"`
	SourceType    SourceType     `json:"sourceType"`
	Status        Status         `json:"status"`
	Tone          Tone           `json:"tone"`
	Category      Category       `json:"category"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	Input         Input          `json:"input"`
	NewsTopic     string         `json:"newsTopic,omitempty"`
	NewsSummary   string         `json:"newsSummary,omitempty"`
	Draft         *Draft         `json:"draft,omitempty"`
	Assets        []Asset        `json:"assets"`
	TeamsDelivery *TeamsDelivery `json:"teamsDelivery,omitempty"`
	Version       int            `json:"version"`
}

// CreateRequest holds the fields needed to create a new run.
type CreateRequest struct {
	SourceType SourceType `json:"sourceType"`
	Tone       Tone       `json:"tone"`
	Category   Category   `json:"category"`
	Input      Input      `json:"input"`
}

// KeepIdentity restores the fields fixed at creation from orig, discarding
// any change an updater made to them.
func (r *Run) KeepIdentity(orig Run) {
	r.ID = orig.ID
	r.SourceType = orig.SourceType
	r.Tone = orig.Tone
	r.Category = orig.Category
	r.CreatedAt = orig.CreatedAt
	r.Input = orig.Input
	r.Input.UploadedFiles = append([]FileRef(nil), orig.Input.UploadedFiles...)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r Run) Clone() Run {
	c := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.Draft != nil {
		d := *r.Draft
		d.PainPoints = append([]string(nil), r.Draft.PainPoints...)
		d.Citations = append([]Citation(nil), r.Draft.Citations...)
		c.Draft = &d
	}
	if r.TeamsDelivery != nil {
		td := *r.TeamsDelivery
		c.TeamsDelivery = &td
	}
	c.Assets = append(make([]Asset, 0, len(r.Assets)), r.Assets...)
	c.Input.UploadedFiles = append([]FileRef(nil), r.Input.UploadedFiles...)
	return c
}
