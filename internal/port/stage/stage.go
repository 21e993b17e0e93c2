// Package stage defines the narrow contracts of the external services each
// pipeline stage delegates to. Implementations must return an error, never a
// zero result, when they cannot produce output.
package stage

import (
	"context"
	"time"

	"github.com/Strob0t/PostForge/internal/domain/run"
)

// Metadata is free-form diagnostic output surfaced on the completed step log
// (model identifiers, prompts, latencies).
type Metadata map[string]any

// NewsRequest asks the discovery service for a topic.
type NewsRequest struct {
	TopicHint string
	Tone      run.Tone
	Category  run.Category
}

// NewsResult is a discovered topic with its sources.
type NewsResult struct {
	Topic     string
	Summary   string
	Citations []run.Citation
	Metadata  Metadata
}

// NewsHunter discovers a newsworthy topic.
type NewsHunter interface {
	Discover(ctx context.Context, req NewsRequest) (*NewsResult, error)
}

// Grounding is context retrieved for the drafting stage.
type Grounding struct {
	Snippet   string
	Citations []run.Citation
}

// GroundingRetriever looks up supporting context for a query, optionally
// restricted to uploaded files.
type GroundingRetriever interface {
	Retrieve(ctx context.Context, query string, files []run.FileRef) (*Grounding, error)
}

// ContentRequest carries everything the drafting stage needs.
type ContentRequest struct {
	Tone             run.Tone
	Category         run.Category
	Topic            string
	Summary          string
	ManualIdeaText   string
	GroundingSnippet string
	Citations        []run.Citation
}

// ContentResult is a drafted post.
type ContentResult struct {
	Draft    run.Draft
	Metadata Metadata
}

// ContentCreator drafts post copy.
type ContentCreator interface {
	Create(ctx context.Context, req ContentRequest) (*ContentResult, error)
}

// MediaRequest describes the asset to generate for a run.
type MediaRequest struct {
	RunID    string
	Draft    run.Draft
	Input    run.Input
	Category run.Category
}

// MediaResult is a generated asset.
type MediaResult struct {
	Asset    run.Asset
	Metadata Metadata
}

// ImageGenerator renders the post image.
type ImageGenerator interface {
	Generate(ctx context.Context, req MediaRequest) (*MediaResult, error)
}

// Operation is an opaque handle to an in-flight video generation.
type Operation struct {
	Name  string
	Model string
}

// PollResult reports progress of an Operation.
type PollResult struct {
	Done bool
	URI  string
}

// VideoGenerator is a two-phase long-running generator.
type VideoGenerator interface {
	Start(ctx context.Context, req MediaRequest) (Operation, error)
	Poll(ctx context.Context, op Operation) (PollResult, error)
	CreateAsset(runID string, op Operation, uri string, elapsed time.Duration) run.Asset
}

// DeliveryRequest posts a finished run to a chat channel.
type DeliveryRequest struct {
	Run       run.Run
	TeamID    string
	ChannelID string
}

// DeliveryResult is the outcome of a successful post.
type DeliveryResult struct {
	Delivery run.TeamsDelivery
	Metadata Metadata
}

// Deliverer posts content to a chat destination.
type Deliverer interface {
	Deliver(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error)
}

// GraphInitializer prepares the process-wide agent/tool graph the stage
// services share (model registry, tool bindings). It may be called more
// than once; the caller caches success.
type GraphInitializer interface {
	Init(ctx context.Context) error
}

// Services bundles every stage collaborator the orchestrator drives.
type Services struct {
	News      NewsHunter
	Grounding GroundingRetriever
	Content   ContentCreator
	Image     ImageGenerator
	Video     VideoGenerator
	Delivery  Deliverer
}
