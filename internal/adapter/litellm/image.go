package litellm

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

var _ stage.ImageGenerator = (*ImageGenerator)(nil)

// ImageGenerator renders the post image through the images endpoint.
type ImageGenerator struct {
	llm   *Client
	model string
	size  string
	clock clock.Clock
}

// NewImageGenerator creates an ImageGenerator. size is the default used when
// the run input sets no resolution.
func NewImageGenerator(llm *Client, model, size string, c clock.Clock) *ImageGenerator {
	return &ImageGenerator{llm: llm, model: model, size: size, clock: c}
}

type imagePrompt struct {
	Title string
	Hook  string
	Style string
}

// Generate produces one image asset for the run's draft.
func (g *ImageGenerator) Generate(ctx context.Context, req stage.MediaRequest) (*stage.MediaResult, error) {
	if !g.llm.Configured() || g.model == "" {
		return nil, fmt.Errorf("image generator: %w", domain.ErrNotConfigured)
	}

	prompt, err := render("image.tmpl", imagePrompt{
		Title: req.Draft.Title,
		Hook:  req.Draft.Hook,
		Style: req.Input.Style,
	})
	if err != nil {
		return nil, fmt.Errorf("image prompt: %w", err)
	}

	size := g.size
	if req.Input.Resolution != "" {
		size = req.Input.Resolution
	}

	start := time.Now()
	img, err := g.llm.GenerateImage(ctx, ImageRequest{
		Model:  g.model,
		Prompt: prompt,
		N:      1,
		Size:   size,
	})
	if err != nil {
		return nil, fmt.Errorf("image generator: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	uri := img.URL
	if uri == "" {
		uri = "data:image/png;base64," + img.B64JSON
	}

	meta := stage.Metadata{
		"model":     g.model,
		"prompt":    prompt,
		"size":      size,
		"latencyMs": latency,
	}
	if img.RevisedPrompt != "" {
		meta["revisedPrompt"] = img.RevisedPrompt
	}

	return &stage.MediaResult{
		Asset: run.Asset{
			ID:        clock.NewID(),
			Type:      run.AssetImage,
			URI:       uri,
			Model:     g.model,
			LatencyMs: latency,
			CreatedAt: g.clock.Now(),
		},
		Metadata: meta,
	}, nil
}
