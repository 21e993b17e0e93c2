package litellm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

var _ stage.ContentCreator = (*ContentCreator)(nil)

// ContentCreator drafts post copy in JSON mode.
type ContentCreator struct {
	llm   *Client
	model string
}

// NewContentCreator creates a ContentCreator using the given model.
func NewContentCreator(llm *Client, model string) *ContentCreator {
	return &ContentCreator{llm: llm, model: model}
}

type draftReply struct {
	Title      string         `json:"title"`
	Hook       string         `json:"hook"`
	Body       string         `json:"body"`
	CTA        string         `json:"cta"`
	PainPoints []string       `json:"painPoints"`
	Citations  []run.Citation `json:"citations"`
}

// Create drafts the post. The returned citations are the request citations
// followed by any new sources the model added.
func (c *ContentCreator) Create(ctx context.Context, req stage.ContentRequest) (*stage.ContentResult, error) {
	if !c.llm.Configured() || c.model == "" {
		return nil, fmt.Errorf("content creator: %w", domain.ErrNotConfigured)
	}

	prompt, err := render("content.tmpl", req)
	if err != nil {
		return nil, fmt.Errorf("content creator prompt: %w", err)
	}

	start := time.Now()
	resp, err := c.llm.ChatCompletion(ctx, ChatCompletionRequest{
		Model:          c.model,
		Messages:       []ChatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.7,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("content creator: %w", err)
	}

	var reply draftReply
	if err := decodeReply(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("content creator: %w", err)
	}
	if strings.TrimSpace(reply.Title) == "" || strings.TrimSpace(reply.Body) == "" {
		return nil, errors.New("content creator: model returned an incomplete draft")
	}

	painPoints := make([]string, 0, len(reply.PainPoints))
	for _, p := range reply.PainPoints {
		if p = strings.TrimSpace(p); p != "" {
			painPoints = append(painPoints, p)
		}
	}

	return &stage.ContentResult{
		Draft: run.Draft{
			Title:      strings.TrimSpace(reply.Title),
			Hook:       strings.TrimSpace(reply.Hook),
			Body:       strings.TrimSpace(reply.Body),
			CTA:        strings.TrimSpace(reply.CTA),
			PainPoints: painPoints,
			Citations:  mergeCitations(req.Citations, reply.Citations),
			Category:   req.Category,
		},
		Metadata: stage.Metadata{
			"model":     resp.Model,
			"prompt":    prompt,
			"latencyMs": time.Since(start).Milliseconds(),
			"tokensIn":  resp.TokensIn,
			"tokensOut": resp.TokensOut,
		},
	}, nil
}
