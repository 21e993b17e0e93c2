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

var _ stage.NewsHunter = (*NewsHunter)(nil)

// NewsHunter discovers a topic with a search-grounded chat completion.
type NewsHunter struct {
	llm   *Client
	model string
}

// NewNewsHunter creates a NewsHunter using the given model.
func NewNewsHunter(llm *Client, model string) *NewsHunter {
	return &NewsHunter{llm: llm, model: model}
}

type newsReply struct {
	Topic     string         `json:"topic"`
	Summary   string         `json:"summary"`
	Citations []run.Citation `json:"citations"`
}

// Discover asks the model for one current topic matching the request.
func (h *NewsHunter) Discover(ctx context.Context, req stage.NewsRequest) (*stage.NewsResult, error) {
	if !h.llm.Configured() || h.model == "" {
		return nil, fmt.Errorf("news hunter: %w", domain.ErrNotConfigured)
	}

	prompt, err := render("news.tmpl", req)
	if err != nil {
		return nil, fmt.Errorf("news hunter prompt: %w", err)
	}

	start := time.Now()
	resp, err := h.llm.ChatCompletion(ctx, ChatCompletionRequest{
		Model:            h.model,
		Messages:         []ChatMessage{{Role: "user", Content: prompt}},
		Temperature:      0.4,
		WebSearchOptions: &WebSearchOptions{SearchContextSize: "medium"},
	})
	if err != nil {
		return nil, fmt.Errorf("news hunter: %w", err)
	}

	var reply newsReply
	if err := decodeReply(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("news hunter: %w", err)
	}
	reply.Topic = strings.TrimSpace(reply.Topic)
	if reply.Topic == "" {
		return nil, errors.New("news hunter: model returned no topic")
	}

	return &stage.NewsResult{
		Topic:     reply.Topic,
		Summary:   strings.TrimSpace(reply.Summary),
		Citations: mergeCitations(reply.Citations),
		Metadata: stage.Metadata{
			"model":     resp.Model,
			"prompt":    prompt,
			"latencyMs": time.Since(start).Milliseconds(),
			"tokensIn":  resp.TokensIn,
			"tokensOut": resp.TokensOut,
		},
	}, nil
}
