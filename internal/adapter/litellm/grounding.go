package litellm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/cache"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

var _ stage.GroundingRetriever = (*GroundingRetriever)(nil)

// GroundingRetriever fetches supporting context for the drafting stage.
// Results are memoized per query and file set when a cache is attached.
type GroundingRetriever struct {
	llm   *Client
	model string
	cache cache.Cache
	ttl   time.Duration
}

// NewGroundingRetriever creates a retriever. c may be nil.
func NewGroundingRetriever(llm *Client, model string, c cache.Cache, ttl time.Duration) *GroundingRetriever {
	return &GroundingRetriever{llm: llm, model: model, cache: c, ttl: ttl}
}

type groundingPrompt struct {
	Query string
	Files []run.FileRef
}

// Retrieve returns a context snippet and its sources.
func (g *GroundingRetriever) Retrieve(ctx context.Context, query string, files []run.FileRef) (*stage.Grounding, error) {
	if !g.llm.Configured() || g.model == "" {
		return nil, fmt.Errorf("grounding: %w", domain.ErrNotConfigured)
	}

	key := groundingKey(g.model, query, files)
	if g.cache != nil {
		if data, ok, err := g.cache.Get(ctx, key); err == nil && ok {
			var cached stage.Grounding
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	prompt, err := render("grounding.tmpl", groundingPrompt{Query: query, Files: files})
	if err != nil {
		return nil, fmt.Errorf("grounding prompt: %w", err)
	}

	resp, err := g.llm.ChatCompletion(ctx, ChatCompletionRequest{
		Model:            g.model,
		Messages:         []ChatMessage{{Role: "user", Content: prompt}},
		Temperature:      0.2,
		WebSearchOptions: &WebSearchOptions{SearchContextSize: "low"},
	})
	if err != nil {
		return nil, fmt.Errorf("grounding: %w", err)
	}

	var reply struct {
		Snippet   string         `json:"snippet"`
		Citations []run.Citation `json:"citations"`
	}
	if err := decodeReply(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("grounding: %w", err)
	}

	result := &stage.Grounding{
		Snippet:   strings.TrimSpace(reply.Snippet),
		Citations: mergeCitations(reply.Citations),
	}

	if g.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := g.cache.Set(ctx, key, data, g.ttl); err != nil {
				slog.Warn("grounding cache set failed", "error", err)
			}
		}
	}
	return result, nil
}

func groundingKey(model, query string, files []run.FileRef) string {
	h, _ := blake2b.New256(nil) // nil key never fails
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	for _, f := range files {
		h.Write([]byte{0})
		h.Write([]byte(f.URI))
	}
	return "grounding:" + hex.EncodeToString(h.Sum(nil))
}
