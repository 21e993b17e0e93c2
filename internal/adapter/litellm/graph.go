package litellm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

var _ stage.GraphInitializer = (*ModelRegistry)(nil)

// ModelRegistry verifies that the proxy is up and serves every model the
// pipeline stages are configured with.
type ModelRegistry struct {
	llm    *Client
	models []string
}

// NewModelRegistry creates a registry check for the given model names.
// Empty names are ignored.
func NewModelRegistry(llm *Client, models ...string) *ModelRegistry {
	names := make([]string, 0, len(models))
	for _, m := range models {
		if m != "" {
			names = append(names, m)
		}
	}
	return &ModelRegistry{llm: llm, models: names}
}

// Init checks proxy liveness and model availability.
func (r *ModelRegistry) Init(ctx context.Context) error {
	if !r.llm.Configured() {
		return fmt.Errorf("litellm: %w", domain.ErrNotConfigured)
	}
	if _, err := r.llm.Health(ctx); err != nil {
		return fmt.Errorf("litellm health: %w", err)
	}

	available, err := r.llm.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, want := range r.models {
		if !modelServed(available, want) {
			return fmt.Errorf("model %q is not served by litellm: %w", want, domain.ErrNotConfigured)
		}
	}
	return nil
}

// modelServed matches exact names and wildcard routes such as "gemini/*".
func modelServed(available []Model, name string) bool {
	for _, m := range available {
		switch {
		case m.ModelName == name, m.ModelName == "*":
			return true
		case strings.HasSuffix(m.ModelName, "/*") && strings.HasPrefix(name, strings.TrimSuffix(m.ModelName, "*")):
			return true
		}
	}
	return false
}
