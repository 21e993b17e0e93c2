package litellm

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Strob0t/PostForge/internal/domain/run"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// extractJSON pulls a JSON object out of a model reply that may be wrapped
// in markdown fences or surrounded by prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func decodeReply(content string, v any) error {
	if err := json.Unmarshal([]byte(extractJSON(content)), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// mergeCitations concatenates citation lists, dropping entries without a URL
// and later duplicates of the same URL.
func mergeCitations(lists ...[]run.Citation) []run.Citation {
	seen := make(map[string]struct{})
	out := make([]run.Citation, 0)
	for _, list := range lists {
		for _, c := range list {
			u := strings.TrimSpace(c.URL)
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, run.Citation{Title: strings.TrimSpace(c.Title), URL: u})
		}
	}
	return out
}
