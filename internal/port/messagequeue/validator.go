package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/PostForge/internal/domain/event"
)

// Validate checks that data is a JSON event envelope whose type matches the
// subject it arrived on. Subjects outside the run namespace pass through.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var want event.Type
	switch {
	case strings.HasSuffix(subject, SubjectRunUpdated):
		want = event.TypeRunUpdated
	case strings.HasSuffix(subject, SubjectLogAdded):
		want = event.TypeLogAdded
	default:
		return nil
	}

	var env struct {
		Type    event.Type      `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if env.Type != want {
		return fmt.Errorf("subject %s carries event type %q, want %q", subject, env.Type, want)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("subject %s: empty payload", subject)
	}
	return nil
}
