package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Strob0t/PostForge/internal/domain/run"
)

// transport posts one run to one destination and returns the message id if
// the API reports one.
type transport interface {
	name() string
	post(ctx context.Context, teamID, channelID string, r run.Run) (string, error)
}

// webhookTransport posts an Adaptive Card to an incoming webhook. The webhook
// URL already encodes the destination channel.
type webhookTransport struct {
	url        string
	httpClient *http.Client
}

func (t *webhookTransport) name() string { return "webhook" }

func (t *webhookTransport) post(ctx context.Context, _, _ string, r run.Run) (string, error) {
	msg := webhookMessage{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content:     buildCard(r),
		}},
	}
	if _, err := doJSON(ctx, t.httpClient, t.url, "", msg); err != nil {
		return "", fmt.Errorf("teams webhook: %w", err)
	}
	return "", nil
}

// graphTransport posts an HTML channel message via the Graph API.
type graphTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func (t *graphTransport) name() string { return "graph" }

func (t *graphTransport) post(ctx context.Context, teamID, channelID string, r run.Run) (string, error) {
	endpoint := fmt.Sprintf("%s/teams/%s/channels/%s/messages",
		t.baseURL, url.PathEscape(teamID), url.PathEscape(channelID))

	body := map[string]any{
		"subject": r.Draft.Title,
		"body": map[string]string{
			"contentType": "html",
			"content":     buildHTML(r),
		},
	}
	data, err := doJSON(ctx, t.httpClient, endpoint, t.token, body)
	if err != nil {
		return "", fmt.Errorf("teams graph: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("teams graph: unmarshal response: %w", err)
	}
	return created.ID, nil
}

// StatusError is a non-2xx response from a Teams endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("teams API %d: %s", e.StatusCode, e.Body)
}

func doJSON(ctx context.Context, client *http.Client, endpoint, token string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req) //nolint:gosec // endpoint from trusted config
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
