// Package videogen implements the two-phase video stage against a
// long-running-operation HTTP API: start returns an operation name, polling
// that name eventually yields the video URI.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

var _ stage.VideoGenerator = (*Client)(nil)

// Client talks to the video generation API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	clock      clock.Clock
}

// NewClient creates a video client.
func NewClient(baseURL, apiKey, model string, c clock.Clock) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		clock: c,
	}
}

type startRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

type instance struct {
	Prompt string `json:"prompt"`
}

type parameters struct {
	AspectRatio string `json:"aspectRatio"`
	Resolution  string `json:"resolution,omitempty"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// Start submits a generation and returns its operation handle.
func (c *Client) Start(ctx context.Context, req stage.MediaRequest) (stage.Operation, error) {
	if c.baseURL == "" || c.model == "" {
		return stage.Operation{}, fmt.Errorf("video generator: %w", domain.ErrNotConfigured)
	}

	body := startRequest{
		Instances:  []instance{{Prompt: videoPrompt(req)}},
		Parameters: parameters{AspectRatio: "16:9", Resolution: videoResolution(req.Input.Resolution)},
	}
	var op operation
	if err := c.do(ctx, http.MethodPost, "/models/"+c.model+":predictLongRunning", body, &op); err != nil {
		return stage.Operation{}, fmt.Errorf("start video: %w", err)
	}
	if op.Name == "" {
		return stage.Operation{}, errors.New("start video: response has no operation name")
	}
	return stage.Operation{Name: op.Name, Model: c.model}, nil
}

// Poll reports whether the operation finished. A finished operation with an
// error or without a video URI is returned as an error.
func (c *Client) Poll(ctx context.Context, op stage.Operation) (stage.PollResult, error) {
	var got operation
	if err := c.do(ctx, http.MethodGet, "/"+strings.TrimLeft(op.Name, "/"), nil, &got); err != nil {
		return stage.PollResult{}, fmt.Errorf("poll video: %w", err)
	}
	if !got.Done {
		return stage.PollResult{}, nil
	}
	if got.Error != nil {
		return stage.PollResult{}, fmt.Errorf("video operation %s failed (%d): %s", op.Name, got.Error.Code, got.Error.Message)
	}
	if got.Response == nil || len(got.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return stage.PollResult{}, fmt.Errorf("video operation %s finished without samples", op.Name)
	}
	uri := got.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	if uri == "" {
		return stage.PollResult{}, fmt.Errorf("video operation %s finished without a uri", op.Name)
	}
	return stage.PollResult{Done: true, URI: uri}, nil
}

// CreateAsset builds the video asset record for a finished operation.
func (c *Client) CreateAsset(_ string, op stage.Operation, uri string, elapsed time.Duration) run.Asset {
	model := op.Model
	if model == "" {
		model = c.model
	}
	return run.Asset{
		ID:        clock.NewID(),
		Type:      run.AssetVideo,
		URI:       uri,
		Model:     model,
		LatencyMs: elapsed.Milliseconds(),
		CreatedAt: c.clock.Now(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("video API error %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func videoPrompt(req stage.MediaRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A short, professional social media video about %q.", req.Draft.Title)
	if req.Draft.Hook != "" {
		fmt.Fprintf(&b, " Opening idea: %s.", strings.TrimSuffix(req.Draft.Hook, "."))
	}
	if req.Input.Style != "" {
		fmt.Fprintf(&b, " Visual style: %s.", req.Input.Style)
	}
	b.WriteString(" No on-screen text or logos.")
	return b.String()
}

// videoResolution maps image-style sizes to the API's named resolutions.
func videoResolution(res string) string {
	switch {
	case res == "":
		return ""
	case strings.Contains(res, "1080"):
		return "1080p"
	default:
		return "720p"
	}
}
