package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/PostForge/internal/adapter/memory"
	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/port/stage"
	"github.com/Strob0t/PostForge/internal/service"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNews struct {
	mu    sync.Mutex
	calls int
	last  stage.NewsRequest
	err   error
}

func (f *fakeNews) Discover(_ context.Context, req stage.NewsRequest) (*stage.NewsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &stage.NewsResult{
		Topic:     "Agentic AI in banking",
		Summary:   "Banks pilot agents.",
		Citations: []run.Citation{{Title: "FT", URL: "https://ft.example/a"}},
		Metadata:  stage.Metadata{"model": "news-model"},
	}, nil
}

func (f *fakeNews) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGrounding struct {
	mu    sync.Mutex
	query string
	files []run.FileRef
	err   error
}

func (f *fakeGrounding) Retrieve(_ context.Context, query string, files []run.FileRef) (*stage.Grounding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	f.files = files
	if f.err != nil {
		return nil, f.err
	}
	return &stage.Grounding{
		Snippet:   "Adoption doubled.",
		Citations: []run.Citation{{Title: "Survey", URL: "https://survey.example"}},
	}, nil
}

type fakeContent struct {
	mu    sync.Mutex
	calls int
	last  stage.ContentRequest
	err   error
	block bool // wait for ctx cancellation
}

func (f *fakeContent) Create(ctx context.Context, req stage.ContentRequest) (*stage.ContentResult, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &stage.ContentResult{
		Draft: run.Draft{
			Title:      "Agents are here",
			Hook:       "Your bank just hired a robot.",
			Body:       "Body.",
			CTA:        "Talk to us.",
			PainPoints: []string{"cost"},
			Citations:  req.Citations,
			Category:   req.Category,
		},
		Metadata: stage.Metadata{"model": "text-model"},
	}, nil
}

func (f *fakeContent) Last() stage.ContentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeImage struct {
	err error
}

func (f *fakeImage) Generate(_ context.Context, req stage.MediaRequest) (*stage.MediaResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stage.MediaResult{
		Asset: run.Asset{
			ID:        "img-" + req.RunID,
			Type:      run.AssetImage,
			URI:       "https://img.example/" + req.RunID + ".png",
			Model:     "image-model",
			LatencyMs: 1200,
			CreatedAt: t0,
		},
		Metadata: stage.Metadata{"model": "image-model"},
	}, nil
}

// fakeVideo reports done on poll number doneAfter; zero never finishes.
type fakeVideo struct {
	mu        sync.Mutex
	doneAfter int
	polls     int
	startErr  error
}

func (f *fakeVideo) Start(_ context.Context, req stage.MediaRequest) (stage.Operation, error) {
	if f.startErr != nil {
		return stage.Operation{}, f.startErr
	}
	return stage.Operation{Name: "operations/" + req.RunID, Model: "video-model"}, nil
}

func (f *fakeVideo) Poll(_ context.Context, op stage.Operation) (stage.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.doneAfter > 0 && f.polls >= f.doneAfter {
		return stage.PollResult{Done: true, URI: "https://vid.example/" + op.Name + ".mp4"}, nil
	}
	return stage.PollResult{}, nil
}

func (f *fakeVideo) CreateAsset(runID string, op stage.Operation, uri string, elapsed time.Duration) run.Asset {
	return run.Asset{
		ID:        "vid-" + runID,
		Type:      run.AssetVideo,
		URI:       uri,
		Model:     op.Model,
		LatencyMs: elapsed.Milliseconds(),
		CreatedAt: t0,
	}
}

func (f *fakeVideo) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls int
	last  stage.DeliveryRequest
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, req stage.DeliveryRequest) (*stage.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &stage.DeliveryResult{
		Delivery: run.TeamsDelivery{
			TeamID:    req.TeamID,
			ChannelID: req.ChannelID,
			MessageID: "msg-1",
			Status:    "posted",
			PostedAt:  t0,
		},
		Metadata: stage.Metadata{"transport": "fake"},
	}, nil
}

func (f *fakeDeliverer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGraph struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeGraph) Init(context.Context) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeGraph) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects every published envelope.
type recorder struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (r *recorder) Listen(env event.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
}

// statuses returns the run statuses published for runID with consecutive
// duplicates collapsed.
func (r *recorder) statuses(runID string) []run.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []run.Status
	for _, e := range r.events {
		if e.Type != event.TypeRunUpdated {
			continue
		}
		rr := e.Payload.(run.Run)
		if rr.ID != runID {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != rr.Status {
			out = append(out, rr.Status)
		}
	}
	return out
}

func (r *recorder) logs() []steplog.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []steplog.Log
	for _, e := range r.events {
		if e.Type == event.TypeLogAdded {
			out = append(out, e.Payload.(steplog.Log))
		}
	}
	return out
}

func (r *recorder) assetCounts(runID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Type != event.TypeRunUpdated {
			continue
		}
		if rr := e.Payload.(run.Run); rr.ID == runID {
			out = append(out, len(rr.Assets))
		}
	}
	return out
}

type harness struct {
	store     *memory.Store
	bus       *service.EventBus
	orch      *service.Orchestrator
	clock     *clock.Fixed
	rec       *recorder
	news      *fakeNews
	grounding *fakeGrounding
	content   *fakeContent
	image     *fakeImage
	video     *fakeVideo
	delivery  *fakeDeliverer
	graph     *fakeGraph

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func newHarness(t *testing.T, cfg service.OrchestratorConfig) *harness {
	t.Helper()

	h := &harness{
		clock:     clock.NewFixed(t0),
		bus:       service.NewEventBus(),
		rec:       &recorder{},
		news:      &fakeNews{},
		grounding: &fakeGrounding{},
		content:   &fakeContent{},
		image:     &fakeImage{},
		video:     &fakeVideo{doneAfter: 1},
		delivery:  &fakeDeliverer{},
		graph:     &fakeGraph{},
	}
	h.store = memory.NewStore(h.clock)
	t.Cleanup(h.bus.Subscribe(h.rec.Listen))

	stages := stage.Services{
		News:      h.news,
		Grounding: h.grounding,
		Content:   h.content,
		Image:     h.image,
		Video:     h.video,
		Delivery:  h.delivery,
	}
	h.orch = service.NewOrchestrator(h.store, h.bus, stages, service.NewAgentGraph(h.graph), cfg, h.clock, discardLogger())
	h.orch.SetSleeper(func(_ context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.sleepMu.Unlock()
		h.clock.Advance(d)
		return nil
	})
	return h
}

func (h *harness) Sleeps() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) createRun(t *testing.T, req run.CreateRequest) *run.Run {
	t.Helper()
	req.Normalize()
	r, err := h.store.CreateRun(context.Background(), req)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return r
}

func manualIdeaRequest() run.CreateRequest {
	return run.CreateRequest{
		SourceType: run.SourceManual,
		Tone:       run.ToneProfessional,
		Category:   run.CategoryIndustryNews,
		Input: run.Input{
			RequestedMedia: run.MediaImageOnly,
			ManualIdeaText: "AI adoption accelerating",
		},
	}
}

func dailyRequest(media run.RequestedMedia) run.CreateRequest {
	return run.CreateRequest{
		SourceType: run.SourceDaily,
		Tone:       run.ToneBold,
		Category:   run.CategoryThoughtLeadership,
		Input:      run.Input{RequestedMedia: media},
	}
}

// completedSteps returns the step names of completed rows in insertion order.
func completedSteps(logs []steplog.Log) []steplog.StepName {
	var out []steplog.StepName
	for _, l := range logs {
		if l.Status == steplog.StatusCompleted {
			out = append(out, l.StepName)
		}
	}
	return out
}

// chronological reverses a newest-first log listing.
func chronological(logs []steplog.Log) []steplog.Log {
	out := make([]steplog.Log, len(logs))
	for i, l := range logs {
		out[len(logs)-1-i] = l
	}
	return out
}
