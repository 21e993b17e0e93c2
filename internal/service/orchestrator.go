package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/config"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/logger"
	"github.com/Strob0t/PostForge/internal/port/database"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

// ManualIdeaTopic is the topic recorded when a manual idea replaces discovery.
const ManualIdeaTopic = "Manual idea"

// Destination is a chat channel to deliver to.
type Destination struct {
	TeamID    string
	ChannelID string
}

// Complete reports whether both identifiers are set.
func (d Destination) Complete() bool {
	return d.TeamID != "" && d.ChannelID != ""
}

// OrchestratorConfig carries the orchestrator's tunables.
type OrchestratorConfig struct {
	Teams        config.Teams
	StageTimeout time.Duration // 0 disables the per-stage deadline
	Video        VideoPolling
}

// Orchestrator drives a run through its pipeline stages. Every status or
// content write goes through the repository and is followed by a
// run_updated event carrying the stored run.
type Orchestrator struct {
	store        database.RunRepository
	bus          *EventBus
	stages       stage.Services
	graph        *AgentGraph
	teams        config.Teams
	stageTimeout time.Duration
	video        VideoPolling
	clock        clock.Clock
	sleep        Sleeper
	telemetry    Telemetry
	log          *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	store database.RunRepository,
	bus *EventBus,
	stages stage.Services,
	graph *AgentGraph,
	cfg OrchestratorConfig,
	c clock.Clock,
	log *slog.Logger,
) *Orchestrator {
	if cfg.Video.Attempts <= 0 {
		cfg.Video = DefaultVideoPolling
	}
	if graph == nil {
		graph = NewAgentGraph(nil)
	}
	return &Orchestrator{
		store:        store,
		bus:          bus,
		stages:       stages,
		graph:        graph,
		teams:        cfg.Teams,
		stageTimeout: cfg.StageTimeout,
		video:        cfg.Video,
		clock:        c,
		sleep:        sleepContext,
		telemetry:    nopTelemetry{},
		log:          log,
	}
}

// SetSleeper replaces the wait used between video polls.
func (o *Orchestrator) SetSleeper(s Sleeper) {
	o.sleep = s
}

// SetTelemetry attaches tracing and metrics.
func (o *Orchestrator) SetTelemetry(t Telemetry) {
	o.telemetry = t
}

// TeamsDefaults returns the environment-level delivery destination.
func (o *Orchestrator) TeamsDefaults() Destination {
	return Destination{TeamID: o.teams.TeamID, ChannelID: o.teams.ChannelID}
}

// ExecuteRun runs the full pipeline for runID. An unknown run is returned as
// a not-found error without touching any state. Any later failure marks the
// run failed and is returned to the caller.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID string) error {
	ctx = logger.WithRunID(ctx, runID)
	log := logger.From(ctx, o.log)

	r, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("execute run: %w", err)
	}
	o.telemetry.RunStarted(ctx, runID, r.SourceType)

	final, err := o.runPipeline(ctx, r)
	if err != nil {
		if _, serr := o.setStatus(ctx, runID, run.StatusFailed); serr != nil {
			log.Error("mark run failed", "error", serr)
		}
		o.telemetry.RunFinished(ctx, runID, run.StatusFailed)
		return fmt.Errorf("execute run %s: %w", runID, err)
	}

	o.telemetry.RunFinished(ctx, runID, final.Status)
	log.Info("run finished", "status", string(final.Status))
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, r *run.Run) (*run.Run, error) {
	if err := o.graph.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("init agent graph: %w", err)
	}

	r, err := o.setStatus(ctx, r.ID, run.StatusResearching)
	if err != nil {
		return nil, err
	}

	news, err := runStep(ctx, o, r.ID, steplog.StepNewsHunter, func(ctx context.Context) (*stage.NewsResult, stage.Metadata, error) {
		res, err := o.discover(ctx, r)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Metadata, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.update(ctx, r.ID, func(cur run.Run) (run.Run, error) {
		cur.NewsTopic = news.Topic
		cur.NewsSummary = news.Summary
		return cur, nil
	}); err != nil {
		return nil, err
	}

	if r, err = o.setStatus(ctx, r.ID, run.StatusDrafting); err != nil {
		return nil, err
	}

	content, err := runStep(ctx, o, r.ID, steplog.StepContentCreator, func(ctx context.Context) (*stage.ContentResult, stage.Metadata, error) {
		res, err := o.draft(ctx, r, news)
		if err != nil {
			return nil, nil, err
		}
		return res, res.Metadata, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.update(ctx, r.ID, func(cur run.Run) (run.Run, error) {
		d := content.Draft
		cur.Draft = &d
		return cur, nil
	}); err != nil {
		return nil, err
	}

	if r, err = o.setStatus(ctx, r.ID, run.StatusImageGeneration); err != nil {
		return nil, err
	}

	image, err := runStep(ctx, o, r.ID, steplog.StepImageAgent, func(ctx context.Context) (run.Asset, stage.Metadata, error) {
		if o.stages.Image == nil {
			return run.Asset{}, nil, fmt.Errorf("image generator: %w", domain.ErrNotConfigured)
		}
		res, err := o.stages.Image.Generate(ctx, mediaRequest(r))
		if err != nil {
			return run.Asset{}, nil, err
		}
		return res.Asset, res.Metadata, nil
	})
	if err != nil {
		return nil, err
	}
	if r, err = o.addAsset(ctx, r.ID, image); err != nil {
		return nil, err
	}

	if r.Input.WantsVideo() {
		if r, err = o.setStatus(ctx, r.ID, run.StatusVideoGeneration); err != nil {
			return nil, err
		}
		video, err := runStep(ctx, o, r.ID, steplog.StepVideoAgent, func(ctx context.Context) (run.Asset, stage.Metadata, error) {
			return o.generateVideo(ctx, *r)
		})
		if err != nil {
			return nil, err
		}
		if r, err = o.addAsset(ctx, r.ID, video); err != nil {
			return nil, err
		}
	}

	if r, err = o.store.GetRun(ctx, r.ID); err != nil {
		return nil, err
	}

	if o.teams.AutoDeliver() {
		return o.deliver(ctx, r, o.TeamsDefaults())
	}
	return o.setStatus(ctx, r.ID, run.StatusReviewReady)
}

// discover runs topic discovery, or substitutes the manual idea when the
// run carries one and no explicit topic.
func (o *Orchestrator) discover(ctx context.Context, r *run.Run) (*stage.NewsResult, error) {
	in := r.Input
	if r.SourceType == run.SourceManual && in.ManualIdeaText != "" && in.SelectedNewsTopic == "" {
		return &stage.NewsResult{
			Topic:   ManualIdeaTopic,
			Summary: in.ManualIdeaText,
			Metadata: stage.Metadata{
				"skipped": true,
				"reason":  "manual idea provided",
			},
		}, nil
	}
	if o.stages.News == nil {
		return nil, fmt.Errorf("news hunter: %w", domain.ErrNotConfigured)
	}
	return o.stages.News.Discover(ctx, stage.NewsRequest{
		TopicHint: in.SelectedNewsTopic,
		Tone:      r.Tone,
		Category:  r.Category,
	})
}

// draft retrieves grounding for the topic and drafts the post from it.
func (o *Orchestrator) draft(ctx context.Context, r *run.Run, news *stage.NewsResult) (*stage.ContentResult, error) {
	req := stage.ContentRequest{
		Tone:           r.Tone,
		Category:       r.Category,
		Topic:          news.Topic,
		Summary:        news.Summary,
		ManualIdeaText: r.Input.ManualIdeaText,
		Citations:      append([]run.Citation(nil), news.Citations...),
	}

	if o.stages.Grounding != nil {
		g, err := o.stages.Grounding.Retrieve(ctx, news.Topic, r.Input.UploadedFiles)
		if err != nil {
			return nil, fmt.Errorf("retrieve grounding: %w", err)
		}
		req.GroundingSnippet = g.Snippet
		req.Citations = append(req.Citations, g.Citations...)
	}

	if o.stages.Content == nil {
		return nil, fmt.Errorf("content creator: %w", domain.ErrNotConfigured)
	}
	res, err := o.stages.Content.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Metadata == nil {
		res.Metadata = stage.Metadata{}
	}
	res.Metadata["groundingCitations"] = len(req.Citations) - len(news.Citations)
	return res, nil
}

// RetryStep re-enters a run. teams_delivery re-posts to the environment
// default destination without re-running the pipeline. Any other step
// re-runs the whole pipeline from discovery on the caller's goroutine,
// since stages are not replayed individually. Request handlers should use
// RunService.RetryStep, which checks the run is finished and sends
// pipeline retries through the job queue.
func (o *Orchestrator) RetryStep(ctx context.Context, runID string, step steplog.StepName) (*run.Run, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("unknown step %q: %w", step, domain.ErrValidation)
	}

	if step == steplog.StepTeamsDelivery {
		dest := o.TeamsDefaults()
		if !dest.Complete() {
			return nil, fmt.Errorf("retrying teams_delivery requires the default team and channel ids: %w", domain.ErrNotConfigured)
		}
		return o.PostToTeams(ctx, runID, dest)
	}

	if err := o.ExecuteRun(ctx, runID); err != nil {
		return nil, err
	}
	return o.store.GetRun(ctx, runID)
}

// PostToTeams delivers a drafted run to dest and marks it posted. A failed
// delivery is logged on the run's audit trail and returned; the run's status
// is left as it was.
func (o *Orchestrator) PostToTeams(ctx context.Context, runID string, dest Destination) (*run.Run, error) {
	ctx = logger.WithRunID(ctx, runID)

	r, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Draft == nil {
		return nil, fmt.Errorf("run %s has no draft to post: %w", runID, domain.ErrValidation)
	}
	if !dest.Complete() {
		return nil, fmt.Errorf("team and channel ids are required: %w", domain.ErrValidation)
	}

	posted, err := o.deliver(ctx, r, dest)
	if err != nil {
		return nil, err
	}
	o.telemetry.RunFinished(ctx, runID, run.StatusPosted)
	return posted, nil
}

// deliver posts r inside one instrumented teams_delivery step: the post,
// the delivery record and the posted status succeed or fail together.
func (o *Orchestrator) deliver(ctx context.Context, r *run.Run, dest Destination) (*run.Run, error) {
	return runStep(ctx, o, r.ID, steplog.StepTeamsDelivery, func(ctx context.Context) (*run.Run, stage.Metadata, error) {
		if o.stages.Delivery == nil {
			return nil, nil, fmt.Errorf("teams delivery: %w", domain.ErrNotConfigured)
		}
		res, err := o.stages.Delivery.Deliver(ctx, stage.DeliveryRequest{
			Run:       *r,
			TeamID:    dest.TeamID,
			ChannelID: dest.ChannelID,
		})
		if err != nil {
			return nil, nil, err
		}

		if _, err := o.store.SetTeamsDelivery(ctx, r.ID, res.Delivery); err != nil {
			return nil, nil, err
		}
		posted, err := o.setStatus(ctx, r.ID, run.StatusPosted)
		if err != nil {
			return nil, nil, err
		}
		return posted, res.Metadata, nil
	})
}

func (o *Orchestrator) setStatus(ctx context.Context, runID string, status run.Status) (*run.Run, error) {
	r, err := o.store.SetRunStatus(ctx, runID, status)
	if err != nil {
		return nil, fmt.Errorf("set status %s: %w", status, err)
	}
	o.bus.PublishRunUpdated(*r)
	return r, nil
}

func (o *Orchestrator) update(ctx context.Context, runID string, fn database.RunUpdater) (*run.Run, error) {
	r, err := o.store.UpdateRun(ctx, runID, fn)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	o.bus.PublishRunUpdated(*r)
	return r, nil
}

func (o *Orchestrator) addAsset(ctx context.Context, runID string, a run.Asset) (*run.Run, error) {
	r, err := o.store.AddAsset(ctx, runID, a)
	if err != nil {
		return nil, fmt.Errorf("add %s asset: %w", a.Type, err)
	}
	o.bus.PublishRunUpdated(*r)
	return r, nil
}

func mediaRequest(r *run.Run) stage.MediaRequest {
	req := stage.MediaRequest{RunID: r.ID, Input: r.Input, Category: r.Category}
	if r.Draft != nil {
		req.Draft = *r.Draft
	}
	return req
}
