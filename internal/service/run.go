package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/analytics"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/logger"
	"github.com/Strob0t/PostForge/internal/port/database"
)

// RunService is the entry point used by the HTTP, MCP and scheduler
// surfaces. Pipeline work goes through the job queue; manual delivery runs
// on the caller's goroutine.
type RunService struct {
	store    database.RunRepository
	bus      *EventBus
	queue    *JobQueue
	orch     *Orchestrator
	settings *SettingsService
	log      *slog.Logger
}

// NewRunService creates a RunService. settings may be nil.
func NewRunService(
	store database.RunRepository,
	bus *EventBus,
	queue *JobQueue,
	orch *Orchestrator,
	settingsSvc *SettingsService,
	log *slog.Logger,
) *RunService {
	return &RunService{
		store:    store,
		bus:      bus,
		queue:    queue,
		orch:     orch,
		settings: settingsSvc,
		log:      log,
	}
}

// CreateRun validates req, stores a queued run and enqueues it. A run that
// cannot be enqueued is marked failed.
func (s *RunService) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r, err := s.store.CreateRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.bus.PublishRunUpdated(*r)

	if err := s.queue.Enqueue(r.ID); err != nil {
		if failed, ferr := s.store.SetRunStatus(ctx, r.ID, run.StatusFailed); ferr == nil {
			s.bus.PublishRunUpdated(*failed)
		}
		return nil, err
	}
	logger.From(ctx, s.log).Info("run queued",
		"run_id", r.ID,
		"source", string(r.SourceType),
		"queue_size", s.queue.Size(),
	)
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *RunService) ListRuns(ctx context.Context) ([]run.Run, error) {
	return s.store.ListRuns(ctx)
}

// GetRun returns one run.
func (s *RunService) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListLogs returns a run's step logs, or all logs when runID is empty.
func (s *RunService) ListLogs(ctx context.Context, runID string) ([]steplog.Log, error) {
	if runID != "" {
		if _, err := s.store.GetRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	return s.store.ListLogs(ctx, runID)
}

// Analytics returns the aggregate summary over all runs.
func (s *RunService) Analytics(ctx context.Context) (*analytics.Summary, error) {
	return s.store.GetAnalyticsSummary(ctx)
}

// RecoverStaleRuns fails runs orphaned by a previous process.
func (s *RunService) RecoverStaleRuns(ctx context.Context) (int, error) {
	n, err := s.store.RecoverStaleRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	if n > 0 {
		s.log.Warn("marked stale runs failed", "count", n)
	}
	return n, nil
}

// QueueSize returns the number of queued plus in-flight runs.
func (s *RunService) QueueSize() int {
	return s.queue.Size()
}

// RetryStep re-enters a finished run. teams_delivery is delivered
// immediately. Any other step re-queues the whole pipeline and returns the
// run in its queued state.
func (s *RunService) RetryStep(ctx context.Context, runID string, step steplog.StepName) (*run.Run, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("unknown step %q: %w", step, domain.ErrValidation)
	}

	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.IsTerminal(r.Status) {
		return nil, fmt.Errorf("run %s is still %s: %w", runID, r.Status, domain.ErrConflict)
	}

	if step == steplog.StepTeamsDelivery {
		return s.orch.RetryStep(ctx, runID, step)
	}

	queued, err := s.store.SetRunStatus(ctx, runID, run.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("requeue run: %w", err)
	}
	s.bus.PublishRunUpdated(*queued)

	if err := s.queue.Enqueue(runID); err != nil {
		s.restoreFinished(ctx, *r)
		return nil, err
	}
	logger.From(ctx, s.log).Info("run requeued", "run_id", runID, "step", string(step))
	return queued, nil
}

// restoreFinished puts a run whose requeue failed back into its previous
// terminal status and finish time.
func (s *RunService) restoreFinished(ctx context.Context, prev run.Run) {
	restored, err := s.store.UpdateRun(ctx, prev.ID, func(cur run.Run) (run.Run, error) {
		cur.Status = prev.Status
		cur.FinishedAt = prev.Clone().FinishedAt
		return cur, nil
	})
	if err != nil {
		logger.From(ctx, s.log).Error("restore run after failed requeue", "run_id", prev.ID, "error", err)
		return
	}
	s.bus.PublishRunUpdated(*restored)
}

// PostToTeams delivers a run. Empty destination fields fall back to the
// stored delivery defaults, then to the environment defaults.
func (s *RunService) PostToTeams(ctx context.Context, runID string, dest Destination) (*run.Run, error) {
	if !dest.Complete() && s.settings != nil {
		d, err := s.settings.DeliveryDefaults(ctx)
		if err != nil {
			return nil, err
		}
		dest = fillDestination(dest, Destination{TeamID: d.TeamID, ChannelID: d.ChannelID})
	}
	dest = fillDestination(dest, s.orch.TeamsDefaults())
	if !dest.Complete() {
		return nil, fmt.Errorf("no teams destination given or configured: %w", domain.ErrNotConfigured)
	}
	return s.orch.PostToTeams(ctx, runID, dest)
}

func fillDestination(d, fallback Destination) Destination {
	if d.TeamID == "" {
		d.TeamID = fallback.TeamID
	}
	if d.ChannelID == "" {
		d.ChannelID = fallback.ChannelID
	}
	return d
}
