// Package database defines the persistence ports (interfaces) for runs,
// step logs and settings.
package database

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/PostForge/internal/domain/analytics"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/settings"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// RunUpdater receives the currently stored run and returns the value to
// persist. Returning an error aborts the write.
type RunUpdater func(current run.Run) (run.Run, error)

// RunRepository owns Run and AgentStepLog state. Lookups of unknown run IDs
// return an error wrapping domain.ErrNotFound.
type RunRepository interface {
	CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error)
	ListRuns(ctx context.Context) ([]run.Run, error) // newest first
	GetRun(ctx context.Context, id string) (*run.Run, error)

	// UpdateRun is the only general-purpose mutation primitive; the helpers
	// below are built on it.
	UpdateRun(ctx context.Context, id string, fn RunUpdater) (*run.Run, error)
	SetRunStatus(ctx context.Context, id string, status run.Status) (*run.Run, error)
	AddAsset(ctx context.Context, id string, asset run.Asset) (*run.Run, error)
	SetTeamsDelivery(ctx context.Context, id string, delivery run.TeamsDelivery) (*run.Run, error)

	AppendLog(ctx context.Context, log *steplog.Log) error
	// ListLogs returns logs newest first; an empty runID lists all runs.
	ListLogs(ctx context.Context, runID string) ([]steplog.Log, error)
	GetLatestLogForStep(ctx context.Context, runID string, step steplog.StepName) (*steplog.Log, error)

	GetAnalyticsSummary(ctx context.Context) (*analytics.Summary, error)

	// RecoverStaleRuns fails every run left in a non-terminal status by a
	// previous process and returns how many were changed.
	RecoverStaleRuns(ctx context.Context) (int, error)
}

// SettingsStore persists key-value settings.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]settings.Setting, error)
	GetSetting(ctx context.Context, key string) (*settings.Setting, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error
}

// Store is the full persistence port.
type Store interface {
	RunRepository
	SettingsStore
}
