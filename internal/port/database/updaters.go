package database

import (
	"time"

	"github.com/Strob0t/PostForge/internal/domain/run"
)

// WithStatus returns an updater that moves a run to status, maintaining the
// StartedAt/FinishedAt invariants.
func WithStatus(status run.Status, now time.Time) RunUpdater {
	return func(r run.Run) (run.Run, error) {
		r.ApplyStatus(status, now)
		return r, nil
	}
}

// WithAsset returns an updater that appends asset. Existing assets are kept as-is.
func WithAsset(asset run.Asset) RunUpdater {
	return func(r run.Run) (run.Run, error) {
		r.Assets = append(r.Assets, asset)
		return r, nil
	}
}

// WithTeamsDelivery returns an updater that replaces the delivery record.
func WithTeamsDelivery(d run.TeamsDelivery) RunUpdater {
	return func(r run.Run) (run.Run, error) {
		r.TeamsDelivery = &d
		return r, nil
	}
}
