// Package memory implements the database.Store port in process memory. It is
// used for development, tests, and single-node deployments that can afford to
// lose history on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/analytics"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/settings"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/port/database"
)

// Store is a mutex-guarded in-memory store. Every read returns a copy.
type Store struct {
	clock clock.Clock

	mu       sync.Mutex
	runs     map[string]run.Run
	order    []string // creation order
	logs     []steplog.Log
	settings map[string]settings.Setting
}

var _ database.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{
		clock:    c,
		runs:     make(map[string]run.Run),
		settings: make(map[string]settings.Setting),
	}
}

// --- Runs ---

func (s *Store) CreateRun(_ context.Context, req run.CreateRequest) (*run.Run, error) {
	r := run.New(clock.NewID(), req, s.clock.Now())
	r.Version = 1

	s.mu.Lock()
	s.runs[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	s.mu.Unlock()

	return &r, nil
}

// Seed inserts a fully formed run, bypassing creation defaults.
func (s *Store) Seed(r run.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; !exists {
		s.order = append(s.order, r.ID)
	}
	s.runs[r.ID] = r.Clone()
}

func (s *Store) ListRuns(_ context.Context) ([]run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]run.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		result = append(result, s.runs[s.order[i]].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) GetRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	c := r.Clone()
	return &c, nil
}

// UpdateRun applies fn under the store lock, so writes never interleave.
// Fields fixed at creation keep their stored values.
func (s *Store) UpdateRun(_ context.Context, id string, fn database.RunUpdater) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("update run %s: %w", id, domain.ErrNotFound)
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return nil, fmt.Errorf("update run %s: %w", id, err)
	}
	next.KeepIdentity(cur)
	next.Version = cur.Version + 1
	s.runs[id] = next.Clone()
	return &next, nil
}

func (s *Store) SetRunStatus(ctx context.Context, id string, status run.Status) (*run.Run, error) {
	return s.UpdateRun(ctx, id, database.WithStatus(status, s.clock.Now()))
}

func (s *Store) AddAsset(ctx context.Context, id string, asset run.Asset) (*run.Run, error) {
	return s.UpdateRun(ctx, id, database.WithAsset(asset))
}

func (s *Store) SetTeamsDelivery(ctx context.Context, id string, delivery run.TeamsDelivery) (*run.Run, error) {
	return s.UpdateRun(ctx, id, database.WithTeamsDelivery(delivery))
}

func (s *Store) RecoverStaleRuns(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	count := 0
	for id, r := range s.runs {
		if run.IsTerminal(r.Status) {
			continue
		}
		r.ApplyStatus(run.StatusFailed, now)
		r.Version++
		s.runs[id] = r
		count++
	}
	return count, nil
}

// --- Step logs ---

func (s *Store) AppendLog(_ context.Context, l *steplog.Log) error {
	if l.ID == "" {
		l.ID = clock.NewID()
	}
	c := *l
	if l.Metadata != nil {
		c.Metadata = make(map[string]any, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}

	s.mu.Lock()
	s.logs = append(s.logs, c)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListLogs(_ context.Context, runID string) ([]steplog.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []steplog.Log
	for i := len(s.logs) - 1; i >= 0; i-- {
		if runID == "" || s.logs[i].RunID == runID {
			result = append(result, s.logs[i])
		}
	}
	return orEmpty(result), nil
}

func (s *Store) GetLatestLogForStep(_ context.Context, runID string, step steplog.StepName) (*steplog.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].RunID == runID && s.logs[i].StepName == step {
			l := s.logs[i]
			return &l, nil
		}
	}
	return nil, fmt.Errorf("latest log %s/%s: %w", runID, step, domain.ErrNotFound)
}

// --- Analytics ---

func (s *Store) GetAnalyticsSummary(ctx context.Context) (*analytics.Summary, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := s.ListLogs(ctx, "")
	if err != nil {
		return nil, err
	}
	summary := analytics.Compute(runs, logs)
	return &summary, nil
}

// --- Settings ---

func (s *Store) ListSettings(_ context.Context) ([]settings.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]settings.Setting, 0, len(s.settings))
	for _, st := range s.settings {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (*settings.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings[key]
	if !ok {
		return nil, fmt.Errorf("get setting %s: %w", key, domain.ErrNotFound)
	}
	return &st, nil
}

func (s *Store) UpsertSetting(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = settings.Setting{
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: s.clock.Now(),
	}
	return nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
