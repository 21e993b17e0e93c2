package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/analytics"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool            *pgxpool.Pool
	clock           clock.Clock
	conflictRetries int
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
// conflictRetries bounds how often UpdateRun re-reads after losing a
// version race before it reports domain.ErrConflict.
func NewStore(pool *pgxpool.Pool, c clock.Clock, conflictRetries int) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{pool: pool, clock: c, conflictRetries: conflictRetries}
}

// --- Runs ---

const runColumns = `id, source_type, status, tone, category, created_at, started_at, finished_at,
	input, news_topic, news_summary, draft, assets, teams_delivery, version`

func (s *Store) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	r := run.New(clock.NewID(), req, s.clock.Now())
	inputJSON, err := json.Marshal(r.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO runs (id, source_type, status, tone, category, created_at, input)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING version`,
		r.ID, string(r.SourceType), string(r.Status), string(r.Tone), string(r.Category), r.CreatedAt, inputJSON,
	).Scan(&r.Version)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return orEmpty(runs), rows.Err()
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

// UpdateRun reads the run, applies fn and writes the result only if nobody
// else wrote in between. On a lost race it re-reads and re-applies fn, up to
// the configured number of retries. Fields fixed at creation are never
// written and keep their stored values in the returned run.
func (s *Store) UpdateRun(ctx context.Context, id string, fn database.RunUpdater) (*run.Run, error) {
	for attempt := 0; ; attempt++ {
		cur, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("update run: %w", err)
		}
		next, err := fn(cur.Clone())
		if err != nil {
			return nil, fmt.Errorf("update run %s: %w", id, err)
		}
		next.KeepIdentity(*cur)

		err = s.writeRun(ctx, &next, cur.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.conflictRetries {
			return nil, err
		}
	}
}

// writeRun persists the mutable columns of r if the stored version still
// equals expected. A zero-row update maps to domain.ErrConflict.
func (s *Store) writeRun(ctx context.Context, r *run.Run, expected int) error {
	draftJSON, err := nullJSON(r.Draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	assetsJSON, err := json.Marshal(orEmpty(r.Assets))
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	deliveryJSON, err := nullJSON(r.TeamsDelivery)
	if err != nil {
		return fmt.Errorf("marshal teams delivery: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE runs SET status = $2, started_at = $3, finished_at = $4, news_topic = $5, news_summary = $6,
		        draft = $7, assets = $8, teams_delivery = $9, version = version + 1
		 WHERE id = $1 AND version = $10
		 RETURNING version`,
		r.ID, string(r.Status), nullTime(r.StartedAt), nullTime(r.FinishedAt), r.NewsTopic, r.NewsSummary,
		draftJSON, assetsJSON, deliveryJSON, expected,
	).Scan(&r.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update run %s at version %d: %w", r.ID, expected, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	return nil
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

// RecoverStaleRuns fails every non-terminal run in a single statement.
func (s *Store) RecoverStaleRuns(ctx context.Context) (int, error) {
	active := run.ActiveStatuses()
	statuses := make([]string, len(active))
	for i, st := range active {
		statuses[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2, version = version + 1
		 WHERE status = ANY($3)`,
		string(run.StatusFailed), s.clock.Now(), statuses)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Step logs ---

const logColumns = `id, run_id, step_name, status, message, started_at, ended_at, metadata, error_code, error_message`

func (s *Store) AppendLog(ctx context.Context, l *steplog.Log) error {
	if l.ID == "" {
		l.ID = clock.NewID()
	}
	var metaJSON []byte
	if l.Metadata != nil {
		var err error
		if metaJSON, err = json.Marshal(l.Metadata); err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_step_logs (`+logColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.RunID, string(l.StepName), string(l.Status), l.Message, l.StartedAt, nullTime(l.EndedAt),
		metaJSON, l.ErrorCode, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("append log %s/%s: %w", l.RunID, l.StepName, err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, runID string) ([]steplog.Log, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+logColumns+` FROM agent_step_logs
		 WHERE ($1 = '' OR run_id = $1)
		 ORDER BY seq DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return collectLogs(rows)
}

func (s *Store) GetLatestLogForStep(ctx context.Context, runID string, step steplog.StepName) (*steplog.Log, error) {
	l, err := scanLog(s.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM agent_step_logs
		 WHERE run_id = $1 AND step_name = $2
		 ORDER BY seq DESC LIMIT 1`, runID, string(step)))
	if err != nil {
		return nil, notFoundWrap(err, "latest log %s/%s", runID, step)
	}
	return &l, nil
}

// --- Analytics ---

// GetAnalyticsSummary loads all runs and the failed log rows and derives
// the summary in memory, so both backends share one definition.
func (s *Store) GetAnalyticsSummary(ctx context.Context) (*analytics.Summary, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+logColumns+` FROM agent_step_logs WHERE status = $1`, string(steplog.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("analytics logs: %w", err)
	}
	failed, err := collectLogs(rows)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	summary := analytics.Compute(runs, failed)
	return &summary, nil
}

// --- Scan helpers ---

func scanRun(row scannable) (run.Run, error) {
	var (
		r                               run.Run
		inputJSON, assetsJSON           []byte
		draftJSON, deliveryJSON         []byte
		sourceType, status, tone, categ string
	)
	err := row.Scan(
		&r.ID, &sourceType, &status, &tone, &categ, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		&inputJSON, &r.NewsTopic, &r.NewsSummary, &draftJSON, &assetsJSON, &deliveryJSON, &r.Version,
	)
	if err != nil {
		return r, err
	}
	r.SourceType = run.SourceType(sourceType)
	r.Status = run.Status(status)
	r.Tone = run.Tone(tone)
	r.Category = run.Category(categ)

	if err := json.Unmarshal(inputJSON, &r.Input); err != nil {
		return r, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(assetsJSON, &r.Assets); err != nil {
		return r, fmt.Errorf("unmarshal assets: %w", err)
	}
	r.Assets = orEmpty(r.Assets)
	if draftJSON != nil {
		r.Draft = &run.Draft{}
		if err := json.Unmarshal(draftJSON, r.Draft); err != nil {
			return r, fmt.Errorf("unmarshal draft: %w", err)
		}
	}
	if deliveryJSON != nil {
		r.TeamsDelivery = &run.TeamsDelivery{}
		if err := json.Unmarshal(deliveryJSON, r.TeamsDelivery); err != nil {
			return r, fmt.Errorf("unmarshal teams delivery: %w", err)
		}
	}
	return r, nil
}

func scanLog(row scannable) (steplog.Log, error) {
	var (
		l            steplog.Log
		step, status string
		metaJSON     []byte
	)
	err := row.Scan(&l.ID, &l.RunID, &step, &status, &l.Message, &l.StartedAt, &l.EndedAt,
		&metaJSON, &l.ErrorCode, &l.ErrorMessage)
	if err != nil {
		return l, err
	}
	l.StepName = steplog.StepName(step)
	l.Status = steplog.Status(status)
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &l.Metadata); err != nil {
			return l, fmt.Errorf("unmarshal log metadata: %w", err)
		}
	}
	return l, nil
}

func collectLogs(rows pgx.Rows) ([]steplog.Log, error) {
	defer rows.Close()
	var logs []steplog.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return orEmpty(logs), rows.Err()
}
