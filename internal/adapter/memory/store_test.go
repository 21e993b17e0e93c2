package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/PostForge/internal/adapter/memory"
	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func manualRequest() run.CreateRequest {
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

func TestCreateRunDefaults(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))

	r, err := s.CreateRun(context.Background(), manualRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, run.StatusQueued, r.Status)
	assert.Equal(t, t0, r.CreatedAt)
	assert.Nil(t, r.StartedAt)
	assert.Nil(t, r.FinishedAt)
	assert.NotNil(t, r.Assets)
	assert.Empty(t, r.Assets)
	assert.Equal(t, 1, r.Version)
}

func TestListRunsNewestFirst(t *testing.T) {
	c := clock.NewFixed(t0)
	s := memory.NewStore(c)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)
	c.Advance(time.Minute)
	second, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestGetRunNotFound(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))

	_, err := s.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.UpdateRun(context.Background(), "missing", func(r run.Run) (run.Run, error) { return r, nil })
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdateRunPersistsUpdaterResult(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()
	r, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)

	updated, err := s.UpdateRun(ctx, r.ID, func(cur run.Run) (run.Run, error) {
		cur.NewsTopic = "Manual idea"
		cur.NewsSummary = "AI adoption accelerating"
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Manual idea", updated.NewsTopic)
	assert.Equal(t, 2, updated.Version)

	stored, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "AI adoption accelerating", stored.NewsSummary)

	boom := errors.New("boom")
	_, err = s.UpdateRun(ctx, r.ID, func(cur run.Run) (run.Run, error) { return cur, boom })
	assert.ErrorIs(t, err, boom)

	stored, err = s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version, "failed updater must not write")
}

func TestUpdateRunKeepsCreationFields(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()
	r, err := s.CreateRun(ctx, run.CreateRequest{
		SourceType: run.SourceDaily,
		Tone:       run.ToneBold,
		Category:   run.CategoryThoughtLeadership,
		Input:      run.Input{RequestedMedia: run.MediaImageOnly},
	})
	require.NoError(t, err)

	updated, err := s.UpdateRun(ctx, r.ID, func(cur run.Run) (run.Run, error) {
		cur.SourceType = run.SourceManual
		cur.Tone = run.ToneEducational
		cur.Category = run.CategoryCaseStudy
		cur.Input.RequestedMedia = run.MediaImageAndVideo
		cur.CreatedAt = t0.Add(time.Hour)
		cur.NewsTopic = "Agents"
		return cur, nil
	})
	require.NoError(t, err)

	stored, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	for _, got := range []*run.Run{updated, stored} {
		assert.Equal(t, run.SourceDaily, got.SourceType)
		assert.Equal(t, run.ToneBold, got.Tone)
		assert.Equal(t, run.CategoryThoughtLeadership, got.Category)
		assert.Equal(t, run.MediaImageOnly, got.Input.RequestedMedia)
		assert.Equal(t, r.CreatedAt, got.CreatedAt)
		assert.Equal(t, "Agents", got.NewsTopic)
	}
}

func TestSetRunStatusTimestamps(t *testing.T) {
	c := clock.NewFixed(t0)
	s := memory.NewStore(c)
	ctx := context.Background()
	r, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)

	c.Advance(time.Second)
	researching, err := s.SetRunStatus(ctx, r.ID, run.StatusResearching)
	require.NoError(t, err)
	require.NotNil(t, researching.StartedAt)
	started := *researching.StartedAt
	assert.Nil(t, researching.FinishedAt)

	c.Advance(time.Second)
	_, err = s.SetRunStatus(ctx, r.ID, run.StatusDrafting)
	require.NoError(t, err)

	c.Advance(3 * time.Second)
	done, err := s.SetRunStatus(ctx, r.ID, run.StatusReviewReady)
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, started, *done.StartedAt)
	assert.Equal(t, t0.Add(5*time.Second), *done.FinishedAt)

	// Re-entering the pipeline keeps startedAt and clears finishedAt.
	c.Advance(time.Minute)
	retried, err := s.SetRunStatus(ctx, r.ID, run.StatusResearching)
	require.NoError(t, err)
	assert.Equal(t, started, *retried.StartedAt)
	assert.Nil(t, retried.FinishedAt)
}

func TestAddAssetAppendOnly(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()
	r, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)

	img := run.Asset{ID: "a1", Type: run.AssetImage, URI: "https://cdn/img.png", Model: "img-1", LatencyMs: 1200, CreatedAt: t0}
	vid := run.Asset{ID: "a2", Type: run.AssetVideo, URI: "https://cdn/vid.mp4", Model: "vid-1", LatencyMs: 9000, CreatedAt: t0}

	after1, err := s.AddAsset(ctx, r.ID, img)
	require.NoError(t, err)
	require.Len(t, after1.Assets, 1)

	// Mutating a returned copy must not leak into the store.
	after1.Assets[0].URI = "tampered"

	after2, err := s.AddAsset(ctx, r.ID, vid)
	require.NoError(t, err)
	require.Len(t, after2.Assets, 2)
	assert.Equal(t, img, after2.Assets[0])
	assert.Equal(t, vid, after2.Assets[1])
}

func TestSetTeamsDeliveryReplaces(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()
	r, err := s.CreateRun(ctx, manualRequest())
	require.NoError(t, err)

	_, err = s.SetTeamsDelivery(ctx, r.ID, run.TeamsDelivery{TeamID: "t1", ChannelID: "c1", Status: "sent", PostedAt: t0})
	require.NoError(t, err)
	got, err := s.SetTeamsDelivery(ctx, r.ID, run.TeamsDelivery{TeamID: "t2", ChannelID: "c2", MessageID: "m2", Status: "sent", PostedAt: t0})
	require.NoError(t, err)
	require.NotNil(t, got.TeamsDelivery)
	assert.Equal(t, "t2", got.TeamsDelivery.TeamID)
	assert.Equal(t, "m2", got.TeamsDelivery.MessageID)
}

func TestLogsNewestFirstAndLatestForStep(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()

	appendLog := func(runID string, step steplog.StepName, status steplog.Status, at time.Duration) {
		require.NoError(t, s.AppendLog(ctx, &steplog.Log{
			RunID: runID, StepName: step, Status: status, StartedAt: t0.Add(at),
		}))
	}
	appendLog("r1", steplog.StepNewsHunter, steplog.StatusStarted, 0)
	appendLog("r1", steplog.StepNewsHunter, steplog.StatusFailed, time.Second)
	appendLog("r2", steplog.StepNewsHunter, steplog.StatusStarted, 2*time.Second)
	appendLog("r1", steplog.StepNewsHunter, steplog.StatusStarted, 3*time.Second)
	appendLog("r1", steplog.StepNewsHunter, steplog.StatusCompleted, 4*time.Second)

	r1Logs, err := s.ListLogs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, r1Logs, 4)
	assert.Equal(t, steplog.StatusCompleted, r1Logs[0].Status)
	assert.Equal(t, steplog.StatusStarted, r1Logs[3].Status)
	for _, l := range r1Logs {
		assert.NotEmpty(t, l.ID)
	}

	all, err := s.ListLogs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	latest, err := s.GetLatestLogForStep(ctx, "r1", steplog.StepNewsHunter)
	require.NoError(t, err)
	assert.Equal(t, steplog.StatusCompleted, latest.Status)

	_, err = s.GetLatestLogForStep(ctx, "r1", steplog.StepVideoAgent)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	none, err := s.ListLogs(ctx, "r9")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecoverStaleRuns(t *testing.T) {
	c := clock.NewFixed(t0)
	s := memory.NewStore(c)
	ctx := context.Background()

	finished := t0.Add(-time.Hour)
	for i, st := range run.ActiveStatuses() {
		s.Seed(run.Run{ID: "active-" + string(st), Status: st, CreatedAt: t0.Add(time.Duration(i) * time.Second), Assets: []run.Asset{}})
	}
	for _, st := range []run.Status{run.StatusPosted, run.StatusReviewReady, run.StatusFailed} {
		f := finished
		s.Seed(run.Run{ID: "done-" + string(st), Status: st, CreatedAt: t0, FinishedAt: &f, Assets: []run.Asset{}})
	}

	c.Advance(time.Minute)
	n, err := s.RecoverStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for _, st := range run.ActiveStatuses() {
		r, err := s.GetRun(ctx, "active-"+string(st))
		require.NoError(t, err)
		assert.Equal(t, run.StatusFailed, r.Status)
		require.NotNil(t, r.FinishedAt)
		assert.Equal(t, t0.Add(time.Minute), *r.FinishedAt)
	}
	for _, st := range []run.Status{run.StatusPosted, run.StatusReviewReady, run.StatusFailed} {
		r, err := s.GetRun(ctx, "done-"+string(st))
		require.NoError(t, err)
		assert.Equal(t, st, r.Status)
		assert.Equal(t, finished, *r.FinishedAt)
	}

	again, err := s.RecoverStaleRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestAnalyticsSummary(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()

	at := func(d time.Duration) *time.Time { v := t0.Add(d); return &v }
	s.Seed(run.Run{ID: "1", Status: run.StatusPosted, Tone: run.ToneBold, Category: run.CategoryCaseStudy, CreatedAt: t0, StartedAt: at(0), FinishedAt: at(10 * time.Second)})
	s.Seed(run.Run{ID: "2", Status: run.StatusReviewReady, Tone: run.ToneBold, Category: run.CategoryIndustryNews, CreatedAt: t0, StartedAt: at(0), FinishedAt: at(20 * time.Second)})
	s.Seed(run.Run{ID: "3", Status: run.StatusFailed, Tone: run.ToneEducational, Category: run.CategoryIndustryNews, CreatedAt: t0, StartedAt: at(0), FinishedAt: at(30 * time.Second)})
	s.Seed(run.Run{ID: "4", Status: run.StatusQueued, Tone: run.ToneEducational, Category: run.CategoryIndustryNews, CreatedAt: t0})

	require.NoError(t, s.AppendLog(ctx, &steplog.Log{RunID: "3", StepName: steplog.StepImageAgent, Status: steplog.StatusStarted, StartedAt: t0}))
	require.NoError(t, s.AppendLog(ctx, &steplog.Log{RunID: "3", StepName: steplog.StepImageAgent, Status: steplog.StatusFailed, StartedAt: t0}))
	require.NoError(t, s.AppendLog(ctx, &steplog.Log{RunID: "1", StepName: steplog.StepTeamsDelivery, Status: steplog.StatusFailed, StartedAt: t0}))

	sum, err := s.GetAnalyticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalRuns)
	assert.Equal(t, 50.0, sum.SuccessRate)
	assert.Equal(t, 20000.0, sum.AverageRuntimeMs)
	assert.Equal(t, 2, sum.RunsByTone[run.ToneBold])
	assert.Equal(t, 2, sum.RunsByTone[run.ToneEducational])
	assert.Equal(t, 3, sum.RunsByCategory[run.CategoryIndustryNews])
	assert.Equal(t, 1, sum.RunsByCategory[run.CategoryCaseStudy])
	assert.Equal(t, 1, sum.StepFailureCounts[steplog.StepImageAgent])
	assert.Equal(t, 1, sum.StepFailureCounts[steplog.StepTeamsDelivery])
	assert.Zero(t, sum.StepFailureCounts[steplog.StepNewsHunter])
}

func TestSettingsRoundTrip(t *testing.T) {
	s := memory.NewStore(clock.NewFixed(t0))
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "delivery_defaults")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpsertSetting(ctx, "delivery_defaults", json.RawMessage(`{"teamId":"t","channelId":"c"}`)))
	require.NoError(t, s.UpsertSetting(ctx, "another", json.RawMessage(`true`)))

	got, err := s.GetSetting(ctx, "delivery_defaults")
	require.NoError(t, err)
	assert.JSONEq(t, `{"teamId":"t","channelId":"c"}`, string(got.Value))

	list, err := s.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "another", list[0].Key)
}
