package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/PostForge/internal/config"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/service"
)

var autoPost = config.Teams{AutoPost: true, TeamID: "team-1", ChannelID: "chan-1"}

func TestExecuteRun_ManualIdea(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	ctx := context.Background()
	r := h.createRun(t, manualIdeaRequest())

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

	assert.Equal(t, 0, h.news.Calls(), "discovery must be skipped for a manual idea")
	assert.Equal(t, []run.Status{
		run.StatusResearching,
		run.StatusDrafting,
		run.StatusImageGeneration,
		run.StatusReviewReady,
	}, h.rec.statuses(r.ID))

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusReviewReady, got.Status)
	assert.Equal(t, service.ManualIdeaTopic, got.NewsTopic)
	assert.Equal(t, "AI adoption accelerating", got.NewsSummary)
	require.Len(t, got.Assets, 1)
	assert.Equal(t, run.AssetImage, got.Assets[0].Type)
	assert.Nil(t, got.TeamsDelivery)
	require.NotNil(t, got.Draft)
	assert.Equal(t, run.CategoryIndustryNews, got.Draft.Category)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	logs, err := h.store.ListLogs(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []steplog.StepName{
		steplog.StepNewsHunter,
		steplog.StepContentCreator,
		steplog.StepImageAgent,
	}, completedSteps(chronological(logs)))

	req := h.content.Last()
	assert.Equal(t, "AI adoption accelerating", req.ManualIdeaText)
	assert.Equal(t, "Adoption doubled.", req.GroundingSnippet)
	assert.Equal(t, service.ManualIdeaTopic, h.grounding.query)
}

func TestExecuteRun_LogCompleteness(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{Teams: autoPost})
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageAndVideo))

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

	logs, err := h.store.ListLogs(ctx, r.ID)
	require.NoError(t, err)
	logs = chronological(logs)
	require.Len(t, logs, 10)

	for i := 0; i < len(logs); i += 2 {
		started, done := logs[i], logs[i+1]
		assert.Equal(t, steplog.Steps[i/2], started.StepName)
		assert.Equal(t, steplog.StatusStarted, started.Status)
		assert.Nil(t, started.EndedAt)
		assert.Equal(t, started.StepName, done.StepName)
		assert.Equal(t, steplog.StatusCompleted, done.Status)
		require.NotNil(t, done.EndedAt)
		assert.False(t, done.EndedAt.Before(started.StartedAt))
	}

	assert.Equal(t, logs, h.rec.logs(), "every log row is published in write order")
}

func TestExecuteRun_ImageAndVideoAutoDeliver(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{Teams: autoPost})
	h.video.doneAfter = 3
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageAndVideo))

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

	assert.Equal(t, []run.Status{
		run.StatusResearching,
		run.StatusDrafting,
		run.StatusImageGeneration,
		run.StatusVideoGeneration,
		run.StatusPosted,
	}, h.rec.statuses(r.ID))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.Sleeps())

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Assets, 2)
	assert.Equal(t, run.AssetImage, got.Assets[0].Type)
	assert.Equal(t, run.AssetVideo, got.Assets[1].Type)
	assert.Equal(t, int64(7000), got.Assets[1].LatencyMs)
	require.NotNil(t, got.TeamsDelivery)
	assert.Equal(t, "msg-1", got.TeamsDelivery.MessageID)

	assert.Equal(t, "team-1", h.delivery.last.TeamID)
	assert.Equal(t, "chan-1", h.delivery.last.ChannelID)
	require.NotNil(t, h.delivery.last.Run.Draft, "delivery sees the re-fetched run")
	assert.Len(t, h.delivery.last.Run.Assets, 2)

	assert.Equal(t, "Agentic AI in banking", got.NewsTopic)
	assert.Equal(t, run.Tone("bold"), h.news.last.Tone)
	assert.Equal(t, []run.Citation{
		{Title: "FT", URL: "https://ft.example/a"},
		{Title: "Survey", URL: "https://survey.example"},
	}, got.Draft.Citations)
}

func TestExecuteRun_AutoPostWithoutDestination(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{Teams: config.Teams{AutoPost: true, TeamID: "team-1"}})
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusReviewReady, got.Status)
	assert.Equal(t, 0, h.delivery.Calls())
}

func TestExecuteRun_VideoTimeout(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	h.video.doneAfter = 0
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageAndVideo))

	err := h.orch.ExecuteRun(ctx, r.ID)
	require.ErrorIs(t, err, service.ErrVideoTimeout)

	assert.Equal(t, 7, h.video.Polls())
	sleeps := h.Sleeps()
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, sleeps)
	var total time.Duration
	for _, d := range sleeps {
		total += d
	}
	assert.Equal(t, 39*time.Second, total)

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Len(t, got.Assets, 1, "the image asset survives a failed video stage")

	latest, err := h.store.GetLatestLogForStep(ctx, r.ID, steplog.StepVideoAgent)
	require.NoError(t, err)
	assert.Equal(t, steplog.StatusFailed, latest.Status)
	assert.Equal(t, steplog.ErrorCodeStepFailed, latest.ErrorCode)
	assert.Contains(t, latest.ErrorMessage, "timed out")
}

func TestExecuteRun_AssetsAppendOnly(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageAndVideo))

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

	counts := h.rec.assetCounts(r.ID)
	for i := 1; i < len(counts); i++ {
		assert.GreaterOrEqual(t, counts[i], counts[i-1])
	}
	assert.Equal(t, 2, counts[len(counts)-1])
}

func TestExecuteRun_StageFailureMarksFailed(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	stageErr := errors.New("provider returned 500")
	h.content.err = stageErr
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))

	err := h.orch.ExecuteRun(ctx, r.ID)
	require.ErrorIs(t, err, stageErr)

	assert.Equal(t, []run.Status{
		run.StatusResearching,
		run.StatusDrafting,
		run.StatusFailed,
	}, h.rec.statuses(r.ID))

	logs, err := h.store.ListLogs(ctx, r.ID)
	require.NoError(t, err)
	logs = chronological(logs)
	require.Len(t, logs, 4)
	assert.Equal(t, steplog.StatusCompleted, logs[1].Status)
	assert.Equal(t, steplog.StepContentCreator, logs[3].StepName)
	assert.Equal(t, steplog.StatusFailed, logs[3].Status)
	assert.Equal(t, "provider returned 500", logs[3].ErrorMessage)

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Assets)
}

func TestExecuteRun_GroundingFailureFailsDraftingStep(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	h.grounding.err = domain.ErrNotConfigured
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))

	err := h.orch.ExecuteRun(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrNotConfigured)

	latest, err := h.store.GetLatestLogForStep(ctx, r.ID, steplog.StepContentCreator)
	require.NoError(t, err)
	assert.Equal(t, steplog.StatusFailed, latest.Status)
}

func TestExecuteRun_NotFound(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})

	err := h.orch.ExecuteRun(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.rec.logs())
	assert.Equal(t, 0, h.graph.Calls())
}

func TestExecuteRun_TopicOverrideUsesDiscovery(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	ctx := context.Background()
	req := manualIdeaRequest()
	req.Input.SelectedNewsTopic = "quantum networking"
	r := h.createRun(t, req)

	require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))
	assert.Equal(t, 1, h.news.Calls())
	assert.Equal(t, "quantum networking", h.news.last.TopicHint)
}

func TestExecuteRun_StageTimeout(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{StageTimeout: 20 * time.Millisecond})
	h.content.block = true
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))

	err := h.orch.ExecuteRun(ctx, r.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
}

func TestExecuteRun_GraphInitializedOnce(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	ctx := context.Background()

	for range 3 {
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))
	}
	assert.Equal(t, 1, h.graph.Calls())
}

func TestExecuteRun_GraphFailureFailsRun(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	h.graph.err = domain.ErrNotConfigured
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))

	require.ErrorIs(t, h.orch.ExecuteRun(ctx, r.ID), domain.ErrNotConfigured)
	got, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Equal(t, 0, h.news.Calls())
}

func TestRetryStep_TeamsDelivery(t *testing.T) {
	t.Run("needs environment destination", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{})
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(context.Background(), r.ID))

		_, err := h.orch.RetryStep(context.Background(), r.ID, steplog.StepTeamsDelivery)
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
		assert.Equal(t, 0, h.delivery.Calls())
	})

	t.Run("posts without re-running the pipeline", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{Teams: config.Teams{TeamID: "team-1", ChannelID: "chan-1"}})
		ctx := context.Background()
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))
		require.Equal(t, 0, h.delivery.Calls(), "auto-post is off")

		got, err := h.orch.RetryStep(ctx, r.ID, steplog.StepTeamsDelivery)
		require.NoError(t, err)
		assert.Equal(t, run.StatusPosted, got.Status)
		require.NotNil(t, got.TeamsDelivery)
		assert.Equal(t, "chan-1", got.TeamsDelivery.ChannelID)
		assert.Equal(t, 1, h.news.Calls())
		assert.Equal(t, 1, h.delivery.Calls())
	})
}

func TestRetryStep_OtherStepRestartsPipeline(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	h.content.err = errors.New("flaky")
	ctx := context.Background()
	r := h.createRun(t, dailyRequest(run.MediaImageOnly))
	require.Error(t, h.orch.ExecuteRun(ctx, r.ID))

	failed, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	firstStart := *failed.StartedAt

	h.content.mu.Lock()
	h.content.err = nil
	h.content.mu.Unlock()
	h.clock.Advance(time.Minute)

	got, err := h.orch.RetryStep(ctx, r.ID, steplog.StepContentCreator)
	require.NoError(t, err)
	assert.Equal(t, run.StatusReviewReady, got.Status)
	assert.Equal(t, 2, h.news.Calls(), "retrying drafting re-runs discovery")
	assert.Equal(t, firstStart, *got.StartedAt)
	assert.True(t, got.FinishedAt.After(*failed.FinishedAt))
}

func TestRetryStep_UnknownStep(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	_, err := h.orch.RetryStep(context.Background(), "any", steplog.StepName("publisher"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPostToTeams(t *testing.T) {
	dest := service.Destination{TeamID: "team-9", ChannelID: "chan-9"}

	t.Run("requires a draft", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{})
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))

		_, err := h.orch.PostToTeams(context.Background(), r.ID, dest)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 0, h.delivery.Calls())
	})

	t.Run("unknown run", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{})
		_, err := h.orch.PostToTeams(context.Background(), "missing", dest)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("failure leaves status", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{})
		ctx := context.Background()
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))
		h.delivery.err = errors.New("channel not found")

		_, err := h.orch.PostToTeams(ctx, r.ID, dest)
		require.Error(t, err)

		got, err := h.store.GetRun(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusReviewReady, got.Status)
		assert.Nil(t, got.TeamsDelivery)

		latest, err := h.store.GetLatestLogForStep(ctx, r.ID, steplog.StepTeamsDelivery)
		require.NoError(t, err)
		assert.Equal(t, steplog.StatusFailed, latest.Status)
		assert.Equal(t, "channel not found", latest.ErrorMessage)
	})

	t.Run("success", func(t *testing.T) {
		h := newHarness(t, service.OrchestratorConfig{})
		ctx := context.Background()
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))

		got, err := h.orch.PostToTeams(ctx, r.ID, dest)
		require.NoError(t, err)
		assert.Equal(t, run.StatusPosted, got.Status)
		assert.Equal(t, "team-9", got.TeamsDelivery.TeamID)

		statuses := h.rec.statuses(r.ID)
		assert.Equal(t, run.StatusPosted, statuses[len(statuses)-1])
	})
}

func TestPostToTeams_ConcurrentDifferentRuns(t *testing.T) {
	h := newHarness(t, service.OrchestratorConfig{})
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		r := h.createRun(t, dailyRequest(run.MediaImageOnly))
		require.NoError(t, h.orch.ExecuteRun(ctx, r.ID))
		ids[i] = r.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.orch.PostToTeams(ctx, id, service.Destination{TeamID: "t", ChannelID: "c"})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		got, err := h.store.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, run.StatusPosted, got.Status)
	}
}
