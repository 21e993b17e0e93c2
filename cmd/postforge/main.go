package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	pfhttp "github.com/Strob0t/PostForge/internal/adapter/http"
	"github.com/Strob0t/PostForge/internal/adapter/litellm"
	"github.com/Strob0t/PostForge/internal/adapter/mcp"
	"github.com/Strob0t/PostForge/internal/adapter/memory"
	pfnats "github.com/Strob0t/PostForge/internal/adapter/nats"
	"github.com/Strob0t/PostForge/internal/adapter/natskv"
	pfotel "github.com/Strob0t/PostForge/internal/adapter/otel"
	"github.com/Strob0t/PostForge/internal/adapter/postgres"
	"github.com/Strob0t/PostForge/internal/adapter/ristretto"
	"github.com/Strob0t/PostForge/internal/adapter/teams"
	"github.com/Strob0t/PostForge/internal/adapter/tiered"
	"github.com/Strob0t/PostForge/internal/adapter/videogen"
	"github.com/Strob0t/PostForge/internal/adapter/ws"
	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/config"
	"github.com/Strob0t/PostForge/internal/logger"
	"github.com/Strob0t/PostForge/internal/middleware"
	"github.com/Strob0t/PostForge/internal/port/cache"
	"github.com/Strob0t/PostForge/internal/port/database"
	"github.com/Strob0t/PostForge/internal/port/stage"
	"github.com/Strob0t/PostForge/internal/resilience"
	"github.com/Strob0t/PostForge/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

const idempotencyBucket = "POSTFORGE_IDEMPOTENCY"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runServer() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
		"auto_post", cfg.Teams.AutoDeliver(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := pfotel.Init(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	telemetry, err := pfotel.NewTelemetry()
	if err != nil {
		return fmt.Errorf("otel telemetry: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var natsQueue *pfnats.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err = pfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQueue.Close() }()
		log.Info("nats connected", "url", cfg.NATS.URL)
	}

	groundingCache, closeCache, err := newGroundingCache(ctx, cfg, natsQueue, log)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Stages ---

	clk := clock.Real{}

	llmBreaker := resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).
		WithFailureFilter(litellm.CountsAsFailure)
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	llm.SetBreaker(llmBreaker)

	teamsBreaker := resilience.NewBreaker("teams", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).
		WithFailureFilter(teams.CountsAsFailure)
	deliverer := teams.NewDeliverer(teams.Config{
		WebhookURL: cfg.Teams.WebhookURL,
		GraphURL:   cfg.Teams.GraphURL,
		GraphToken: cfg.Teams.GraphToken,
		Timeout:    30 * time.Second,
	}, clk)
	deliverer.SetBreaker(teamsBreaker)

	stages := stage.Services{
		News:      litellm.NewNewsHunter(llm, cfg.LiteLLM.GroundingModel),
		Grounding: litellm.NewGroundingRetriever(llm, cfg.LiteLLM.GroundingModel, groundingCache, cfg.Cache.GroundingTTL),
		Content:   litellm.NewContentCreator(llm, cfg.LiteLLM.TextModel),
		Image:     litellm.NewImageGenerator(llm, cfg.LiteLLM.ImageModel, cfg.LiteLLM.ImageSize, clk),
		Delivery:  deliverer,
	}
	if cfg.Video.URL != "" {
		stages.Video = videogen.NewClient(cfg.Video.URL, cfg.Video.APIKey, cfg.Video.Model, clk)
	}
	log.Info("stages configured",
		"teams_transport", deliverer.Transport(),
		"video", cfg.Video.URL != "",
	)

	graph := service.NewAgentGraph(litellm.NewModelRegistry(llm,
		cfg.LiteLLM.TextModel, cfg.LiteLLM.GroundingModel, cfg.LiteLLM.ImageModel))

	// --- Services ---

	bus := service.NewEventBus()
	hub := ws.NewHub(log, corsOrigins(cfg.Server.CORSOrigin)...)
	defer bus.Subscribe(hub.Listen)()
	if natsQueue != nil {
		relay := pfnats.NewRelay(natsQueue, cfg.NATS.SubjectPrefix, log)
		defer bus.Subscribe(relay.Listen)()
	}

	orch := service.NewOrchestrator(store, bus, stages, graph, service.OrchestratorConfig{
		Teams:        cfg.Teams,
		StageTimeout: cfg.Orchestrator.StageTimeout,
		Video: service.VideoPolling{
			Initial:  cfg.Video.PollInitial,
			Max:      cfg.Video.PollMax,
			Attempts: cfg.Video.PollAttempts,
		},
	}, clk, log)
	orch.SetTelemetry(telemetry)

	// The queue outlives the signal context so Drain can finish in-flight work.
	queue := service.NewJobQueue(context.WithoutCancel(ctx), orch.ExecuteRun, log)
	settingsSvc := service.NewSettingsService(store)
	runSvc := service.NewRunService(store, bus, queue, orch, settingsSvc, log)

	if _, err := runSvc.RecoverStaleRuns(ctx); err != nil {
		return err
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(pfhttp.SecurityHeaders)
	r.Use(pfhttp.CORS(corsOrigins(cfg.Server.CORSOrigin)...))
	r.Use(pfhttp.Logger(log))
	r.Use(pfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	mutating, err := writeMiddleware(ctx, cfg, natsQueue, log)
	if err != nil {
		return err
	}
	handlers := &pfhttp.Handlers{
		Runs:     runSvc,
		Settings: settingsSvc,
		Version:  version,
		Bus:      bus,
		Hub:      hub,
	}
	if natsQueue != nil {
		handlers.Queue = natsQueue
	}
	pfhttp.MountRoutes(r, handlers, mutating...)

	r.Get("/ws", hub.HandleWS)

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{Name: "postforge", Version: version}, runSvc)
		r.Handle("/mcp", mcpSrv.Handler(cfg.MCP.APIKey))
		log.Info("mcp server mounted", "auth", cfg.MCP.APIKey != "")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Lifecycle ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Schedule.Enabled {
		scheduler := service.NewDailyScheduler(runSvc, cfg.Schedule, clk, log)
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return shutdown(srv, queue, natsQueue, hub, shutdownOTEL, cfg, log)
	})

	return g.Wait()
}

// shutdown stops intake first, then lets queued runs finish, then flushes
// the relay and telemetry.
func shutdown(
	srv *http.Server,
	queue *service.JobQueue,
	natsQueue *pfnats.Queue,
	hub *ws.Hub,
	shutdownOTEL pfotel.ShutdownFunc,
	cfg *config.Config,
	log *slog.Logger,
) error {
	var errs []error

	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Orchestrator.QueueDrainTimeout)
	defer cancelDrain()
	if err := queue.Drain(drainCtx); err != nil {
		log.Warn("job queue drain incomplete", "error", err, "remaining", queue.Size())
	}

	hub.Close()

	if natsQueue != nil {
		if err := natsQueue.Drain(); err != nil {
			errs = append(errs, err)
		}
	}

	otelCtx, cancelOTEL := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOTEL()
	if err := shutdownOTEL(otelCtx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}

	log.Info("shutdown complete")
	return errors.Join(errs...)
}

// openStore returns the configured repository and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (database.Store, func(), error) {
	if cfg.Store.Backend == "memory" {
		log.Warn("using in-memory store; runs are lost on restart")
		return memory.NewStore(clock.Real{}), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	n, err := postgres.RunMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	log.Info("postgres connected", "migrations_applied", n)
	return postgres.NewStore(pool, clock.Real{}, cfg.Orchestrator.ConflictRetries), pool.Close, nil
}

// newGroundingCache builds ristretto L1, tiered over a NATS KV bucket when
// NATS and an L2 bucket are configured.
func newGroundingCache(ctx context.Context, cfg *config.Config, q *pfnats.Queue, log *slog.Logger) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	if q == nil || cfg.Cache.L2Bucket == "" {
		return l1, l1.Close, nil
	}

	kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.GroundingTTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 cache: %w", err)
	}
	log.Info("grounding cache tiered", "l2_bucket", cfg.Cache.L2Bucket)
	return tiered.New(l1, natskv.New(kv), cfg.Cache.GroundingTTL, log), l1.Close, nil
}

// writeMiddleware returns the middleware applied to routes that start or
// change work.
func writeMiddleware(ctx context.Context, cfg *config.Config, q *pfnats.Queue, log *slog.Logger) ([]func(http.Handler) http.Handler, error) {
	var mws []func(http.Handler) http.Handler
	if cfg.Server.RateLimit > 0 {
		mws = append(mws, middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Handler)
	}
	if q != nil && cfg.Server.IdempotencyTTL > 0 {
		kv, err := q.KeyValue(ctx, idempotencyBucket, cfg.Server.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		mws = append(mws, middleware.Idempotency(kv, log))
	}
	return mws, nil
}

func corsOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
