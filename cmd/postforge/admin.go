package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	pfnats "github.com/Strob0t/PostForge/internal/adapter/nats"
	"github.com/Strob0t/PostForge/internal/adapter/postgres"
	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/config"
	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/settings"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/port/database"
	"github.com/Strob0t/PostForge/internal/port/messagequeue"
	"github.com/Strob0t/PostForge/internal/service"
)

// adminCLI runs operator subcommands. Store-backed commands talk to Postgres
// directly; watch tails the NATS event relay. None of them starts the
// pipeline.
type adminCLI struct {
	out    io.Writer
	errOut io.Writer
	tty    bool

	openStore func(ctx context.Context) (database.Store, func(), error)
	openQueue func(ctx context.Context) (q messagequeue.Queue, prefix string, err error)
}

func newAdminCLI() *adminCLI {
	return &adminCLI{
		out:       os.Stdout,
		errOut:    os.Stderr,
		tty:       interactive(),
		openStore: openAdminStore,
		openQueue: openAdminQueue,
	}
}

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newAdminCLI().run(ctx, args)
}

func (a *adminCLI) run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		a.printHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return a.migrate(ctx, args[1:])
	case "list-runs":
		return a.listRuns(ctx, args[1:])
	case "logs":
		return a.logs(ctx, args[1:])
	case "analytics":
		return a.analytics(ctx, args[1:])
	case "set-delivery":
		return a.setDelivery(ctx, args[1:])
	case "watch":
		return a.watch(ctx, args[1:])
	default:
		a.printHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func (a *adminCLI) printHelp() {
	fmt.Fprintf(a.errOut, `Usage: postforge admin <command> [options]

Commands:
  migrate        Apply pending database migrations
  list-runs      List runs, newest first
  logs           Show the step logs of a run
  analytics      Print the analytics summary
  set-delivery   Store the default Teams destination
  watch          Stream run events from NATS until interrupted
  help           Show this help message

Examples:
  postforge admin list-runs --status failed
  postforge admin logs --run 3f1c...
  postforge admin set-delivery --team 19:abc --channel 19:def
  postforge admin watch --run 3f1c...
`)
}

func (a *adminCLI) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func openAdminStore(ctx context.Context) (database.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool, clock.Real{}, cfg.Orchestrator.ConflictRetries), pool.Close, nil
}

func openAdminQueue(ctx context.Context) (messagequeue.Queue, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if cfg.NATS.URL == "" {
		return nil, "", errors.New("nats url is not configured (POSTFORGE_NATS_URL)")
	}
	q, err := pfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		return nil, "", err
	}
	return q, cfg.NATS.SubjectPrefix, nil
}

func (a *adminCLI) migrate(ctx context.Context, args []string) error {
	if err := a.flags("migrate").Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	n, err := postgres.RunMigrations(ctx, pool)
	if err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, pool)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.errOut, "Applied %d migration(s); schema version %d\n", n, v)
	return nil
}

func (a *adminCLI) listRuns(ctx context.Context, args []string) error {
	fs := a.flags("list-runs")
	status := fs.String("status", "", "only runs in this status")
	limit := fs.Int("limit", 50, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *status != "" && !run.ValidStatus(run.Status(*status)) {
		return fmt.Errorf("unknown status %q", *status)
	}
	if *limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", *limit)
	}

	store, cleanup, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	var rows []run.Run
	for i := range runs {
		if *status == "" || string(runs[i].Status) == *status {
			rows = append(rows, runs[i])
		}
		if len(rows) == *limit {
			break
		}
	}

	if !a.tty {
		return writeJSONLines(a.out, rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(a.out, "No runs found.")
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tCATEGORY\tCREATED\tRUNTIME\tASSETS")
	for i := range rows {
		runtime := "-"
		if d, ok := rows[i].Runtime(); ok {
			runtime = d.Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			rows[i].ID, rows[i].SourceType, rows[i].Status, rows[i].Category,
			rows[i].CreatedAt.Format(time.RFC3339), runtime, len(rows[i].Assets))
	}
	return w.Flush()
}

func (a *adminCLI) logs(ctx context.Context, args []string) error {
	fs := a.flags("logs")
	runID := fs.String("run", "", "run id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("--run is required")
	}

	store, cleanup, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logs, err := store.ListLogs(ctx, *runID)
	if err != nil {
		return fmt.Errorf("list logs: %w", err)
	}
	if !a.tty {
		return writeJSONLines(a.out, logs)
	}

	// Oldest first reads top-down like a transcript.
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tSTEP\tSTATUS\tMESSAGE\tERROR")
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.StartedAt.Format(time.RFC3339), l.StepName, l.Status, l.Message, l.ErrorMessage)
	}
	return w.Flush()
}

func (a *adminCLI) analytics(ctx context.Context, args []string) error {
	if err := a.flags("analytics").Parse(args); err != nil {
		return err
	}

	store, cleanup, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sum, err := store.GetAnalyticsSummary(ctx)
	if err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	enc := json.NewEncoder(a.out)
	if a.tty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(sum)
}

func (a *adminCLI) setDelivery(ctx context.Context, args []string) error {
	fs := a.flags("set-delivery")
	team := fs.String("team", "", "Teams team id (required)")
	channel := fs.String("channel", "", "Teams channel id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := service.NewSettingsService(store)
	if err := svc.SetDeliveryDefaults(ctx, settings.DeliveryDefaults{TeamID: *team, ChannelID: *channel}); err != nil {
		return fmt.Errorf("set delivery defaults: %w", err)
	}
	fmt.Fprintf(a.errOut, "Delivery defaults set to team=%s channel=%s\n", *team, *channel)
	return nil
}

// watch prints relayed run events until ctx is done. Piped output is the
// raw envelope, one per line.
func (a *adminCLI) watch(ctx context.Context, args []string) error {
	fs := a.flags("watch")
	runID := fs.String("run", "", "only events for this run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q, prefix, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	var mu sync.Mutex
	handler := func(_ context.Context, _ string, data []byte) error {
		line, ok := a.eventLine(data, *runID)
		if !ok {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintln(a.out, line)
		return err
	}

	for _, t := range []event.Type{event.TypeRunUpdated, event.TypeLogAdded} {
		stop, err := q.Subscribe(ctx, messagequeue.SubjectFor(prefix, t), handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		defer stop()
	}

	fmt.Fprintln(a.errOut, "Watching run events, Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

// eventLine renders one envelope, or reports false when it belongs to a
// different run than filter.
func (a *adminCLI) eventLine(data []byte, filter string) (string, bool) {
	var env struct {
		Type    event.Type      `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false
	}

	var runID, line string
	switch env.Type {
	case event.TypeRunUpdated:
		var r run.Run
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return "", false
		}
		runID = r.ID
		line = fmt.Sprintf("run  %s  %s  assets=%d", r.ID, r.Status, len(r.Assets))
	case event.TypeLogAdded:
		var l steplog.Log
		if err := json.Unmarshal(env.Payload, &l); err != nil {
			return "", false
		}
		runID = l.RunID
		line = fmt.Sprintf("log  %s  %s  %s  %s", l.RunID, l.StepName, l.Status, l.Message)
	default:
		return "", false
	}

	if filter != "" && runID != filter {
		return "", false
	}
	if !a.tty {
		return string(data), true
	}
	return line, true
}

// interactive reports whether stdout is a terminal; piped output is JSON.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func writeJSONLines[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return err
		}
	}
	return nil
}
