// Package testutil provides shared test infrastructure for integration tests
// that need a PostgreSQL server.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg, err := testutil.StartPostgres(context.Background())
//	    if err == nil {
//	        defer pg.Terminate()
//	        dsn = pg.DSN
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
// Container is nil when the DSN came from DATABASE_URL.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres returns a reachable PostgreSQL DSN. DATABASE_URL wins when
// set; otherwise a throwaway container is started. The error is non-nil when
// neither is available, e.g. no Docker daemon.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return &TestContainer{DSN: dsn}, nil
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postforge",
			"POSTGRES_PASSWORD": "postforge",
			"POSTGRES_DB":       "postforge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://postforge:postforge@%s:%s/postforge?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// Terminate stops and removes the container, if one was started.
func (tc *TestContainer) Terminate() {
	if tc.Container != nil {
		_ = tc.Container.Terminate(context.Background())
	}
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
