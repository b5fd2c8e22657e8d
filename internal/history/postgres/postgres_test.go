package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/keepr/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	code := 1
	events := []history.Event{
		{Type: history.EventCreated, OccurredAt: time.Now(), Record: history.Record{ProcessID: "api", Name: "api", State: "not_started"}},
		{Type: history.EventStarted, OccurredAt: time.Now(), Record: history.Record{ProcessID: "api", Name: "api", PID: 77, State: "running"}},
		{Type: history.EventStopped, OccurredAt: time.Now(), Record: history.Record{ProcessID: "api", Name: "api", State: "stopped", ExitCode: &code}},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	n, err := sink.Count(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
