package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics when the docker socket is missing
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("trafficvision_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close(ctx)

	records := []traffic.VideoFrameRecord{
		{FrameIndex: 0, TimeSec: 0, Bus: 2, Car: 10, Van: 1, Total: 13, CongestionIndex: 36, CongestionLevel: "Ramai Lancar"},
		{FrameIndex: 3, TimeSec: 0.1, Car: 1, Total: 1, CongestionIndex: 4, CongestionLevel: "Lancar"},
	}
	run := Run{
		ID:            uuid.NewString(),
		VideoID:       "a1b2c3d4e5f60718",
		Source:        "/tmp/traffic.mp4",
		Output:        "/tmp/traffic_annotated.mp4",
		FPS:           30,
		SampleEvery:   3,
		FramesRead:    6,
		FramesSampled: 2,
	}
	require.NoError(t, s.SaveRun(ctx, run, records))

	got, err := s.GetRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.InDelta(t, 7.0, runs[0].AvgTotal, 1e-9)
	assert.Equal(t, 36.0, runs[0].MaxCongestion)

	byPrefix, err := s.GetRun(ctx, run.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, run.Source, byPrefix.Source)

	require.NoError(t, s.RenameRun(ctx, run.ID, "Jl. Sudirman pagi"))
	renamed, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jl. Sudirman pagi", renamed.Name)

	err = s.RenameRun(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrInput)

	require.NoError(t, s.Reset(ctx))
	_, err = s.ListRuns(ctx)
	assert.Error(t, err, "tables are gone until the next connection migrates them")
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
