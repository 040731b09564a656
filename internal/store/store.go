package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned when no run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection and the per-run time series.
type Store struct {
	conn *pgx.Conn
}

// Run describes one processed video.
type Run struct {
	ID            string
	VideoID       string // stable hash of the source path, shared by re-scans
	Name          string
	Source        string
	Output        string
	FPS           float64
	SampleEvery   int
	FramesRead    int
	FramesSampled int
	CreatedAt     time.Time
}

// RunSummary is a Run with aggregates over its records.
type RunSummary struct {
	Run
	AvgTotal      float64
	MaxCongestion float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_runs (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			output TEXT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			sample_every INT NOT NULL,
			frames_read INT NOT NULL,
			frames_sampled INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS frame_records (
			run_id TEXT REFERENCES video_runs(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			time_sec DOUBLE PRECISION NOT NULL,
			bus INT NOT NULL,
			car INT NOT NULL,
			van INT NOT NULL,
			total INT NOT NULL,
			congestion_index DOUBLE PRECISION NOT NULL,
			congestion_level TEXT NOT NULL,
			PRIMARY KEY (run_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS video_runs_video_id_idx ON video_runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

var recordColumns = []string{
	"run_id", "frame_index", "time_sec", "bus", "car", "van", "total",
	"congestion_index", "congestion_level",
}

// SaveRun stores a run and its records in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, records []traffic.VideoFrameRecord) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO video_runs (id, video_id, name, source, output, fps, sample_every, frames_read, frames_sampled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.VideoID, run.Name, run.Source, run.Output, run.FPS, run.SampleEvery, run.FramesRead, run.FramesSampled)
	if err != nil {
		return err
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"frame_records"}, recordColumns, copyRecords(run.ID, records)); err != nil {
		return fmt.Errorf("failed to copy frame records: %w", err)
	}
	return tx.Commit(ctx)
}

func copyRecords(runID string, records []traffic.VideoFrameRecord) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{runID, r.FrameIndex, r.TimeSec, r.Bus, r.Car, r.Van, r.Total, r.CongestionIndex, r.CongestionLevel}, nil
	})
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, r.video_id, r.name, r.source, r.output, r.fps, r.sample_every,
		       r.frames_read, r.frames_sampled, r.created_at,
		       COALESCE(AVG(f.total), 0)::float8, COALESCE(MAX(f.congestion_index), 0)
		FROM video_runs r
		LEFT JOIN frame_records f ON f.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.VideoID, &rs.Name, &rs.Source, &rs.Output, &rs.FPS, &rs.SampleEvery,
			&rs.FramesRead, &rs.FramesSampled, &rs.CreatedAt, &rs.AvgTotal, &rs.MaxCongestion); err != nil {
			return nil, err
		}
		results = append(results, rs)
	}
	return results, rows.Err()
}

// GetRun looks a run up by its full ID or a unique prefix of it.
func (s *Store) GetRun(ctx context.Context, ref string) (Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, video_id, name, source, output, fps, sample_every, frames_read, frames_sampled, created_at
		FROM video_runs WHERE id LIKE $1 || '%' LIMIT 2
	`, ref)
	if err != nil {
		return Run{}, err
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var r Run
		err := row.Scan(&r.ID, &r.VideoID, &r.Name, &r.Source, &r.Output, &r.FPS, &r.SampleEvery,
			&r.FramesRead, &r.FramesSampled, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return Run{}, err
	}
	switch len(runs) {
	case 0:
		return Run{}, errs.Input(fmt.Sprintf("no run matches %q", ref), ErrRunNotFound)
	case 1:
		return runs[0], nil
	default:
		return Run{}, errs.Input(fmt.Sprintf("run prefix %q is ambiguous", ref), nil)
	}
}

// GetRecords returns a run's time series ordered by frame index.
func (s *Store) GetRecords(ctx context.Context, runID string) ([]traffic.VideoFrameRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, time_sec, bus, car, van, total, congestion_index, congestion_level
		FROM frame_records WHERE run_id = $1 ORDER BY frame_index
	`, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.VideoFrameRecord, error) {
		var r traffic.VideoFrameRecord
		err := row.Scan(&r.FrameIndex, &r.TimeSec, &r.Bus, &r.Car, &r.Van, &r.Total, &r.CongestionIndex, &r.CongestionLevel)
		return r, err
	})
}

// RenameRun sets the display name of a run.
func (s *Store) RenameRun(ctx context.Context, runID, name string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE video_runs SET name = $1 WHERE id = $2", name, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Input(fmt.Sprintf("no run matches %q", runID), ErrRunNotFound)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_records CASCADE;
		DROP TABLE IF EXISTS video_runs CASCADE;
	`)
	return err
}
