// Package storage keeps a SQLite log of finished program runs and serves
// per-level statistics from it. It uses the pure-Go modernc.org/sqlite
// driver so the server builds without CGO.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/service"
)

// Store records runs in a SQLite database. It implements service.RunStore.
type Store struct {
	db *sql.DB
}

var _ service.RunStore = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open database: %w", err)
	}
	// run observers write from many goroutines
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			level_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL DEFAULT 0,
			commands_used INTEGER NOT NULL DEFAULT 0,
			stars INTEGER NOT NULL DEFAULT 0,
			on_goal INTEGER NOT NULL DEFAULT 0,
			program TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_level_id ON runs(level_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_session_id ON runs(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun inserts a finished run and sets rec.ID. Recording the same run
// ID twice is an error.
func (s *Store) RecordRun(ctx context.Context, rec *service.RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("storage: run record needs a run id")
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, level_id, status, reason, steps,
		                   commands_used, stars, on_goal, program, started_at, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.SessionID, rec.LevelID, string(rec.Status), rec.Reason, rec.Steps,
		rec.CommandsUsed, rec.Stars, rec.OnGoal, rec.Program, rec.StartedAt.UnixNano(), int64(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("storage: cannot record run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage: cannot get inserted ID: %w", err)
	}
	rec.ID = id
	return nil
}

// ListRuns returns up to limit runs, newest first. An empty levelID lists
// runs across all levels.
func (s *Store) ListRuns(ctx context.Context, levelID string, limit int) ([]*service.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, run_id, session_id, level_id, status, reason, steps,
	                 commands_used, stars, on_goal, program, started_at, duration_ns
	          FROM runs`
	args := []any{}
	if levelID != "" {
		query += ` WHERE level_id = ?`
		args = append(args, levelID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query runs: %w", err)
	}
	defer rows.Close()

	runs := []*service.RunRecord{}
	for rows.Next() {
		var (
			r         service.RunRecord
			status    string
			startedAt int64
			duration  int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.SessionID, &r.LevelID, &status, &r.Reason, &r.Steps,
			&r.CommandsUsed, &r.Stars, &r.OnGoal, &r.Program, &startedAt, &duration); err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		r.Status = interpreter.Status(status)
		r.StartedAt = time.Unix(0, startedAt)
		r.Duration = time.Duration(duration)
		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return runs, nil
}

// LevelStats aggregates every recorded run of a level. FewestCommands only
// counts runs that finished on a goal.
func (s *Store) LevelStats(ctx context.Context, levelID string) (*service.LevelStats, error) {
	var (
		runs, completed, failed, cancelled int
		bestStars                          sql.NullInt64
		fewest                             sql.NullInt64
		last                               sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(status = ?), 0),
		        COALESCE(SUM(status = ?), 0),
		        COALESCE(SUM(status = ?), 0),
		        MAX(stars),
		        MIN(CASE WHEN status = ? AND on_goal = 1 THEN commands_used END),
		        MAX(started_at)
		 FROM runs WHERE level_id = ?`,
		string(interpreter.StatusCompleted), string(interpreter.StatusFailed), string(interpreter.StatusCancelled),
		string(interpreter.StatusCompleted), levelID,
	).Scan(&runs, &completed, &failed, &cancelled, &bestStars, &fewest, &last)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot aggregate runs: %w", err)
	}

	stats := &service.LevelStats{
		LevelID:        levelID,
		Runs:           runs,
		Completed:      completed,
		Failed:         failed,
		Cancelled:      cancelled,
		BestStars:      int(bestStars.Int64),
		FewestCommands: int(fewest.Int64),
	}
	if last.Valid {
		t := time.Unix(0, last.Int64)
		stats.LastPlayed = &t
	}
	return stats, nil
}
