// Package sqlite implements store.Store using the CGO-free modernc.org/sqlite
// driver. DSN is a filesystem path; use ":memory:" for a private in-memory
// database (pinned to a single connection so every caller shares it).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kael-dev/sentryd/internal/store"
)

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// For in-memory databases, ensure a single underlying connection so the
	// schema and data are visible across all operations. With multiple
	// connections, each would get its own isolated :memory: DB.
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS process_history(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uniq TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		stopped_at TIMESTAMP,
		running INTEGER NOT NULL,
		exit_err TEXT,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_history_name ON process_history(name);
	CREATE INDEX IF NOT EXISTS idx_process_history_running ON process_history(running);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(uniq, name, pid, started_at, running, updated_at)
		VALUES(?, ?, ?, ?, 1, ?)
		ON CONFLICT(uniq) DO NOTHING;`,
		uniq, rec.Name, rec.PID, rec.StartedAt.UTC(), time.Now().UTC())
	return err
}

func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	var exitStr sql.NullString
	if exitErr != nil {
		exitStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE process_history
		SET running=0, stopped_at=?, exit_err=?, updated_at=?
		WHERE uniq=?;`,
		stoppedAt.UTC(), exitStr, time.Now().UTC(), uniq)
	return err
}

func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=excluded.pid,
			running=excluded.running,
			stopped_at=excluded.stopped_at,
			exit_err=excluded.exit_err,
			updated_at=excluded.updated_at;`,
		uniq, rec.Name, rec.PID, rec.StartedAt.UTC(), rec.StoppedAt, boolToInt(rec.Running), rec.ExitErr, time.Now().UTC())
	return err
}

func (s *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM process_history WHERE name=? ORDER BY started_at DESC LIMIT ?;`, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) GetRunning(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM process_history WHERE running=1 AND name LIKE ? ORDER BY started_at DESC;`,
		namePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM process_history WHERE running=0 AND updated_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	var out []store.Record
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Uniq, &r.Name, &r.PID, &r.StartedAt, &r.StoppedAt, &r.Running, &r.ExitErr, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
