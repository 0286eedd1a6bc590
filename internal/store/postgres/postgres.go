// Package postgres implements store.Store on top of PostgreSQL via the
// pgx/v5 stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kael-dev/sentryd/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS process_history(
		id BIGSERIAL PRIMARY KEY,
		uniq TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		stopped_at TIMESTAMPTZ,
		running BOOLEAN NOT NULL,
		exit_err TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_history_name ON process_history(name);
	CREATE INDEX IF NOT EXISTS idx_process_history_running ON process_history(running);`
	_, err := p.db.ExecContext(ctx, stmt)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordStart(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_history(uniq, name, pid, started_at, running, updated_at)
		VALUES($1,$2,$3,$4,true,$5)
		ON CONFLICT(uniq) DO NOTHING;`,
		uniq, rec.Name, rec.PID, rec.StartedAt.UTC(), time.Now().UTC())
	return err
}

func (p *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	var exitStr sql.NullString
	if exitErr != nil {
		exitStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE process_history
		SET running=false, stopped_at=$1, exit_err=$2, updated_at=$3
		WHERE uniq=$4;`,
		stoppedAt.UTC(), exitStr, time.Now().UTC(), uniq)
	return err
}

func (p *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_history(uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=EXCLUDED.pid,
			running=EXCLUDED.running,
			stopped_at=EXCLUDED.stopped_at,
			exit_err=EXCLUDED.exit_err,
			updated_at=EXCLUDED.updated_at;`,
		uniq, rec.Name, rec.PID, rec.StartedAt.UTC(), rec.StoppedAt, rec.Running, rec.ExitErr, time.Now().UTC())
	return err
}

func (p *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM process_history WHERE name=$1 ORDER BY started_at DESC LIMIT $2;`, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) GetRunning(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, uniq, name, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM process_history WHERE running=true AND name LIKE $1 ORDER BY started_at DESC;`,
		namePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM process_history WHERE running=false AND updated_at < $1;`, olderThan.UTC())
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
