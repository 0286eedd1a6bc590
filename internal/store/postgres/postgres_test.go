package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kael-dev/sentryd/internal/store"
)

// testDSN returns the postgres DSN to exercise, skipping the test when no
// reachable instance has been provided (this package has no unit-testable
// logic independent of a real connection: everything is SQL pushed to the
// server).
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SENTRYD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SENTRYD_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	return dsn
}

func TestPostgresStoreLifecycleAndQueries(t *testing.T) {
	dsn := testDSN(t)
	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	start := time.Now().Add(-2 * time.Second).UTC()
	rec := store.Record{Name: "pgsvc", PID: 4321, StartedAt: start}
	if err := db.RecordStart(ctx, rec); err != nil {
		t.Fatalf("record start: %v", err)
	}

	runs, err := db.GetRunning(ctx, "pgsvc")
	if err != nil {
		t.Fatalf("get running: %v", err)
	}
	if len(runs) != 1 || !runs[0].Running {
		t.Fatalf("unexpected running rows: %+v", runs)
	}

	uniq := rec.Key()
	if err := db.RecordStop(ctx, uniq, time.Now().UTC(), nil); err != nil {
		t.Fatalf("record stop: %v", err)
	}
	runs2, err := db.GetRunning(ctx, "pgsvc")
	if err != nil {
		t.Fatalf("get running2: %v", err)
	}
	if len(runs2) != 0 {
		t.Fatalf("expected 0 running after stop, got %d", len(runs2))
	}

	hist, err := db.GetByName(ctx, "pgsvc", 10)
	if err != nil || len(hist) < 1 {
		t.Fatalf("get by name: %v len=%d", err, len(hist))
	}
	if hist[0].Running {
		t.Fatalf("expected latest not running: %+v", hist[0])
	}

	deleted, err := db.PurgeOlderThan(ctx, time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted < 1 {
		t.Fatalf("expected at least 1 row purged, got %d", deleted)
	}
}
