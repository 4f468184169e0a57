package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openMemoryDB(t)

	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	tables := []string{
		"schema_migrations",
		"articles",
		"analysis_results",
		"batch_sessions",
		"batch_records",
		"budget_ledger",
		"generation_runs",
		"schedule_profiles",
		"schedule_executions",
		"model_usage",
	}
	for _, table := range tables {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openMemoryDB(t)

	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7 recorded migrations, got %d", count)
	}
}

func TestGenerationRunSlotUniqueness(t *testing.T) {
	conn := openMemoryDB(t)
	if err := Migrate(conn, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	insert := `INSERT INTO generation_runs (id, publication_type, target_date, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	if _, err := conn.Exec(insert, "run-1", "DAILY", "2026-08-31"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := conn.Exec(insert, "run-2", "DAILY", "2026-08-31"); err == nil {
		t.Error("duplicate (type, target_date) insert should violate unique index")
	}
	// A different slot is fine
	if _, err := conn.Exec(insert, "run-3", "WEEKLY", "2026-08-31"); err != nil {
		t.Errorf("different publication type should insert cleanly: %v", err)
	}
}
