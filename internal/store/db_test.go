package store

import (
	"context"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{
		"schema_versions",
		"skills", "skill_versions", "skills_fts",
		"tools", "tool_versions", "tools_fts",
		"memories", "memory_versions", "memories_fts",
		"graph_nodes", "graph_node_versions", "graph_nodes_fts", "graph_edges",
		"executions",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestFTSExists(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, k := range Kinds {
		ok, err := db.FTSExists(ctx, k)
		if err != nil {
			t.Fatalf("FTSExists(%s): %v", k, err)
		}
		if !ok {
			t.Errorf("FTSExists(%s) = false, want true", k)
		}
	}

	if _, err := db.Exec("DROP TABLE skills_fts"); err != nil {
		t.Fatalf("drop fts: %v", err)
	}
	ok, err := db.FTSExists(ctx, KindSkill)
	if err != nil {
		t.Fatalf("FTSExists: %v", err)
	}
	if ok {
		t.Error("FTSExists after drop = true, want false")
	}
}

func TestExecutionsConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO executions (exec_id, kind, entity_id, outcome, created_at)
		VALUES ('x1', 'skill', 1, 'pass', 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO executions (exec_id, kind, entity_id, outcome, created_at)
		VALUES ('x2', 'skill', 1, 'maybe', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid outcome, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion after re-migrate = %d, want %d", v, len(migrations))
	}
}

func TestWALMode(t *testing.T) {
	db := testDB(t)

	var mode string
	err := db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
