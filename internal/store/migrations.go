package store

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
	// Optional migrations depend on a capability the SQLite build may lack.
	// A failure is logged and retried on the next open instead of aborting.
	Optional bool
}

// entityTableSQL builds the shared layout for one knowledge kind: the entity
// table and its append-only version table.
func entityTableSQL(kind Kind) string {
	s := kindSpecs[kind]
	return fmt.Sprintf(`
CREATE TABLE %[1]s (
    id             INTEGER PRIMARY KEY,
    name           TEXT NOT NULL,
    description    TEXT,
    scope          TEXT,
    domain_id      TEXT,
    kind_tag       TEXT,
    status         TEXT,
    approval       TEXT,

    -- Ordered list fields, JSON arrays
    tags           TEXT NOT NULL DEFAULT '[]',
    triggers       TEXT NOT NULL DEFAULT '[]',
    aliases        TEXT NOT NULL DEFAULT '[]',
    prerequisites  TEXT NOT NULL DEFAULT '[]',
    inputs         TEXT NOT NULL DEFAULT '[]',
    outputs        TEXT NOT NULL DEFAULT '[]',
    steps          TEXT NOT NULL DEFAULT '[]',
    failure_modes  TEXT NOT NULL DEFAULT '[]',
    validation     TEXT NOT NULL DEFAULT '[]',

    version        TEXT,
    source_task_id INTEGER,
    source_run_id  INTEGER,
    publish_path   TEXT,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_%[1]s_status ON %[1]s(status);
CREATE INDEX idx_%[1]s_domain ON %[1]s(domain_id);
CREATE INDEX idx_%[1]s_scope  ON %[1]s(scope);
CREATE INDEX idx_%[1]s_run    ON %[1]s(source_run_id);

CREATE TABLE %[2]s (
    id                INTEGER PRIMARY KEY,
    entity_id         INTEGER NOT NULL,
    previous_version  TEXT,
    next_version      TEXT,
    previous_snapshot TEXT NOT NULL,
    change_notes      TEXT,
    created_at        INTEGER NOT NULL
);

CREATE INDEX idx_%[2]s_entity ON %[2]s(entity_id, id DESC);
`, s.table, s.versions)
}

// ftsSQL builds an external-content FTS5 index over kind's table, kept in
// sync by triggers, and rebuilds it from any rows already present.
func ftsSQL(kind Kind) string {
	s := kindSpecs[kind]
	return fmt.Sprintf(`
CREATE VIRTUAL TABLE %[2]s USING fts5(
    name, description, scope, tags, triggers, aliases,
    content='%[1]s', content_rowid='id'
);

CREATE TRIGGER %[1]s_fts_ai AFTER INSERT ON %[1]s BEGIN
    INSERT INTO %[2]s(rowid, name, description, scope, tags, triggers, aliases)
    VALUES (new.id, new.name, new.description, new.scope, new.tags, new.triggers, new.aliases);
END;

CREATE TRIGGER %[1]s_fts_ad AFTER DELETE ON %[1]s BEGIN
    INSERT INTO %[2]s(%[2]s, rowid, name, description, scope, tags, triggers, aliases)
    VALUES ('delete', old.id, old.name, old.description, old.scope, old.tags, old.triggers, old.aliases);
END;

CREATE TRIGGER %[1]s_fts_au AFTER UPDATE ON %[1]s BEGIN
    INSERT INTO %[2]s(%[2]s, rowid, name, description, scope, tags, triggers, aliases)
    VALUES ('delete', old.id, old.name, old.description, old.scope, old.tags, old.triggers, old.aliases);
    INSERT INTO %[2]s(rowid, name, description, scope, tags, triggers, aliases)
    VALUES (new.id, new.name, new.description, new.scope, new.tags, new.triggers, new.aliases);
END;

INSERT INTO %[2]s(%[2]s) VALUES ('rebuild');
`, s.table, s.fts)
}

func allFTSSQL() string {
	var b strings.Builder
	for _, k := range Kinds {
		b.WriteString(ftsSQL(k))
	}
	return b.String()
}

var migrations = []migration{
	{
		Version:     1,
		Description: "skills: skill entities and version log",
		SQL:         entityTableSQL(KindSkill),
	},
	{
		Version:     2,
		Description: "tools: tool entities and version log",
		SQL:         entityTableSQL(KindTool),
	},
	{
		Version:     3,
		Description: "memories: memory items and version log",
		SQL:         entityTableSQL(KindMemory),
	},
	{
		Version:     4,
		Description: "graph: nodes, version log and edges",
		SQL: entityTableSQL(KindGraphNode) + `
CREATE TABLE graph_edges (
    id         INTEGER PRIMARY KEY,
    src_id     INTEGER NOT NULL,
    dst_id     INTEGER NOT NULL,
    relation   TEXT NOT NULL,
    weight     REAL NOT NULL DEFAULT 1.0,
    created_at INTEGER NOT NULL,
    UNIQUE (src_id, relation, dst_id),
    FOREIGN KEY (src_id) REFERENCES graph_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (dst_id) REFERENCES graph_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_edges_src ON graph_edges(src_id);
CREATE INDEX idx_edges_dst ON graph_edges(dst_id);
`,
	},
	{
		Version:     5,
		Description: "executions: per-call outcome log feeding quality signals",
		SQL: `
CREATE TABLE executions (
    id          INTEGER PRIMARY KEY,
    exec_id     TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL,
    entity_id   INTEGER NOT NULL,
    run_id      INTEGER,
    task_id     INTEGER,
    outcome     TEXT NOT NULL CHECK (outcome IN ('pass', 'fail', 'unknown')),
    reused      INTEGER NOT NULL DEFAULT 0,
    detail      TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_exec_entity  ON executions(kind, entity_id, created_at DESC);
CREATE INDEX idx_exec_created ON executions(created_at DESC);
`,
	},
	{
		Version:     6,
		Description: "fts: full-text indexes for every kind",
		SQL:         allFTSSQL(),
		Optional:    true,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		if err := db.applyMigration(m); err != nil {
			if m.Optional {
				db.log.Warn("optional migration skipped",
					zap.Int("version", m.Version), zap.String("description", m.Description), zap.Error(err))
				continue
			}
			return err
		}
	}

	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}

	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
