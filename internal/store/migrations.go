package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "owners: whole-record owner profiles",
		SQL: `
CREATE TABLE owners (
    kind       TEXT NOT NULL CHECK (kind IN ('human', 'persona')),
    name       TEXT NOT NULL COLLATE NOCASE,
    record     TEXT NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (kind, name)
);
`,
	},
	{
		Version:     2,
		Description: "exchanges: conversation history",
		SQL: `
CREATE TABLE exchanges (
    id           INTEGER PRIMARY KEY,
    persona      TEXT NOT NULL COLLATE NOCASE,
    speaker_kind TEXT NOT NULL CHECK (speaker_kind IN ('human', 'persona')),
    speaker_name TEXT NOT NULL,
    content      TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_exchanges_persona ON exchanges(persona, created_at DESC);
`,
	},
	{
		Version:     3,
		Description: "extraction_history: per owner x data type scan bookkeeping",
		SQL: `
CREATE TABLE extraction_history (
    owner_kind        TEXT NOT NULL,
    owner_name        TEXT NOT NULL COLLATE NOCASE,
    data_type         TEXT NOT NULL CHECK (data_type IN ('fact', 'trait', 'topic', 'person')),
    last_extraction   INTEGER,
    messages_since    INTEGER NOT NULL DEFAULT 0,
    total_extractions INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (owner_kind, owner_name, data_type)
);
`,
	},
	{
		Version:     4,
		Description: "queue_items: durable task queue",
		SQL: `
CREATE TABLE queue_items (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    priority   INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    payload    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued', 'parked'))
);

CREATE INDEX idx_queue_order ON queue_items(status, priority, created_at, id);
`,
	},
}

func (db *DB) migrate() error {
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
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
