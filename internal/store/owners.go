package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mgirard/keepsake/internal/memory"
)

// LoadOwner returns the owner record for (kind, name), or nil if none exists.
// The record is the single source of truth; callers mutate the returned
// value and hand it back to SaveOwner whole.
func (db *DB) LoadOwner(kind memory.OwnerKind, name string) (*memory.Owner, error) {
	var record string
	err := db.QueryRow(
		"SELECT record FROM owners WHERE kind = ? AND name = ?",
		string(kind), name,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load owner %s/%s: %w", kind, name, err)
	}

	var owner memory.Owner
	if err := json.Unmarshal([]byte(record), &owner); err != nil {
		return nil, fmt.Errorf("decode owner %s/%s: %w", kind, name, err)
	}
	return &owner, nil
}

// SaveOwner writes the whole owner record atomically. There are no
// partial-field updates; the last writer wins, which is safe under the
// queue's single-flight discipline.
func (db *DB) SaveOwner(owner *memory.Owner) error {
	owner.UpdatedAt = time.Now().UTC()

	record, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("encode owner %s: %w", owner.Ref(), err)
	}

	_, err = db.Exec(`
		INSERT INTO owners (kind, name, record, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, string(owner.Kind), owner.Name, string(record), owner.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save owner %s: %w", owner.Ref(), err)
	}
	return nil
}

// ListOwners returns every owner record, humans first.
func (db *DB) ListOwners() ([]memory.Owner, error) {
	rows, err := db.Query("SELECT record FROM owners ORDER BY kind DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []memory.Owner
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		var owner memory.Owner
		if err := json.Unmarshal([]byte(record), &owner); err != nil {
			return nil, fmt.Errorf("decode owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// ListPersonas returns every persona owner record.
func (db *DB) ListPersonas() ([]memory.Owner, error) {
	owners, err := db.ListOwners()
	if err != nil {
		return nil, err
	}
	var personas []memory.Owner
	for _, o := range owners {
		if o.Kind == memory.KindPersona {
			personas = append(personas, o)
		}
	}
	return personas, nil
}
