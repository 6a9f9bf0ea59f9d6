package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mgirard/keepsake/internal/memory"
)

// ExtractionHistory is the per (owner, data type) scan bookkeeping the
// frequency gate reads and writes.
type ExtractionHistory struct {
	Owner            memory.OwnerRef
	DataType         memory.DataType
	LastExtraction   *time.Time
	MessagesSince    int
	TotalExtractions int
}

// GetHistory returns the extraction history row for (owner, type). A missing
// row is a zero history, not an error.
func (db *DB) GetHistory(owner memory.OwnerRef, t memory.DataType) (ExtractionHistory, error) {
	h := ExtractionHistory{Owner: owner, DataType: t}

	var last sql.NullInt64
	err := db.QueryRow(`
		SELECT last_extraction, messages_since, total_extractions
		FROM extraction_history WHERE owner_kind = ? AND owner_name = ? AND data_type = ?
	`, string(owner.Kind), owner.Name, string(t)).Scan(&last, &h.MessagesSince, &h.TotalExtractions)
	if err == sql.ErrNoRows {
		return h, nil
	}
	if err != nil {
		return h, fmt.Errorf("get history %s/%s: %w", owner, t, err)
	}
	if last.Valid {
		ts := time.UnixMilli(last.Int64).UTC()
		h.LastExtraction = &ts
	}
	return h, nil
}

// BumpMessageCounters increments messages_since for every data type of the
// owner, creating rows as needed. Every triggering exchange counts against
// every type uniformly, regardless of which types get scanned that round.
func (db *DB) BumpMessageCounters(owner memory.OwnerRef) error {
	for _, t := range memory.TypesFor(owner.Kind) {
		_, err := db.Exec(`
			INSERT INTO extraction_history (owner_kind, owner_name, data_type, messages_since, total_extractions)
			VALUES (?, ?, ?, 1, 0)
			ON CONFLICT (owner_kind, owner_name, data_type)
			DO UPDATE SET messages_since = messages_since + 1
		`, string(owner.Kind), owner.Name, string(t))
		if err != nil {
			return fmt.Errorf("bump counter %s/%s: %w", owner, t, err)
		}
	}
	return nil
}

// RecordExtraction marks a completed extraction for (owner, type): resets the
// message counter, stamps last_extraction, and increments the lifetime total.
// Must be called only from a task's apply phase; an aborted task never
// reaches it, so its inputs stay unconsumed.
func (db *DB) RecordExtraction(owner memory.OwnerRef, t memory.DataType, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO extraction_history (owner_kind, owner_name, data_type, last_extraction, messages_since, total_extractions)
		VALUES (?, ?, ?, ?, 0, 1)
		ON CONFLICT (owner_kind, owner_name, data_type)
		DO UPDATE SET last_extraction = excluded.last_extraction,
		              messages_since = 0,
		              total_extractions = total_extractions + 1
	`, string(owner.Kind), owner.Name, string(t), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record extraction %s/%s: %w", owner, t, err)
	}
	return nil
}
