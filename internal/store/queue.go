package store

import (
	"database/sql"
	"fmt"
)

// QueueItem is a persisted task row. The engine owns the payload encoding;
// the store only orders and hands rows back.
type QueueItem struct {
	ID        string
	Kind      string
	Priority  int // lower is more urgent
	CreatedAt int64
	Payload   []byte
}

// PutQueueItem persists a task. Re-putting an existing id overwrites it.
func (db *DB) PutQueueItem(item QueueItem) error {
	_, err := db.Exec(`
		INSERT INTO queue_items (id, kind, priority, created_at, payload, status)
		VALUES (?, ?, ?, ?, ?, 'queued')
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, priority = excluded.priority,
			created_at = excluded.created_at, payload = excluded.payload, status = 'queued'
	`, item.ID, item.Kind, item.Priority, item.CreatedAt, string(item.Payload))
	if err != nil {
		return fmt.Errorf("put queue item %s: %w", item.ID, err)
	}
	return nil
}

// NextQueueItem returns the highest-priority queued item whose kind is not in
// skipKinds, or nil when none is eligible. The item is not removed; the
// caller deletes it after the task's apply phase so aborted work is retried.
func (db *DB) NextQueueItem(skipKinds ...string) (*QueueItem, error) {
	query := "SELECT id, kind, priority, created_at, payload FROM queue_items WHERE status = 'queued'"
	args := []any{}
	for _, k := range skipKinds {
		query += " AND kind != ?"
		args = append(args, k)
	}
	query += " ORDER BY priority, created_at, id LIMIT 1"

	var item QueueItem
	var payload string
	err := db.QueryRow(query, args...).Scan(&item.ID, &item.Kind, &item.Priority, &item.CreatedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queue item: %w", err)
	}
	item.Payload = []byte(payload)
	return &item, nil
}

// DeleteQueueItem removes a completed (or resolved) item.
func (db *DB) DeleteQueueItem(id string) error {
	if _, err := db.Exec("DELETE FROM queue_items WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete queue item %s: %w", id, err)
	}
	return nil
}

// ParkQueueItem sidelines an item the processor cannot dispatch. Parked items
// are kept for inspection, never silently dropped.
func (db *DB) ParkQueueItem(id string) error {
	if _, err := db.Exec("UPDATE queue_items SET status = 'parked' WHERE id = ?", id); err != nil {
		return fmt.Errorf("park queue item %s: %w", id, err)
	}
	return nil
}

// ListQueueItems returns queued items of the given kind in queue order.
// An empty kind lists everything queued.
func (db *DB) ListQueueItems(kind string) ([]QueueItem, error) {
	query := "SELECT id, kind, priority, created_at, payload FROM queue_items WHERE status = 'queued'"
	args := []any{}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY priority, created_at, id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var payload string
		if err := rows.Scan(&item.ID, &item.Kind, &item.Priority, &item.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.Payload = []byte(payload)
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetQueueItem returns a single item by id regardless of status, or nil.
func (db *DB) GetQueueItem(id string) (*QueueItem, error) {
	var item QueueItem
	var payload string
	err := db.QueryRow(
		"SELECT id, kind, priority, created_at, payload FROM queue_items WHERE id = ?", id,
	).Scan(&item.ID, &item.Kind, &item.Priority, &item.CreatedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item %s: %w", id, err)
	}
	item.Payload = []byte(payload)
	return &item, nil
}

// QueueDepth returns the number of queued (not parked) items.
func (db *DB) QueueDepth() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM queue_items WHERE status = 'queued'").Scan(&n)
	return n, err
}
