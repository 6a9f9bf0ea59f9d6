package store

import (
	"fmt"
	"time"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/memory"
)

// AppendExchange records one conversation message.
func (db *DB) AppendExchange(msg *exchange.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	result, err := db.Exec(`
		INSERT INTO exchanges (persona, speaker_kind, speaker_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.Persona, string(msg.SpeakerKind), msg.SpeakerName, msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

// RecentExchanges returns up to limit messages from the given persona's
// conversation, oldest first.
func (db *DB) RecentExchanges(persona string, limit int) ([]exchange.Message, error) {
	rows, err := db.Query(`
		SELECT id, persona, speaker_kind, speaker_name, content, created_at
		FROM exchanges WHERE persona = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, persona, limit)
	if err != nil {
		return nil, fmt.Errorf("recent exchanges: %w", err)
	}
	defer rows.Close()

	var messages []exchange.Message
	for rows.Next() {
		var m exchange.Message
		var kind string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Persona, &kind, &m.SpeakerName, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		m.SpeakerKind = memory.OwnerKind(kind)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ExchangesSince returns messages in the persona's conversation created at
// or after the cutoff, oldest first.
func (db *DB) ExchangesSince(persona string, cutoff time.Time) ([]exchange.Message, error) {
	rows, err := db.Query(`
		SELECT id, persona, speaker_kind, speaker_name, content, created_at
		FROM exchanges WHERE persona = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, persona, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("exchanges since: %w", err)
	}
	defer rows.Close()

	var messages []exchange.Message
	for rows.Next() {
		var m exchange.Message
		var kind string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Persona, &kind, &m.SpeakerName, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		m.SpeakerKind = memory.OwnerKind(kind)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
