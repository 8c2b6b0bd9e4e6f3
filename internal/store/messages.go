package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// CreateMessage inserts a record. ID and Timestamp are filled when empty.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if m.Direction != Inbound && m.Direction != Outbound {
		return fmt.Errorf("invalid direction %q", m.Direction)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, from_id, to_id, body, direction, is_group, status, rule_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ChatID, m.From, m.To, m.Body, string(m.Direction), boolInt(m.IsGroup),
		nullString(m.Status), nullString(m.RuleID), m.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message failed: %w", err)
	}

	L_debug("sqlite: message recorded", "id", m.ID, "chat", m.ChatID, "direction", m.Direction)
	return nil
}

// ListMessages returns messages newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	query := `
		SELECT id, chat_id, from_id, to_id, body, direction, is_group, status, rule_id, timestamp
		FROM messages
	`
	var args []interface{}
	if q.ChatID != "" {
		query += " WHERE chat_id = ?"
		args = append(args, q.ChatID)
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var dir string
		var isGroup int
		var status, ruleID sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.From, &m.To, &m.Body, &dir, &isGroup, &status, &ruleID, &ts); err != nil {
			return nil, err
		}
		m.Direction = Direction(dir)
		m.IsGroup = isGroup != 0
		m.Status = status.String
		m.RuleID = ruleID.String
		m.Timestamp = fromMillis(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeMessagesBefore deletes messages older than cutoff.
func (s *SQLiteStore) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		L_info("sqlite: purged messages", "count", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// PurgeMessagesBetween deletes messages with from <= timestamp <= to.
func (s *SQLiteStore) PurgeMessagesBetween(ctx context.Context, from, to time.Time) (int64, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("invalid range: %s is before %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE timestamp >= ? AND timestamp <= ?",
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	n, _ := result.RowsAffected()
	L_info("sqlite: purged message range", "count", n)
	return n, nil
}

// CountMessages returns the number of stored records.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}
