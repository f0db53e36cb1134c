package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hoshi/internal/hoshi/store"
)

// SQLiteLog persists conversation events in the conversation_log table.
type SQLiteLog struct {
	db *store.Store
}

// NewSQLiteLog returns a Log backed by the application database.
func NewSQLiteLog(db *store.Store) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (l *SQLiteLog) Append(ctx context.Context, userID string, msg Message) error {
	_, err := l.db.DB().ExecContext(ctx, `
		INSERT INTO conversation_log (id, user_id, kind, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, userID, kindMessage, msg.Role, msg.Content, msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("conversation: sqlite append: %w", err)
	}
	return nil
}

func (l *SQLiteLog) MarkCleared(ctx context.Context, userID string, at time.Time) error {
	_, err := l.db.DB().ExecContext(ctx, `
		INSERT INTO conversation_log (id, user_id, kind, created_at)
		VALUES (?, ?, ?, ?)
	`, uuid.NewString(), userID, kindClear, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("conversation: sqlite clear: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Load(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at
			FROM conversation_log
			WHERE user_id = ? AND kind = ?
			  AND seq > COALESCE((SELECT MAX(seq) FROM conversation_log WHERE user_id = ? AND kind = ?), 0)
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, userID, kindMessage, userID, kindClear, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: sqlite load: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("conversation: sqlite load scan: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: sqlite load rows: %w", err)
	}
	return out, nil
}
