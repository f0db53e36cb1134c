package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Log is a durable, append-only record of conversation events.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append records msg for userID.
	Append(ctx context.Context, userID string, msg Message) error

	// MarkCleared records that userID's history was cleared at the given
	// time. Messages before the marker are never restored.
	MarkCleared(ctx context.Context, userID string, at time.Time) error

	// Load returns up to limit of the most recent messages recorded after
	// the last clear marker, oldest first.
	Load(ctx context.Context, userID string, limit int) ([]Message, error)
}

// Entry kinds stored by Log implementations.
const (
	kindMessage = "message"
	kindClear   = "clear"
)

// entry is the serialized form of one log event.
type entry struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"ts"`
}

func messageEntry(msg Message) entry {
	return entry{
		Kind:      kindMessage,
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

func (e entry) message() Message {
	return Message{ID: e.ID, Role: e.Role, Content: e.Content, Timestamp: e.Timestamp}
}

func encodeEntry(e entry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("conversation: encode entry: %w", err)
	}
	return string(b), nil
}

func decodeEntry(raw string) (entry, error) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return entry{}, fmt.Errorf("conversation: decode entry: %w", err)
	}
	return e, nil
}

// replay returns the messages after the last clear marker, capped to the
// limit most recent ones. entries must be in append order.
func replay(entries []entry, limit int) []Message {
	start := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == kindClear {
			start = i + 1
			break
		}
	}
	var out []Message
	for _, e := range entries[start:] {
		if e.Kind == kindMessage {
			out = append(out, e.message())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
