// Package conversation keeps Hoshi's short-term, per-user chat history. The
// in-process buffer is authoritative for prompts; an optional Log persists
// every append and clear so history survives restarts.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hoshi/common/observability"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxMessages bounds each user's buffer when Config.MaxMessages is 0.
const DefaultMaxMessages = 50

// Message is a single turn in a conversation.
type Message struct {
	ID        string    // unique message ID (UUID)
	Role      string    // "user" or "assistant"
	Content   string    // message text
	Timestamp time.Time // when this message was recorded
}

// NewMessage builds a Message with a fresh ID and the current time.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Config holds configuration for the Store.
type Config struct {
	// MaxMessages is the number of messages retained per user. When exceeded
	// the oldest messages are dropped. Default: 50.
	MaxMessages int
}

// Store is the per-user short-term history buffer. It is safe for
// concurrent use. Appends for one user are recorded in completion order, so
// two in-flight messages from the same user may interleave.
type Store struct {
	mu          sync.Mutex
	maxMessages int
	history     map[string][]Message
	loaded      map[string]bool
	log         Log
}

// New creates a Store. log may be nil, in which case history lives only in
// process memory.
func New(cfg Config, log Log) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	return &Store{
		maxMessages: cfg.MaxMessages,
		history:     make(map[string][]Message),
		loaded:      make(map[string]bool),
		log:         log,
	}
}

// MaxMessages returns the per-user retention bound.
func (s *Store) MaxMessages() int {
	return s.maxMessages
}

// AddMessage appends msg to userID's history, trimming the oldest entries
// beyond MaxMessages. Missing ID or Timestamp fields are filled in.
func (s *Store) AddMessage(ctx context.Context, userID string, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.ensureLoaded(ctx, userID)

	s.mu.Lock()
	s.history[userID] = s.trim(append(s.history[userID], msg))
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.Append(ctx, userID, msg); err != nil {
			observability.WithTrace(ctx).Warn("conversation log append failed", "user", userID, "err", err)
		}
	}
}

// Append is shorthand for AddMessage(ctx, userID, NewMessage(role, content)).
func (s *Store) Append(ctx context.Context, userID, role, content string) {
	s.AddMessage(ctx, userID, NewMessage(role, content))
}

// GetHistory returns up to limit of the most recent messages for userID in
// chronological order. limit <= 0 returns the whole retained window. The
// returned slice is a copy.
func (s *Store) GetHistory(ctx context.Context, userID string, limit int) []Message {
	s.ensureLoaded(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.history[userID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops all history for userID. The durable log records a clear
// marker instead of deleting rows.
func (s *Store) Clear(ctx context.Context, userID string) {
	s.mu.Lock()
	delete(s.history, userID)
	s.loaded[userID] = true
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.MarkCleared(ctx, userID, time.Now()); err != nil {
			observability.WithTrace(ctx).Warn("conversation log clear failed", "user", userID, "err", err)
		}
	}
}

// Len returns the number of retained messages for userID.
func (s *Store) Len(ctx context.Context, userID string) int {
	s.ensureLoaded(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[userID])
}

// ensureLoaded rehydrates userID's buffer from the log on first access. Load
// errors are logged and the user starts with an empty buffer.
func (s *Store) ensureLoaded(ctx context.Context, userID string) {
	if s.log == nil {
		return
	}

	s.mu.Lock()
	done := s.loaded[userID]
	s.mu.Unlock()
	if done {
		return
	}

	restored, err := s.log.Load(ctx, userID, s.maxMessages)
	if err != nil {
		observability.WithTrace(ctx).Warn("conversation log load failed", "user", userID, "err", err)
		restored = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[userID] {
		return
	}
	s.loaded[userID] = true
	if len(restored) > 0 {
		s.history[userID] = s.trim(append(restored, s.history[userID]...))
		slog.Debug("conversation history restored", "user", userID, "messages", len(restored))
	}
}

// trim enforces maxMessages by reslicing from the front. The backing array
// is compacted only once its capacity passes twice the window, so appends
// stay amortized O(1). Must be called with mu held.
func (s *Store) trim(msgs []Message) []Message {
	if excess := len(msgs) - s.maxMessages; excess > 0 {
		msgs = msgs[excess:]
	}
	if cap(msgs) > 2*s.maxMessages {
		compacted := make([]Message, len(msgs), 2*s.maxMessages)
		copy(compacted, msgs)
		msgs = compacted
	}
	return msgs
}
