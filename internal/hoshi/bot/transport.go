package bot

import (
	"context"
	"time"
)

// Message is an inbound text message from any transport.
type Message struct {
	Transport  string
	ChatID     string
	UserID     string
	Username   string
	Text       string
	ReceivedAt time.Time
}

// ReplyFunc produces the reply text for msg. An empty reply sends nothing.
type ReplyFunc func(ctx context.Context, msg Message) string

// Transport delivers messages to a ReplyFunc and sends its replies back.
type Transport interface {
	Name() string
	// Start blocks, delivering messages to reply until ctx is cancelled.
	Start(ctx context.Context, reply ReplyFunc) error
	SendText(ctx context.Context, chatID, text string) error
}
