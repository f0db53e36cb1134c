package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisMaxEntries caps each user's Redis list.
const DefaultRedisMaxEntries = 500

// RedisLog persists conversation events as a capped Redis list per user.
// Clear markers are list entries; LTRIM bounds the list length.
type RedisLog struct {
	client     redis.Cmdable
	keyPrefix  string
	maxEntries int64
}

// NewRedisLog returns a Log writing to client. maxEntries <= 0 uses
// DefaultRedisMaxEntries.
func NewRedisLog(client redis.Cmdable, keyPrefix string, maxEntries int) *RedisLog {
	if maxEntries <= 0 {
		maxEntries = DefaultRedisMaxEntries
	}
	if keyPrefix == "" {
		keyPrefix = "hoshi:conversation:"
	}
	return &RedisLog{client: client, keyPrefix: keyPrefix, maxEntries: int64(maxEntries)}
}

func (l *RedisLog) key(userID string) string {
	return l.keyPrefix + userID
}

func (l *RedisLog) push(ctx context.Context, userID string, e entry) error {
	val, err := encodeEntry(e)
	if err != nil {
		return err
	}
	key := l.key(userID)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.LTrim(ctx, key, -l.maxEntries, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: redis push: %w", err)
	}
	return nil
}

func (l *RedisLog) Append(ctx context.Context, userID string, msg Message) error {
	return l.push(ctx, userID, messageEntry(msg))
}

func (l *RedisLog) MarkCleared(ctx context.Context, userID string, at time.Time) error {
	return l.push(ctx, userID, entry{Kind: kindClear, Timestamp: at})
}

func (l *RedisLog) Load(ctx context.Context, userID string, limit int) ([]Message, error) {
	raw, err := l.client.LRange(ctx, l.key(userID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: redis load: %w", err)
	}
	entries := make([]entry, 0, len(raw))
	for _, r := range raw {
		e, err := decodeEntry(r)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return replay(entries, limit), nil
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("conversation: connect to redis %s: %w", addr, err)
	}
	return client, nil
}
