package conversation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Requires a reachable Redis; set HOSHI_TEST_REDIS_ADDR to run.
func TestRedisLog_RoundTrip(t *testing.T) {
	addr := os.Getenv("HOSHI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HOSHI_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	prefix := "hoshi-test:" + uuid.NewString() + ":"
	log := NewRedisLog(client, prefix, 4)
	t.Cleanup(func() { client.Del(context.Background(), prefix+"alice") })

	_ = log.Append(ctx, "alice", NewMessage(RoleUser, "gone"))
	_ = log.MarkCleared(ctx, "alice", time.Now())
	for _, c := range []string{"a", "b", "c", "d"} {
		if err := log.Append(ctx, "alice", NewMessage(RoleUser, c)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.Load(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// the list is capped at 4 entries, so the marker has been trimmed away
	if len(got) != 4 || got[0].Content != "a" || got[3].Content != "d" {
		t.Errorf("Load = %+v", got)
	}
}
