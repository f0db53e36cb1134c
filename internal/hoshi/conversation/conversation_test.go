package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAddMessage_TrimsOldestFirst(t *testing.T) {
	s := New(Config{MaxMessages: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Append(ctx, "alice", RoleUser, fmt.Sprintf("m%d", i))
	}

	got := s.GetHistory(ctx, "alice", 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Content != want {
			t.Errorf("history[%d] = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestGetHistory_LimitReturnsMostRecentChronological(t *testing.T) {
	s := New(Config{MaxMessages: 10}, nil)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		s.Append(ctx, "alice", RoleUser, fmt.Sprintf("m%d", i))
	}

	got := s.GetHistory(ctx, "alice", 2)
	if len(got) != 2 || got[0].Content != "m4" || got[1].Content != "m5" {
		t.Fatalf("GetHistory(2) = %+v, want m4, m5", got)
	}

	if got := s.GetHistory(ctx, "alice", 100); len(got) != 6 {
		t.Errorf("GetHistory(100) len = %d, want 6", len(got))
	}
}

func TestGetHistory_ReturnsCopy(t *testing.T) {
	s := New(Config{}, nil)
	ctx := context.Background()
	s.Append(ctx, "alice", RoleUser, "original")

	got := s.GetHistory(ctx, "alice", 0)
	got[0].Content = "mutated"

	if again := s.GetHistory(ctx, "alice", 0); again[0].Content != "original" {
		t.Errorf("store was mutated through returned slice: %q", again[0].Content)
	}
}

func TestAddMessage_FillsIDAndTimestamp(t *testing.T) {
	s := New(Config{}, nil)
	ctx := context.Background()
	s.AddMessage(ctx, "alice", Message{Role: RoleUser, Content: "hi"})

	m := s.GetHistory(ctx, "alice", 0)[0]
	if m.ID == "" {
		t.Error("ID not assigned")
	}
	if m.Timestamp.IsZero() {
		t.Error("Timestamp not assigned")
	}
}

func TestClear_IsolatedPerUser(t *testing.T) {
	s := New(Config{}, nil)
	ctx := context.Background()
	s.Append(ctx, "alice", RoleUser, "a")
	s.Append(ctx, "bob", RoleUser, "b")

	s.Clear(ctx, "alice")

	if n := s.Len(ctx, "alice"); n != 0 {
		t.Errorf("alice Len = %d after clear, want 0", n)
	}
	bob := s.GetHistory(ctx, "bob", 0)
	if len(bob) != 1 || bob[0].Content != "b" {
		t.Errorf("bob history = %+v, want [b]", bob)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := New(Config{MaxMessages: 1000}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		user := fmt.Sprintf("u%d", u)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Append(ctx, user, RoleUser, "x")
			}()
		}
	}
	wg.Wait()

	for u := 0; u < 4; u++ {
		if n := s.Len(ctx, fmt.Sprintf("u%d", u)); n != 50 {
			t.Errorf("u%d Len = %d, want 50", u, n)
		}
	}
}

// fakeLog records calls and serves a canned history.
type fakeLog struct {
	mu       sync.Mutex
	appended []Message
	cleared  int
	restore  []Message
	loadErr  error
	loads    int
}

func (f *fakeLog) Append(_ context.Context, _ string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeLog) MarkCleared(context.Context, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeLog) Load(context.Context, string, int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.restore, f.loadErr
}

func TestStore_RehydratesOnceFromLog(t *testing.T) {
	log := &fakeLog{restore: []Message{
		{ID: "1", Role: RoleUser, Content: "earlier question"},
		{ID: "2", Role: RoleAssistant, Content: "earlier answer"},
	}}
	s := New(Config{MaxMessages: 3}, log)
	ctx := context.Background()

	s.Append(ctx, "alice", RoleUser, "new question")
	s.Append(ctx, "alice", RoleAssistant, "new answer")

	got := s.GetHistory(ctx, "alice", 0)
	want := []string{"earlier answer", "new question", "new answer"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, got[i].Content, want[i])
		}
	}
	if log.loads != 1 {
		t.Errorf("Load called %d times, want 1", log.loads)
	}
	if len(log.appended) != 2 {
		t.Errorf("appended %d messages to log, want 2", len(log.appended))
	}
}

func TestStore_LoadErrorFailsOpen(t *testing.T) {
	log := &fakeLog{loadErr: errors.New("disk on fire")}
	s := New(Config{}, log)
	ctx := context.Background()

	s.Append(ctx, "alice", RoleUser, "hello")
	if n := s.Len(ctx, "alice"); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestStore_ClearWritesMarkerAndSkipsReload(t *testing.T) {
	log := &fakeLog{restore: []Message{{ID: "1", Role: RoleUser, Content: "old"}}}
	s := New(Config{}, log)
	ctx := context.Background()

	s.Clear(ctx, "alice")
	if log.cleared != 1 {
		t.Errorf("MarkCleared called %d times, want 1", log.cleared)
	}
	if n := s.Len(ctx, "alice"); n != 0 {
		t.Errorf("Len after clear = %d, want 0", n)
	}
	if log.loads != 0 {
		t.Errorf("Load called %d times after clear, want 0", log.loads)
	}
}

func TestReplay(t *testing.T) {
	m := func(c string) entry { return entry{Kind: kindMessage, Content: c} }
	marker := entry{Kind: kindClear}

	cases := []struct {
		name    string
		entries []entry
		limit   int
		want    []string
	}{
		{"empty", nil, 10, nil},
		{"no marker", []entry{m("a"), m("b")}, 10, []string{"a", "b"}},
		{"after last marker", []entry{m("a"), marker, m("b"), marker, m("c"), m("d")}, 10, []string{"c", "d"}},
		{"marker last", []entry{m("a"), marker}, 10, nil},
		{"limit keeps newest", []entry{m("a"), m("b"), m("c")}, 2, []string{"b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := replay(tc.entries, tc.limit)
			if len(got) != len(tc.want) {
				t.Fatalf("replay = %+v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i].Content != tc.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i].Content, tc.want[i])
				}
			}
		})
	}
}

func TestEntryEncoding(t *testing.T) {
	msg := Message{ID: "abc", Role: RoleAssistant, Content: "héllo \"quoted\"", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	raw, err := encodeEntry(messageEntry(msg))
	if err != nil {
		t.Fatalf("encodeEntry: %v", err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decodeEntry: %v", err)
	}
	got := e.message()
	if got.ID != msg.ID || got.Role != msg.Role || got.Content != msg.Content || !got.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("decoded = %+v, want %+v", got, msg)
	}
	if _, err := decodeEntry("{not json"); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestTrim_AmortizedAndBounded(t *testing.T) {
	const window = 100
	s := New(Config{MaxMessages: window}, nil)

	msgs := make([]Message, 0, window)
	for i := 0; i < window; i++ {
		msgs = append(msgs, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	msgs = s.trim(msgs)

	allocs := testing.AllocsPerRun(1000, func() {
		msgs = s.trim(append(msgs, Message{Role: RoleUser, Content: "x"}))
		if len(msgs) != window {
			t.Fatalf("len = %d, want %d", len(msgs), window)
		}
		if cap(msgs) > 2*window {
			t.Fatalf("cap = %d, want <= %d", cap(msgs), 2*window)
		}
	})
	if allocs >= 1 {
		t.Errorf("trim allocated %.0f times per append, want amortized zero", allocs)
	}

	msgs = s.trim(append(msgs, Message{Role: RoleUser, Content: "last"}))
	if msgs[len(msgs)-1].Content != "last" || msgs[0].Content != "x" {
		t.Errorf("window = first %q last %q", msgs[0].Content, msgs[len(msgs)-1].Content)
	}
}
