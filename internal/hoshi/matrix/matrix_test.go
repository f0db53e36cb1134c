package matrix

import (
	"context"
	"strings"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hoshi/internal/hoshi/store"
)

func TestDBSyncStore_RoundTrip(t *testing.T) {
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	s := NewDBSyncStore(st.DB())
	user := id.UserID("@hoshi:example.org")

	if got, err := s.LoadNextBatch(ctx, user); err != nil || got != "" {
		t.Fatalf("first LoadNextBatch = %q, %v", got, err)
	}
	if err := s.SaveNextBatch(ctx, user, "s1"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if err := s.SaveNextBatch(ctx, user, "s2"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if got, _ := s.LoadNextBatch(ctx, user); got != "s2" {
		t.Errorf("LoadNextBatch = %q, want s2", got)
	}

	if err := s.SaveFilterID(ctx, user, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	if got, _ := s.LoadFilterID(ctx, user); got != "f1" {
		t.Errorf("LoadFilterID = %q", got)
	}
	if got, _ := s.LoadNextBatch(ctx, "@other:example.org"); got != "" {
		t.Errorf("token leaked across users: %q", got)
	}
}

func newTestTransport(t *testing.T, rooms ...string) *Transport {
	t.Helper()
	tr, err := New(Config{
		Homeserver:   "https://matrix.example.org",
		UserID:       "@hoshi:example.org",
		AccessToken:  "syt_secret_token",
		AllowedRooms: rooms,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.startedAt = time.Now()
	return tr
}

func textEvent(sender, room, body string, ts time.Time) *event.Event {
	return &event.Event{
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		Type:      event.EventMessage,
		Timestamp: ts.UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestToMessage(t *testing.T) {
	tr := newTestTransport(t, "!home:example.org")
	now := time.Now()

	msg, ok := tr.toMessage(textEvent("@ana:example.org", "!home:example.org", "hola", now))
	if !ok {
		t.Fatal("valid message dropped")
	}
	if msg.UserID != "@ana:example.org" || msg.Username != "ana" || msg.ChatID != "!home:example.org" || msg.Transport != "matrix" {
		t.Errorf("msg = %+v", msg)
	}

	drops := map[string]*event.Event{
		"own message": textEvent("@hoshi:example.org", "!home:example.org", "echo", now),
		"other room":  textEvent("@ana:example.org", "!elsewhere:example.org", "hi", now),
		"stale":       textEvent("@ana:example.org", "!home:example.org", "old", now.Add(-time.Hour)),
		"blank":       textEvent("@ana:example.org", "!home:example.org", "  ", now),
	}
	notice := textEvent("@ana:example.org", "!home:example.org", "notice", now)
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	drops["notice"] = notice

	for name, evt := range drops {
		if _, ok := tr.toMessage(evt); ok {
			t.Errorf("%s: message not dropped", name)
		}
	}
}

func TestRoomAllowed_EmptyMeansAny(t *testing.T) {
	tr := newTestTransport(t)
	if !tr.roomAllowed("!any:example.org") {
		t.Error("empty allowlist must accept any room")
	}
}

func TestScrubHidesAccessToken(t *testing.T) {
	tr := newTestTransport(t)
	got := tr.scrub(errorString("401 for token syt_secret_token"))
	if strings.Contains(got, "syt_secret_token") {
		t.Errorf("scrub = %q", got)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestRenderHTML(t *testing.T) {
	got := renderHTML("**bold** and `code`\nnext line")
	for _, want := range []string{"<strong>bold</strong>", "<code>code</code>", "<br"} {
		if !strings.Contains(got, want) {
			t.Errorf("renderHTML missing %q: %s", want, got)
		}
	}
	if got := renderHTML("<script>alert(1)</script>"); strings.Contains(got, "<script>") {
		t.Errorf("raw HTML passed through: %s", got)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Homeserver: "https://m.org"}); err == nil {
		t.Error("expected error")
	}
}
