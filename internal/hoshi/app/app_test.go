package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Hoshi/internal/hoshi/app"
	"github.com/bdobrica/Hoshi/internal/hoshi/config"
)

const botToken = "42:TESTTOKEN"

type fakeTelegram struct {
	mu    sync.Mutex
	sent  []string
	polls atomic.Int32
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch strings.TrimPrefix(r.URL.Path, "/bot"+botToken+"/") {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"username":"hoshi_bot"}}`))
	case "getUpdates":
		if f.polls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"ok":true,"result":[
				{"update_id":1,"message":{"message_id":1,"chat":{"id":7},"from":{"id":7,"username":"ada"},"text":"/start"}},
				{"update_id":2,"message":{"message_id":2,"chat":{"id":7},"from":{"id":7,"username":"ada"},"text":"hello there"}}
			]}`))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(100 * time.Millisecond):
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	case "sendChatAction":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case "sendMessage":
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.sent = append(f.sent, req.Text)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Not Found"}`))
	}
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testConfig(t *testing.T, telegramURL string) *config.Config {
	t.Helper()
	v, err := config.NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Database.Path = ":memory:"
	cfg.Memory.Dir = t.TempDir()
	cfg.Conversation.Backend = "sqlite"
	cfg.Telegram.Token = botToken
	cfg.Telegram.BaseURL = telegramURL
	cfg.Auth.AllowedUsers = []string{"7"}
	cfg.LLM.APIKey = "sk-test"
	cfg.CLI.Command = "printf"
	cfg.CLI.Args = []string{"%s"}
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Telegram.Token = ""
	if _, err := app.New(context.Background(), cfg); err == nil {
		t.Fatal("expected error when no transport is configured")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.LLM.Provider = "parrot"
	if _, err := app.New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRun_TelegramRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("printf"); err != nil {
		t.Skip("printf not available")
	}
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a, err := app.New(context.Background(), testConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.texts()) < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := fake.texts()
	if len(sent) < 2 {
		t.Fatalf("expected 2 replies, got %d: %q", len(sent), sent)
	}
	var echoed bool
	for _, s := range sent {
		if strings.Contains(s, "hello there") {
			echoed = true
		}
	}
	if !echoed {
		t.Errorf("expected the simple executor to echo the prompt, got %q", sent)
	}
}

func TestOpenMemory(t *testing.T) {
	cfg := testConfig(t, "")
	st, err := app.OpenMemory(cfg)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	if st.Root() != cfg.Memory.Dir {
		t.Errorf("root = %q, want %q", st.Root(), cfg.Memory.Dir)
	}
}
