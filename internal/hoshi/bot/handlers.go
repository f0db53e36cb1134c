package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/version"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
	"github.com/bdobrica/Hoshi/internal/hoshi/router"
	"github.com/bdobrica/Hoshi/internal/hoshi/search"
)

const helpText = `*Hoshi* keeps you company and remembers what matters.

*Modes*
/simple – quick answers (default)
/flow – deep thinking for planning and multi-step tasks
/status – current mode and limits
/clear – forget this conversation

*Memory*
/remember key = value [--prefs] – store a fact
/recall key – look a fact up
/forget key – remove a fact
/note topic = content – write a note
/notes – list your notes
/journal [text] – add to today's journal, or show it
/search query [--limit=N] – search your notes
/memory – everything I know about you`

// maxSearchLimit caps /search --limit.
const maxSearchLimit = 20

func (b *Bot) registerCommands() {
	r := b.commands
	r.Register("start", b.handleStart)
	r.Register("help", b.handleHelp)
	r.Register("flow", b.handleFlow)
	r.Register("simple", b.handleSimple)
	r.Register("status", b.handleStatus)
	r.Register("clear", b.handleClear)
	r.Register("remember", b.handleRemember, "prefs", "preferences")
	r.Register("recall", b.handleRecall)
	r.Register("forget", b.handleForget)
	r.Register("note", b.handleNote)
	r.Register("notes", b.handleNotes)
	r.Register("journal", b.handleJournal)
	r.Register("search", b.handleSearch, "limit")
	r.Register("memory", b.handleMemory)
}

func (b *Bot) handleStart(ctx context.Context, cmd *Command, msg Message) (string, error) {
	b.cfg.Modes.Set(msg.UserID, router.ModeSimple)
	name := msg.Username
	if rec := b.cfg.Memory.Recall(ctx, msg.UserID, "Name", memory.FileAbout); rec.Found {
		name = rec.Value
	}
	greeting := "👋 Hi!"
	if name != "" {
		greeting = fmt.Sprintf("👋 Hi %s!", name)
	}
	return greeting + " I'm Hoshi. Just write to me, or send /help to see what I can do.", nil
}

func (b *Bot) handleHelp(ctx context.Context, cmd *Command, msg Message) (string, error) {
	return helpText, nil
}

func (b *Bot) handleFlow(ctx context.Context, cmd *Command, msg Message) (string, error) {
	b.cfg.Modes.Set(msg.UserID, router.ModeFlow)
	return "🧠 Flow mode on. I'll take my time and think things through. Send /simple to switch back.", nil
}

func (b *Bot) handleSimple(ctx context.Context, cmd *Command, msg Message) (string, error) {
	b.cfg.Modes.Set(msg.UserID, router.ModeSimple)
	return "⚡ Simple mode on. Quick answers from here.", nil
}

func (b *Bot) handleStatus(ctx context.Context, cmd *Command, msg Message) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Mode:* %s\n", b.cfg.Modes.Get(msg.UserID))
	fmt.Fprintf(&sb, "*Conversation:* %d/%d messages\n",
		b.cfg.History.Len(ctx, msg.UserID), b.cfg.History.MaxMessages())
	if bucket := b.cfg.Limiter.Bucket(msg.UserID); bucket != nil {
		fmt.Fprintf(&sb, "*Rate limit:* %.0f/%d messages available\n", bucket.Tokens(), bucket.Capacity())
	}
	if b.cfg.Budget != nil {
		fmt.Fprintf(&sb, "*Tokens today:* %d used, %d left\n",
			b.cfg.Budget.Used(msg.UserID), b.cfg.Budget.Remaining(msg.UserID))
	}
	fmt.Fprintf(&sb, "*Notes:* %d\n", len(b.cfg.Memory.ListNotes(ctx, msg.UserID)))
	fmt.Fprintf(&sb, "*Uptime:* %s\n", time.Since(b.started).Round(time.Second))
	fmt.Fprintf(&sb, "*Version:* %s", version.Version)
	return sb.String(), nil
}

func (b *Bot) handleClear(ctx context.Context, cmd *Command, msg Message) (string, error) {
	b.cfg.History.Clear(ctx, msg.UserID)
	return "🧹 Conversation cleared. Your long-term memory is untouched.", nil
}

func (b *Bot) handleRemember(ctx context.Context, cmd *Command, msg Message) (string, error) {
	key, value, ok := cmd.KeyValue()
	if !ok {
		return "Usage: /remember key = value [--prefs]", nil
	}
	file := memory.FileAbout
	if cmd.HasFlag("prefs") || cmd.HasFlag("preferences") {
		file = memory.FilePreferences
	}
	if err := b.cfg.Memory.Remember(ctx, msg.UserID, key, value, file); err != nil {
		if errors.Is(err, memory.ErrInvalidKey) {
			return "❌ That key can't be stored. Use a short name without line breaks.", nil
		}
		return "", fmt.Errorf("remember: %w", err)
	}
	return fmt.Sprintf("✅ Remembered *%s*: %s", key, value), nil
}

func (b *Bot) handleRecall(ctx context.Context, cmd *Command, msg Message) (string, error) {
	key := cmd.Rest
	if key == "" {
		return "Usage: /recall key", nil
	}
	rec := b.cfg.Memory.Recall(ctx, msg.UserID, key, "")
	if !rec.Found {
		return fmt.Sprintf("🤷 I don't have anything stored for *%s*.", key), nil
	}
	return fmt.Sprintf("*%s*: %s (%s)", rec.Key, rec.Value, rec.File), nil
}

func (b *Bot) handleForget(ctx context.Context, cmd *Command, msg Message) (string, error) {
	key := cmd.Rest
	if key == "" {
		return "Usage: /forget key", nil
	}
	res, err := b.cfg.Memory.Forget(ctx, msg.UserID, key, "")
	if err != nil {
		if errors.Is(err, memory.ErrInvalidKey) {
			return "Usage: /forget key", nil
		}
		return "", fmt.Errorf("forget: %w", err)
	}
	if !res.Removed {
		return fmt.Sprintf("ℹ️ Nothing was stored under *%s*.", key), nil
	}
	return fmt.Sprintf("🗑️ Forgot *%s*.", res.Key), nil
}

func (b *Bot) handleNote(ctx context.Context, cmd *Command, msg Message) (string, error) {
	topic, content, ok := cmd.KeyValue()
	if !ok {
		if cmd.Rest == "" {
			return "Usage: /note topic = content", nil
		}
		note, err := b.cfg.Memory.GetNote(ctx, msg.UserID, cmd.Rest)
		if err != nil {
			if errors.Is(err, memory.ErrNoteNotFound) || errors.Is(err, memory.ErrInvalidTopic) {
				return fmt.Sprintf("🤷 No note called *%s*.", cmd.Rest), nil
			}
			return "", fmt.Errorf("get note: %w", err)
		}
		return fmt.Sprintf("📝 *%s*\n\n%s", note.Title, note.Content), nil
	}
	note, err := b.cfg.Memory.AddNote(ctx, msg.UserID, topic, content)
	if err != nil {
		if errors.Is(err, memory.ErrInvalidTopic) {
			return "❌ That topic can't be used as a note name.", nil
		}
		return "", fmt.Errorf("add note: %w", err)
	}
	return fmt.Sprintf("📝 Saved note *%s*.", note.Title), nil
}

func (b *Bot) handleNotes(ctx context.Context, cmd *Command, msg Message) (string, error) {
	notes := b.cfg.Memory.ListNotes(ctx, msg.UserID)
	if len(notes) == 0 {
		return "You have no notes yet. Add one with /note topic = content.", nil
	}
	var sb strings.Builder
	sb.WriteString("*Your notes*\n")
	for _, n := range notes {
		fmt.Fprintf(&sb, "• %s (%s)\n", n.Title, n.ModTime.Format("2006-01-02"))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bot) handleJournal(ctx context.Context, cmd *Command, msg Message) (string, error) {
	if cmd.Rest == "" {
		return b.showJournal(ctx, msg.UserID, time.Time{}), nil
	}
	if day, err := memory.ParseDay(cmd.Rest); err == nil {
		return b.showJournal(ctx, msg.UserID, day), nil
	}
	if err := b.cfg.Memory.AddJournalEntry(ctx, msg.UserID, cmd.Rest, time.Time{}); err != nil {
		return "", fmt.Errorf("journal: %w", err)
	}
	return "📔 Added to today's journal.", nil
}

func (b *Bot) showJournal(ctx context.Context, userID string, day time.Time) string {
	entry := b.cfg.Memory.GetJournalEntry(ctx, userID, day)
	if entry == "" {
		return "📔 Nothing in the journal for that day yet."
	}
	return entry
}

func (b *Bot) handleSearch(ctx context.Context, cmd *Command, msg Message) (string, error) {
	if b.cfg.Search == nil {
		return "🔍 Search is not enabled on this server.", nil
	}
	if cmd.Rest == "" {
		return "Usage: /search query", nil
	}
	limit := search.DefaultLimit
	if n, err := strconv.Atoi(cmd.GetFlag("limit", "")); err == nil && n > 0 && n <= maxSearchLimit {
		limit = n
	}
	hits, err := b.cfg.Search.Search(ctx, msg.UserID, cmd.Rest, limit)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		return "🔍 No matching notes.", nil
	}
	var sb strings.Builder
	sb.WriteString("*Matching notes*\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "• *%s*: %s\n", h.Title, h.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bot) handleMemory(ctx context.Context, cmd *Command, msg Message) (string, error) {
	mem := b.cfg.Memory.LoadLongTermMemory(ctx, msg.UserID)
	if strings.TrimSpace(mem) == "" {
		return "I don't know anything about you yet. Tell me, or use /remember.", nil
	}
	return mem, nil
}
