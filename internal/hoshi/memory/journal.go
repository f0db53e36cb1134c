package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
)

const dayLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD date in the local time zone.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, strings.TrimSpace(s), time.Local)
}

func (s *Store) dayOrToday(day time.Time) time.Time {
	if day.IsZero() {
		return s.now()
	}
	return day
}

func journalPath(dir string, day time.Time) string {
	return filepath.Join(dir, journalDir, day.Format(dayLayout)+".md")
}

// AddJournalEntry appends content to the journal of day (today when zero)
// under a "## HH:MM:SS" heading. Earlier entries are never rewritten.
func (s *Store) AddJournalEntry(ctx context.Context, userID, content string, day time.Time) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("memory: empty journal entry")
	}
	day = s.dayOrToday(day)

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	path := journalPath(dir, day)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("memory: create journal dir: %w", err)
	}

	var b strings.Builder
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		b.WriteString("# Journal " + day.Format(dayLayout) + "\n")
	}
	b.WriteString("\n## " + s.now().Format("15:04:05") + "\n\n" + content + "\n")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("memory: open journal: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("memory: append journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("memory: close journal: %w", err)
	}
	observability.WithTrace(ctx).Debug("journal entry added", "user", userID, "day", day.Format(dayLayout))
	return nil
}

// GetJournalEntry returns the full journal of day (today when zero), or ""
// when nothing was written that day.
func (s *Store) GetJournalEntry(ctx context.Context, userID string, day time.Time) string {
	day = s.dayOrToday(day)

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		observability.WithTrace(ctx).Warn("memory journal unavailable", "user", userID, "err", err)
		return ""
	}
	defer release()

	content, err := readFile(journalPath(dir, day))
	if err != nil {
		observability.WithTrace(ctx).Warn("memory journal unreadable", "user", userID, "err", err)
		return ""
	}
	return strings.TrimSpace(content)
}
