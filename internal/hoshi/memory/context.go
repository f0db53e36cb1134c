package memory

import (
	"context"
	"path/filepath"
	"strings"
)

// RecentNotesLimit bounds the note titles included in the prompt context.
const RecentNotesLimit = 5

// Snapshot is everything stored for one user, as loaded in a single pass.
type Snapshot struct {
	About       []Field
	Preferences []Field
	Notes       []NoteInfo
	Journal     string
}

// Snapshot loads all records for userID. Unreadable parts are left empty.
func (s *Store) Snapshot(ctx context.Context, userID string) Snapshot {
	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return Snapshot{}
	}
	defer release()

	snap := Snapshot{
		About:       nonEmpty(s.readFields(ctx, dir, FileAbout)),
		Preferences: nonEmpty(s.readFields(ctx, dir, FilePreferences)),
		Notes:       listNotes(ctx, filepath.Join(dir, notesDir)),
	}
	if journal, err := readFile(journalPath(dir, s.now())); err == nil {
		snap.Journal = strings.TrimSpace(journal)
	}
	return snap
}

// LoadLongTermMemory renders the user's memory as a prompt block in fixed
// order: About, Preferences, Recent Notes (titles only) and Today's Journal.
// Empty sections are omitted; a user with nothing stored yields "".
func (s *Store) LoadLongTermMemory(ctx context.Context, userID string) string {
	return s.Snapshot(ctx, userID).Render(RecentNotesLimit)
}

// Render formats the snapshot, listing at most maxNotes note titles.
func (snap Snapshot) Render(maxNotes int) string {
	var sections []string

	if len(snap.About) > 0 {
		sections = append(sections, "## About\n"+renderFields(snap.About))
	}
	if len(snap.Preferences) > 0 {
		sections = append(sections, "## Preferences\n"+renderFields(snap.Preferences))
	}
	if len(snap.Notes) > 0 {
		notes := snap.Notes
		if maxNotes > 0 && len(notes) > maxNotes {
			notes = notes[:maxNotes]
		}
		var b strings.Builder
		b.WriteString("## Recent Notes\n")
		for _, n := range notes {
			b.WriteString("- " + n.Title + "\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}
	if snap.Journal != "" {
		sections = append(sections, "## Today's Journal\n"+stripJournalTitle(snap.Journal))
	}
	return strings.Join(sections, "\n\n")
}

func renderFields(fields []Field) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = fieldLine(f.Key, f.Value)
	}
	return strings.Join(lines, "\n")
}

func stripJournalTitle(journal string) string {
	if strings.HasPrefix(journal, "# ") {
		if i := strings.Index(journal, "\n"); i >= 0 {
			return strings.TrimSpace(journal[i+1:])
		}
		return ""
	}
	return journal
}
