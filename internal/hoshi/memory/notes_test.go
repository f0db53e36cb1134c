package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Shopping List":           "shopping-list",
		"  Recetas de Cocina!! ":  "recetas-de-cocina",
		"Año nuevo, vida nueva":   "ano-nuevo-vida-nueva",
		"C++ / Go tips":           "c-go-tips",
		"---":                     "",
		"already-a-slug":          "already-a-slug",
		strings.Repeat("a", 80):   strings.Repeat("a", 64),
		"Über café":               "uber-cafe",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNotes_AddGetOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddNote(ctx, "alice", "Shopping List", "milk\neggs"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	raw := readUserFile(t, s, "alice", "notes", "shopping-list.md")
	if !strings.HasPrefix(raw, "---\n") || !strings.Contains(raw, "title: Shopping List") {
		t.Errorf("note missing front matter:\n%s", raw)
	}

	note, err := s.GetNote(ctx, "alice", "shopping list")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if note.Content != "milk\neggs" {
		t.Errorf("Content = %q, want body without front matter", note.Content)
	}
	if note.Title != "Shopping List" || note.Slug != "shopping-list" {
		t.Errorf("note = %+v", note)
	}
	if !note.Updated.Equal(fixedNow.UTC()) {
		t.Errorf("Updated = %v, want %v", note.Updated, fixedNow.UTC())
	}

	if _, err := s.AddNote(ctx, "alice", "shopping-list", "bread"); err != nil {
		t.Fatalf("AddNote overwrite: %v", err)
	}
	note, _ = s.GetNote(ctx, "alice", "Shopping List")
	if note.Content != "bread" {
		t.Errorf("overwrite Content = %q, want bread", note.Content)
	}
}

func TestNotes_InvalidTopicAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddNote(ctx, "alice", "!!!", "x"); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("AddNote(!!!) = %v, want ErrInvalidTopic", err)
	}
	if _, err := s.GetNote(ctx, "alice", "nothing here"); !errors.Is(err, ErrNoteNotFound) {
		t.Errorf("GetNote(missing) = %v, want ErrNoteNotFound", err)
	}
}

func TestNotes_GetWithoutFrontMatter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.LoadLongTermMemory(ctx, "alice")

	path := filepath.Join(s.UserDir("alice"), "notes", "hand-written.md")
	if err := os.WriteFile(path, []byte("typed by hand\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	note, err := s.GetNote(ctx, "alice", "Hand written")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if note.Content != "typed by hand" || note.Title != "hand-written" {
		t.Errorf("note = %+v", note)
	}
}

func TestNotes_ListOrderedByModTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, topic := range []string{"Oldest", "Middle", "Newest"} {
		if _, err := s.AddNote(ctx, "alice", topic, "body"); err != nil {
			t.Fatalf("AddNote: %v", err)
		}
		mod := base.Add(time.Duration(i) * time.Minute)
		path := filepath.Join(s.UserDir("alice"), "notes", Slugify(topic)+".md")
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	notes := s.ListNotes(ctx, "alice")
	var titles []string
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	if got := strings.Join(titles, ","); got != "Newest,Middle,Oldest" {
		t.Errorf("ListNotes order = %s", got)
	}
}

func TestNotes_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.AddNote(ctx, "alice", "Temp", "x")

	ok, err := s.DeleteNote(ctx, "alice", "temp")
	if err != nil || !ok {
		t.Fatalf("DeleteNote = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.DeleteNote(ctx, "alice", "temp")
	if err != nil || ok {
		t.Errorf("DeleteNote (again) = %v, %v; want false, nil", ok, err)
	}
	if len(s.ListNotes(ctx, "alice")) != 0 {
		t.Error("note still listed after delete")
	}
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
	err     error
}

func (r *recordingIndexer) IndexNote(_ context.Context, userID string, note Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, userID+"/"+note.Slug)
	return r.err
}

func (r *recordingIndexer) DeleteNote(_ context.Context, userID, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, userID+"/"+slug)
	return r.err
}

func TestNotes_NotifyIndexer(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("qdrant down")}
	s, err := New(t.TempDir(), Options{Indexer: idx})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := s.AddNote(ctx, "alice", "Ideas", "x"); err != nil {
		t.Fatalf("AddNote must not fail on indexer error: %v", err)
	}
	if _, err := s.DeleteNote(ctx, "alice", "Ideas"); err != nil {
		t.Fatalf("DeleteNote must not fail on indexer error: %v", err)
	}
	if len(idx.indexed) != 1 || idx.indexed[0] != "alice/ideas" {
		t.Errorf("indexed = %v", idx.indexed)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "alice/ideas" {
		t.Errorf("deleted = %v", idx.deleted)
	}
}

func TestJournal_AppendsUnderTimeHeadings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := fixedNow
	s.now = func() time.Time { return clock }

	if err := s.AddJournalEntry(ctx, "alice", "went running", time.Time{}); err != nil {
		t.Fatalf("AddJournalEntry: %v", err)
	}
	clock = clock.Add(90 * time.Second)
	if err := s.AddJournalEntry(ctx, "alice", "ate pancakes", time.Time{}); err != nil {
		t.Fatalf("AddJournalEntry: %v", err)
	}

	got := s.GetJournalEntry(ctx, "alice", time.Time{})
	for _, want := range []string{"# Journal 2026-03-14", "## 09:26:53", "went running", "## 09:28:23", "ate pancakes"} {
		if !strings.Contains(got, want) {
			t.Errorf("journal missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "went running") > strings.Index(got, "ate pancakes") {
		t.Error("entries out of order")
	}
	if strings.Count(got, "# Journal") != 1 {
		t.Errorf("journal title repeated:\n%s", got)
	}
}

func TestJournal_ExplicitDateAndEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day, err := ParseDay("2025-12-31")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if err := s.AddJournalEntry(ctx, "alice", "new year's eve", day); err != nil {
		t.Fatalf("AddJournalEntry: %v", err)
	}
	if got := s.GetJournalEntry(ctx, "alice", day); !strings.Contains(got, "new year's eve") {
		t.Errorf("entry for explicit day missing: %q", got)
	}
	if got := s.GetJournalEntry(ctx, "alice", time.Time{}); got != "" {
		t.Errorf("today's journal = %q, want empty", got)
	}
	if err := s.AddJournalEntry(ctx, "alice", "   ", time.Time{}); err == nil {
		t.Error("expected error for empty entry")
	}
	if _, err := ParseDay("31/12/2025"); err == nil {
		t.Error("expected ParseDay error for bad format")
	}
}
