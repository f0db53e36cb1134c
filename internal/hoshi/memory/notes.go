package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Hoshi/common/observability"
)

const maxSlugLen = 64

// Note is a free-form note addressed by its slug.
type Note struct {
	Slug    string
	Title   string
	Content string
	Updated time.Time
}

// NoteInfo describes a note without its body.
type NoteInfo struct {
	Slug    string
	Title   string
	ModTime time.Time
}

// noteMeta is the YAML front matter stored at the top of each note.
type noteMeta struct {
	Title   string    `yaml:"title"`
	Updated time.Time `yaml:"updated"`
}

var accentFold = strings.NewReplacer(
	"á", "a", "à", "a", "ä", "a", "â", "a",
	"é", "e", "è", "e", "ë", "e", "ê", "e",
	"í", "i", "ì", "i", "ï", "i", "î", "i",
	"ó", "o", "ò", "o", "ö", "o", "ô", "o",
	"ú", "u", "ù", "u", "ü", "u", "û", "u",
	"ñ", "n", "ç", "c",
)

// Slugify lowercases topic and collapses every run of non-alphanumeric
// characters to a single "-". Common Latin accents are folded first.
func Slugify(topic string) string {
	s := accentFold.Replace(strings.ToLower(strings.TrimSpace(topic)))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}

func noteSlug(topic string) (string, error) {
	slug := Slugify(topic)
	if slug == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return slug, nil
}

func renderNote(meta noteMeta, body string) (string, error) {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("memory: encode note front matter: %w", err)
	}
	return "---\n" + string(data) + "---\n" + strings.TrimRight(body, "\n") + "\n", nil
}

// parseNote splits YAML front matter from the body. Files without front
// matter are returned whole as the body.
func parseNote(contents string) (noteMeta, string) {
	sc := bufio.NewScanner(strings.NewReader(contents))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return noteMeta{}, contents
	}

	var yamlLines, bodyLines []string
	foundEnd := false
	for sc.Scan() {
		line := sc.Text()
		if !foundEnd {
			if strings.TrimSpace(line) == "---" {
				foundEnd = true
				continue
			}
			yamlLines = append(yamlLines, line)
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	if !foundEnd {
		return noteMeta{}, contents
	}

	var meta noteMeta
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &meta); err != nil {
		return noteMeta{}, strings.Join(bodyLines, "\n")
	}
	return meta, strings.Join(bodyLines, "\n")
}

// AddNote writes content as the note for topic, replacing any previous body.
func (s *Store) AddNote(ctx context.Context, userID, topic, content string) (Note, error) {
	slug, err := noteSlug(topic)
	if err != nil {
		return Note{}, err
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return Note{}, err
	}
	note, err := s.writeNote(dir, slug, strings.TrimSpace(topic), content)
	release()
	if err != nil {
		return Note{}, err
	}

	if s.indexer != nil {
		if err := s.indexer.IndexNote(ctx, userID, note); err != nil {
			observability.WithTrace(ctx).Warn("note index update failed", "user", userID, "slug", slug, "err", err)
		}
	}
	return note, nil
}

func (s *Store) writeNote(dir, slug, title, content string) (Note, error) {
	note := Note{
		Slug:    slug,
		Title:   title,
		Content: strings.TrimSpace(content),
		Updated: s.now().UTC().Truncate(time.Second),
	}
	data, err := renderNote(noteMeta{Title: note.Title, Updated: note.Updated}, note.Content)
	if err != nil {
		return Note{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, notesDir, slug+".md"), []byte(data)); err != nil {
		return Note{}, err
	}
	return note, nil
}

// GetNote returns the note for topic without its front matter.
func (s *Store) GetNote(ctx context.Context, userID, topic string) (Note, error) {
	slug, err := noteSlug(topic)
	if err != nil {
		return Note{}, err
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		observability.WithTrace(ctx).Warn("memory note unavailable", "user", userID, "err", err)
		return Note{}, ErrNoteNotFound
	}
	defer release()

	path := filepath.Join(dir, notesDir, slug+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observability.WithTrace(ctx).Warn("memory note unreadable", "user", userID, "slug", slug, "err", err)
		}
		return Note{}, ErrNoteNotFound
	}
	meta, body := parseNote(string(data))
	note := Note{Slug: slug, Title: meta.Title, Content: strings.TrimSpace(body), Updated: meta.Updated}
	if note.Title == "" {
		note.Title = slug
	}
	return note, nil
}

// ListNotes returns the user's notes, most recently modified first.
func (s *Store) ListNotes(ctx context.Context, userID string) []NoteInfo {
	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		observability.WithTrace(ctx).Warn("memory notes unavailable", "user", userID, "err", err)
		return nil
	}
	defer release()
	return listNotes(ctx, filepath.Join(dir, notesDir))
}

func listNotes(ctx context.Context, dir string) []NoteInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observability.WithTrace(ctx).Warn("memory notes dir unreadable", "dir", dir, "err", err)
		}
		return nil
	}

	var out []NoteInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		slug := strings.TrimSuffix(name, ".md")
		title := slug
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			if meta, _ := parseNote(string(data)); meta.Title != "" {
				title = meta.Title
			}
		}
		out = append(out, NoteInfo{Slug: slug, Title: title, ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// DeleteNote removes the note for topic. It reports whether a note existed.
func (s *Store) DeleteNote(ctx context.Context, userID, topic string) (bool, error) {
	slug, err := noteSlug(topic)
	if err != nil {
		return false, err
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return false, err
	}
	err = os.Remove(filepath.Join(dir, notesDir, slug+".md"))
	release()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memory: delete note %s: %w", slug, err)
	}

	if s.indexer != nil {
		if err := s.indexer.DeleteNote(ctx, userID, slug); err != nil {
			observability.WithTrace(ctx).Warn("note index delete failed", "user", userID, "slug", slug, "err", err)
		}
	}
	return true, nil
}
