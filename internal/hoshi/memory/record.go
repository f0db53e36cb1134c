package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
)

// Field is one "- **Key**: value" line of a record.
type Field struct {
	Key   string
	Value string
}

// RecallResult is the outcome of a Recall lookup.
type RecallResult struct {
	Key   string
	Value string
	File  File
	Found bool
}

// ForgetResult is the outcome of a Forget call. Removed is false when no
// matching line existed; Message then explains that nothing changed.
type ForgetResult struct {
	Key     string
	File    File
	Removed bool
	Message string
}

const lastUpdatedLayout = "2006-01-02 15:04:05"

var (
	fieldLineRe   = regexp.MustCompile(`^- \*\*(.+?)\*\*:[ \t]*(.*?)\s*$`)
	lastUpdatedRe = regexp.MustCompile(`^_Last updated: .*_\s*$`)
)

func defaultFields(f File) []Field {
	if f == FilePreferences {
		return []Field{{Key: "Language"}, {Key: "Tone"}}
	}
	return []Field{{Key: "Name"}, {Key: "Location"}, {Key: "Work"}}
}

func fieldLine(key, value string) string {
	if value == "" {
		return "- **" + key + "**:"
	}
	return "- **" + key + "**: " + value
}

func lastUpdatedLine(t time.Time) string {
	return "_Last updated: " + t.Format(lastUpdatedLayout) + "_"
}

func renderRecord(f File, fields []Field, now time.Time) string {
	var b strings.Builder
	b.WriteString("# " + f.title() + "\n\n")
	for _, fl := range fields {
		b.WriteString(fieldLine(fl.Key, fl.Value) + "\n")
	}
	b.WriteString("\n" + lastUpdatedLine(now) + "\n")
	return b.String()
}

// parseFields returns every field line of a record in file order.
func parseFields(content string) []Field {
	var out []Field
	for _, line := range strings.Split(content, "\n") {
		if m := fieldLineRe.FindStringSubmatch(line); m != nil {
			out = append(out, Field{Key: m[1], Value: m[2]})
		}
	}
	return out
}

// upsertField replaces the first line whose key equals key exactly, or
// inserts a new line after the last field. The last-updated stamp is
// refreshed.
func upsertField(f File, content, key, value string, now time.Time) string {
	if strings.TrimSpace(content) == "" {
		content = renderRecord(f, nil, now)
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	replaced := false
	lastField := -1
	for i, line := range lines {
		m := fieldLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lastField = i
		if m[1] == key {
			lines[i] = fieldLine(key, value)
			replaced = true
			break
		}
	}
	if !replaced {
		insertAt := lastField + 1
		if lastField < 0 {
			insertAt = headingEnd(lines)
		}
		lines = append(lines[:insertAt], append([]string{fieldLine(key, value)}, lines[insertAt:]...)...)
	}
	return stamp(lines, now)
}

// removeField deletes the first line whose key equals key exactly.
func removeField(content, key string, now time.Time) (string, bool) {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i, line := range lines {
		if m := fieldLineRe.FindStringSubmatch(line); m != nil && m[1] == key {
			lines = append(lines[:i], lines[i+1:]...)
			return stamp(lines, now), true
		}
	}
	return content, false
}

// headingEnd returns the index after the title and its blank line.
func headingEnd(lines []string) int {
	if len(lines) > 0 && strings.HasPrefix(lines[0], "# ") {
		if len(lines) > 1 && strings.TrimSpace(lines[1]) == "" {
			return 2
		}
		return 1
	}
	return 0
}

func stamp(lines []string, now time.Time) string {
	for i, line := range lines {
		if lastUpdatedRe.MatchString(line) {
			lines[i] = lastUpdatedLine(now)
			return strings.Join(lines, "\n") + "\n"
		}
	}
	return strings.Join(lines, "\n") + "\n\n" + lastUpdatedLine(now) + "\n"
}

func validateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, "*\n\r") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}

func singleLine(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// Remember stores value under key in the given record (about when file is
// empty). Storing the same key again replaces the value.
func (s *Store) Remember(ctx context.Context, userID, key, value string, file File) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	if file == "" {
		file = FileAbout
	}
	if _, err := ParseFile(string(file)); err != nil {
		return err
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	path := filepath.Join(dir, file.filename())
	content, err := readFile(path)
	if err != nil {
		return err
	}
	updated := upsertField(file, content, key, singleLine(value), s.now())
	if err := writeFileAtomic(path, []byte(updated)); err != nil {
		return err
	}
	observability.WithTrace(ctx).Debug("memory field stored", "user", userID, "file", file, "key", key)
	return nil
}

// Recall looks key up in file, or in about then preferences when file is
// empty. Fields with an empty placeholder value count as not found.
func (s *Store) Recall(ctx context.Context, userID, key string, file File) RecallResult {
	key = strings.TrimSpace(key)
	res := RecallResult{Key: key}
	if key == "" {
		return res
	}

	files := []File{FileAbout, FilePreferences}
	if file != "" {
		files = []File{file}
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		observability.WithTrace(ctx).Warn("memory recall unavailable", "user", userID, "err", err)
		return res
	}
	defer release()

	for _, f := range files {
		for _, fl := range s.readFields(ctx, dir, f) {
			if fl.Key == key && fl.Value != "" {
				return RecallResult{Key: key, Value: fl.Value, File: f, Found: true}
			}
		}
	}
	return res
}

// Forget removes key from file, or from the first of about and preferences
// that holds it when file is empty.
func (s *Store) Forget(ctx context.Context, userID, key string, file File) (ForgetResult, error) {
	key, err := validateKey(key)
	if err != nil {
		return ForgetResult{}, err
	}
	files := []File{FileAbout, FilePreferences}
	if file != "" {
		files = []File{file}
	}

	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		return ForgetResult{}, err
	}
	defer release()

	for _, f := range files {
		path := filepath.Join(dir, f.filename())
		content, err := readFile(path)
		if err != nil {
			return ForgetResult{}, err
		}
		updated, ok := removeField(content, key, s.now())
		if !ok {
			continue
		}
		if err := writeFileAtomic(path, []byte(updated)); err != nil {
			return ForgetResult{}, err
		}
		return ForgetResult{Key: key, File: f, Removed: true, Message: fmt.Sprintf("forgot %s", key)}, nil
	}
	return ForgetResult{Key: key, File: file, Message: fmt.Sprintf("nothing stored under %q", key)}, nil
}

// Fields returns the non-empty fields of a record.
func (s *Store) Fields(ctx context.Context, userID string, file File) []Field {
	dir, release, err := s.acquire(ctx, userID)
	if err != nil {
		observability.WithTrace(ctx).Warn("memory fields unavailable", "user", userID, "err", err)
		return nil
	}
	defer release()
	return nonEmpty(s.readFields(ctx, dir, file))
}

func (s *Store) readFields(ctx context.Context, dir string, file File) []Field {
	content, err := readFile(filepath.Join(dir, file.filename()))
	if err != nil {
		observability.WithTrace(ctx).Warn("memory record unreadable", "file", file, "err", err)
		return nil
	}
	return parseFields(content)
}

func nonEmpty(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}
