package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Legacy artifacts recognised by the migration.
const (
	legacyMarkdownFile = "MEMORY.md"
	legacyJSONFile     = "memory.json"
	migratedSuffix     = ".migrated"

	// Free-form lines in the About and Preferences sections are kept as
	// notes under these topics.
	legacyAboutTopic       = "About"
	legacyPreferencesTopic = "Preferences"
)

// MigrationStatus is the outcome class of MigrateIfNeeded.
type MigrationStatus int

const (
	MigrationSkipped MigrationStatus = iota
	MigrationMigrated
	MigrationFailed
)

func (s MigrationStatus) String() string {
	switch s {
	case MigrationMigrated:
		return "migrated"
	case MigrationFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// MigrationResult reports what MigrateIfNeeded did. Reason is set for
// Skipped and Failed outcomes, and for a Migrated outcome whose legacy files
// could not be renamed.
type MigrationResult struct {
	Status  MigrationStatus
	Reason  string
	Sources []string
	Fields  int
	Notes   int
}

// preferenceKeys are the flat JSON keys that belong in preferences.
var preferenceKeys = map[string]bool{
	"language": true,
	"tone":     true,
	"style":    true,
	"timezone": true,
	"format":   true,
}

var legacyKVRe = regexp.MustCompile(`^(?:[-*]\s+)?(?:\*\*(.+?)\*\*|([^:*]+?))\s*:\s*(.*?)\s*$`)

// legacyData is the parsed content of all legacy artifacts for one user.
type legacyData struct {
	about       []Field
	preferences []Field
	notes       map[string]string // heading → body
	noteOrder   []string
}

func (d *legacyData) addNote(topic, body string) {
	if d.notes == nil {
		d.notes = make(map[string]string)
	}
	if _, ok := d.notes[topic]; !ok {
		d.noteOrder = append(d.noteOrder, topic)
	}
	d.notes[topic] = strings.TrimSpace(d.notes[topic] + "\n" + body)
}

// MigrateIfNeeded converts legacy memory for userID into the current layout.
// It is a no-op once about.md exists. On failure legacy files are left where
// they are.
func (s *Store) MigrateIfNeeded(ctx context.Context, userID string) MigrationResult {
	id := SanitizeUserID(userID)
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	res := s.migrate(filepath.Join(s.root, id))
	st.migrated = true
	s.logMigration(ctx, userID, res)
	return res
}

func (s *Store) migrate(dir string) MigrationResult {
	if _, err := os.Stat(filepath.Join(dir, FileAbout.filename())); err == nil {
		return MigrationResult{Status: MigrationSkipped, Reason: "current layout present"}
	}

	var sources []string
	for _, name := range []string{legacyMarkdownFile, legacyJSONFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			sources = append(sources, name)
		}
	}
	if len(sources) == 0 {
		return MigrationResult{Status: MigrationSkipped, Reason: "no legacy memory"}
	}

	fail := func(err error) MigrationResult {
		return MigrationResult{Status: MigrationFailed, Reason: err.Error(), Sources: sources}
	}

	var data legacyData
	for _, name := range sources {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fail(fmt.Errorf("read %s: %w", name, err))
		}
		switch name {
		case legacyMarkdownFile:
			parseLegacyMarkdown(string(raw), &data)
		case legacyJSONFile:
			if err := parseLegacyJSON(raw, &data); err != nil {
				return fail(fmt.Errorf("parse %s: %w", name, err))
			}
		}
	}

	now := s.now()
	notes := 0
	for _, topic := range data.noteOrder {
		slug := Slugify(topic)
		if slug == "" {
			continue
		}
		if _, err := s.writeNote(dir, slug, topic, data.notes[topic]); err != nil {
			return fail(err)
		}
		notes++
	}

	// about.md is written last: it gates the migration, so an interrupted
	// run is retried on the next start.
	prefs := renderRecord(FilePreferences, mergeFields(defaultFields(FilePreferences), data.preferences), now)
	if err := writeFileAtomic(filepath.Join(dir, FilePreferences.filename()), []byte(prefs)); err != nil {
		return fail(err)
	}
	about := renderRecord(FileAbout, mergeFields(defaultFields(FileAbout), data.about), now)
	if err := writeFileAtomic(filepath.Join(dir, FileAbout.filename()), []byte(about)); err != nil {
		return fail(err)
	}

	res := MigrationResult{
		Status:  MigrationMigrated,
		Sources: sources,
		Fields:  len(data.about) + len(data.preferences),
		Notes:   notes,
	}
	if err := renameLegacy(dir, sources); err != nil {
		res.Reason = "legacy files kept in place: " + err.Error()
	}
	return res
}

// renameLegacy marks every source as migrated. When one rename fails the
// earlier ones are undone so the legacy files stay together under their
// original names.
func renameLegacy(dir string, sources []string) error {
	for i, name := range sources {
		src := filepath.Join(dir, name)
		if err := os.Rename(src, src+migratedSuffix); err != nil {
			for _, done := range sources[:i] {
				back := filepath.Join(dir, done)
				_ = os.Rename(back+migratedSuffix, back)
			}
			return fmt.Errorf("rename %s: %w", name, err)
		}
	}
	return nil
}

// parseLegacyMarkdown reads the single-file format: "## About" or
// "## Identity" sections feed about, "## Preferences" feeds preferences and
// any other "##" section becomes a note. Lines before the first section are
// treated as about.
func parseLegacyMarkdown(content string, data *legacyData) {
	section := "about"
	var noteTopic string
	var noteBody []string

	flush := func() {
		if noteTopic != "" {
			data.addNote(noteTopic, strings.Join(noteBody, "\n"))
		}
		noteTopic, noteBody = "", nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			heading := strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			switch lower := strings.ToLower(heading); {
			case strings.Contains(lower, "about"), strings.Contains(lower, "identity"):
				section = "about"
			case strings.Contains(lower, "preference"):
				section = "preferences"
			default:
				section = "note"
				noteTopic = heading
			}
			continue
		}
		if section == "note" {
			noteBody = append(noteBody, line)
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || lastUpdatedRe.MatchString(trimmed) {
			continue
		}
		loose := legacyAboutTopic
		if section == "preferences" {
			loose = legacyPreferencesTopic
		}
		m := legacyKVRe.FindStringSubmatch(trimmed)
		if m == nil {
			data.addNote(loose, trimmed)
			continue
		}
		key := m[1]
		if key == "" {
			key = m[2]
		}
		f := Field{Key: canonicalKey(key), Value: singleLine(m[3])}
		if f.Key == "" {
			data.addNote(loose, trimmed)
			continue
		}
		if section == "preferences" {
			data.preferences = append(data.preferences, f)
		} else {
			data.about = append(data.about, f)
		}
	}
	flush()
}

// parseLegacyJSON reads the flat key/value format. Non-string values are
// stored in their JSON encoding.
func parseLegacyJSON(raw []byte, data *legacyData) error {
	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return err
	}
	if flat == nil {
		return errors.New("not a JSON object")
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var value string
		switch v := flat[k].(type) {
		case nil:
			continue
		case string:
			value = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			value = string(b)
		}
		f := Field{Key: canonicalKey(k), Value: singleLine(value)}
		if f.Key == "" {
			continue
		}
		if preferenceKeys[strings.ToLower(strings.TrimSpace(k))] {
			data.preferences = append(data.preferences, f)
		} else {
			data.about = append(data.about, f)
		}
	}
	return nil
}

// canonicalKey trims key, converts snake_case to spaces and upper-cases the
// first letter so legacy "name" lines land on the default "Name" field.
func canonicalKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
	key = strings.Join(strings.Fields(key), " ")
	if key == "" || strings.ContainsAny(key, "*") {
		return ""
	}
	r, size := utf8.DecodeRuneInString(key)
	return string(unicode.ToUpper(r)) + key[size:]
}

// mergeFields overlays parsed fields on defaults, keeping default order and
// appending new keys. Later duplicates win.
func mergeFields(defaults, parsed []Field) []Field {
	out := append([]Field(nil), defaults...)
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Key] = i
	}
	for _, f := range parsed {
		if i, ok := index[f.Key]; ok {
			out[i].Value = f.Value
			continue
		}
		index[f.Key] = len(out)
		out = append(out, f)
	}
	return out
}
