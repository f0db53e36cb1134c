// Package memory implements Hoshi's durable long-term memory: per-user
// markdown records for identity facts and preferences, free-form notes and
// a daily journal, all kept under one storage root so they stay readable and
// editable by hand.
//
// Layout:
//
//	<root>/<user>/about.md
//	<root>/<user>/preferences.md
//	<root>/<user>/notes/<slug>.md
//	<root>/<user>/journal/<YYYY-MM-DD>.md
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
)

// File names one of the structured key/value records.
type File string

const (
	FileAbout       File = "about"
	FilePreferences File = "preferences"
)

// ParseFile maps user input to a File. The empty string yields "" (search
// both records); "prefs" is accepted as shorthand.
func ParseFile(s string) (File, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "about":
		return FileAbout, nil
	case "preferences", "prefs", "preference":
		return FilePreferences, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFile, s)
}

func (f File) filename() string { return string(f) + ".md" }

func (f File) title() string {
	if f == FilePreferences {
		return "Preferences"
	}
	return "About"
}

var (
	ErrInvalidKey   = errors.New("memory: invalid key")
	ErrInvalidFile  = errors.New("memory: unknown record")
	ErrInvalidTopic = errors.New("memory: invalid note topic")
	ErrNoteNotFound = errors.New("memory: note not found")
)

const (
	notesDir   = "notes"
	journalDir = "journal"

	// idHashBytes is the hash length appended to rewritten user IDs.
	idHashBytes = 6

	dirPerm  = 0o700
	filePerm = 0o600
)

// Options configures optional collaborators of a Store.
type Options struct {
	// Indexer is notified about note writes and deletions. May be nil.
	Indexer NoteIndexer
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Store is the filesystem-backed long-term memory. It is safe for
// concurrent use; operations on one user are serialised.
type Store struct {
	root    string
	now     func() time.Time
	indexer NoteIndexer

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu          sync.Mutex
	migrated    bool
	initialized bool
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string, opts Options) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("memory: storage root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("memory: create root %s: %w", root, err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		root:    root,
		now:     opts.Now,
		indexer: opts.Indexer,
		users:   make(map[string]*userState),
	}, nil
}

// Root returns the storage root.
func (s *Store) Root() string {
	return s.root
}

// UserDir returns the directory holding userID's records.
func (s *Store) UserDir(userID string) string {
	return filepath.Join(s.root, SanitizeUserID(userID))
}

func (s *Store) state(id string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[id]
	if !ok {
		st = &userState{}
		s.users[id] = st
	}
	return st
}

// acquire locks userID, runs the one-time migration and creates default
// records on first touch. The returned release func must be called.
func (s *Store) acquire(ctx context.Context, userID string) (string, func(), error) {
	id := SanitizeUserID(userID)
	dir := filepath.Join(s.root, id)
	st := s.state(id)
	st.mu.Lock()

	if !st.migrated {
		s.logMigration(ctx, userID, s.migrate(dir))
		st.migrated = true
	}
	if !st.initialized {
		if err := s.ensureLayout(dir); err != nil {
			st.mu.Unlock()
			return "", nil, err
		}
		st.initialized = true
	}
	return dir, st.mu.Unlock, nil
}

// ensureLayout creates the default about and preferences records and the
// notes and journal directories when missing.
func (s *Store) ensureLayout(dir string) error {
	for _, sub := range []string{notesDir, journalDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), dirPerm); err != nil {
			return fmt.Errorf("memory: create %s: %w", sub, err)
		}
	}
	for _, f := range []File{FileAbout, FilePreferences} {
		path := filepath.Join(dir, f.filename())
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("memory: stat %s: %w", f.filename(), err)
		}
		content := renderRecord(f, defaultFields(f), s.now())
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) logMigration(ctx context.Context, userID string, res MigrationResult) {
	logger := observability.WithTrace(ctx)
	switch res.Status {
	case MigrationMigrated:
		logger.Info("legacy memory migrated", "user", userID, "sources", res.Sources, "fields", res.Fields, "notes", res.Notes)
		if res.Reason != "" {
			logger.Warn("legacy memory files not renamed", "user", userID, "reason", res.Reason)
		}
	case MigrationFailed:
		logger.Warn("legacy memory migration failed", "user", userID, "sources", res.Sources, "reason", res.Reason)
	}
}

// SanitizeUserID maps a transport identity to a safe directory name. IDs
// made only of [A-Za-z0-9_-] are used as is. Any other ID keeps a readable
// prefix and gets a "." plus a hash of the raw ID, so distinct identities
// never share a directory.
func SanitizeUserID(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(userID))
	lastUnderscore := false
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '-' || r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == userID {
		return out
	}
	if out == "" {
		out = "user"
	}
	sum := sha256.Sum256([]byte(userID))
	return out + "." + hex.EncodeToString(sum[:idHashBytes])
}

// writeFileAtomic writes content through a temp file and rename so readers
// never observe a partial record.
func writeFileAtomic(path string, content []byte) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return fmt.Errorf("memory: create dir %s: %w", parent, err)
	}

	tmp, err := os.CreateTemp(parent, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("memory: create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("memory: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("memory: sync %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("memory: chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("memory: rename %s: %w", path, err)
	}
	return nil
}

// readFile returns the file content, or "" when it does not exist.
func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memory: read %s: %w", path, err)
	}
	return string(data), nil
}
