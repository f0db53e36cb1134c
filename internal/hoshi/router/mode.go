package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Mode selects how a message is executed.
type Mode string

const (
	// ModeSimple sends one prompt to the simple executor.
	ModeSimple Mode = "simple"
	// ModeFlow sends a structured request with extended thinking.
	ModeFlow Mode = "flow"
)

// ErrInvalidMode is returned by ParseMode for unknown names.
var ErrInvalidMode = errors.New("router: invalid mode")

// ParseMode converts a user-supplied name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSimple:
		return ModeSimple, nil
	case ModeFlow:
		return ModeFlow, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) String() string { return string(m) }

// ModeStore keeps each user's selected mode for the life of the process.
// Users start in ModeSimple.
type ModeStore struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewModeStore returns an empty store.
func NewModeStore() *ModeStore {
	return &ModeStore{modes: make(map[string]Mode)}
}

// Get returns the user's mode.
func (s *ModeStore) Get(userID string) Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.modes[userID]; ok {
		return m
	}
	return ModeSimple
}

// Set records the user's mode. Setting ModeSimple forgets the entry.
func (s *ModeStore) Set(userID string, m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == ModeSimple {
		delete(s.modes, userID)
		return
	}
	s.modes[userID] = m
}

// Len returns the number of users not in the default mode.
func (s *ModeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modes)
}
