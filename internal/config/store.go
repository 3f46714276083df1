package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

const settingsFile = "settings.json"

// Store owns the settings.json file. Reads hand out snapshot copies;
// mutations go through Update, which persists before returning. The store is
// single-writer at the process level, no cross-process locking is attempted.
type Store struct {
	dir string

	mu       sync.RWMutex
	settings Settings
}

// NewStore creates a store rooted at dir. Call Init before first use.
func NewStore(dir string) *Store {
	return &Store{dir: dir, settings: DefaultSettings()}
}

// DefaultDir returns ~/.vibemate.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".vibemate"), nil
}

// Path returns the absolute settings file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsFile)
}

// Dir returns the store's base directory.
func (s *Store) Dir() string { return s.dir }

// Init creates the base directory and loads the settings file if present.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return s.Load()
}

// Load reads settings.json from disk, replacing the in-memory snapshot.
// A missing file resets to defaults.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.settings = DefaultSettings()
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}

	var loaded Settings
	if err = json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if loaded.App.Port == 0 {
		loaded.App.Port = DefaultPort
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Update applies fn to the settings under the write lock and persists the
// result. The mutation and the save are atomic from the caller's view.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.settings)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := s.Path() + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err = os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	log.Debugf("settings saved to %s", s.Path())
	return nil
}
