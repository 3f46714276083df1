package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vibemate/vibemate/internal/config"
)

// TokenStore persists normalized credentials keyed by agent type.
type TokenStore interface {
	Load(t config.AgentType) (Credential, error)
	Save(cred Credential) error
	Delete(t config.AgentType) error
	List() ([]Credential, error)
}

// FileTokenStore keeps one JSON file per account under an auth directory,
// named "<type>_<sanitized-email>.json".
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore returns a store rooted at dir, typically
// "<settings-dir>/auth".
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{dir: dir}
}

// Dir returns the directory credentials are stored in.
func (s *FileTokenStore) Dir() string { return s.dir }

func sanitizeEmail(email string) string {
	var b strings.Builder
	for _, r := range email {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *FileTokenStore) filesFor(t config.AgentType) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read auth dir: %w", err)
	}
	prefix := string(t) + "_"
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Load returns the stored credential for the given agent type, or
// ErrNotAuthenticated when none exists.
func (s *FileTokenStore) Load(t config.AgentType) (Credential, error) {
	paths, err := s.filesFor(t)
	if err != nil {
		return Credential{}, err
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warnf("skip unreadable credential file %s: %v", p, err)
			continue
		}
		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			log.Warnf("skip malformed credential file %s: %v", p, err)
			continue
		}
		if cred.Type == "" {
			cred.Type = t
		}
		return cred, nil
	}
	return Credential{}, fmt.Errorf("%w: %s", ErrNotAuthenticated, t)
}

// Save writes the credential atomically, replacing any previous file for the
// same agent type under a different email.
func (s *FileTokenStore) Save(cred Credential) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", cred.Type, sanitizeEmail(cred.Email)))
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if old, err := s.filesFor(cred.Type); err == nil {
		for _, p := range old {
			if p != path {
				_ = os.Remove(p)
			}
		}
	}
	return nil
}

// Delete removes every stored credential for the given agent type.
func (s *FileTokenStore) Delete(t config.AgentType) error {
	paths, err := s.filesFor(t)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove credential: %w", err)
		}
	}
	return nil
}

// List returns all stored credentials in agent-type order.
func (s *FileTokenStore) List() ([]Credential, error) {
	var creds []Credential
	for _, t := range config.AllAgentTypes() {
		cred, err := s.Load(t)
		if err != nil {
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}
