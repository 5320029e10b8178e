package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDirName   = "remote-projects"
	defaultServersFilename = "servers.yaml"

	// ServersPathEnv overrides the servers file location.
	ServersPathEnv = "REMOTE_PROJECTS_SERVERS"
)

// DefaultConfigDir returns the directory path for this application's config.
// Precedence:
//  1. $XDG_CONFIG_HOME/remote-projects
//  2. ~/.config/remote-projects
func DefaultConfigDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, defaultConfigDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName), nil
}

// DefaultServersPath returns $REMOTE_PROJECTS_SERVERS or servers.yaml under DefaultConfigDir.
func DefaultServersPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(ServersPathEnv)); p != "" {
		return p, nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultServersFilename), nil
}

// Store persists a Registry to a YAML or TOML file and applies transforms atomically.
// Edits made to the file by other processes are picked up on the next Snapshot or Update.
type Store struct {
	path string

	mu      sync.Mutex
	reg     Registry
	modTime time.Time
	size    int64
	lastErr error
}

// OpenStore loads path (or the default path when empty). A missing file yields an empty registry.
func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = DefaultServersPath()
		if err != nil {
			return nil, err
		}
	}
	s := &Store{path: path}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the latest registry, reloading first if the file changed on disk.
// A file that fails to parse keeps the last good state; see Err.
func (s *Store) Snapshot() Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changedOnDiskLocked() {
		s.lastErr = s.loadLocked()
	}
	return s.reg.Clone()
}

// Err returns the error from the most recent background reload, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Update applies fn to a copy of the latest registry and writes the result. Updates are
// serialized; a transform that changes nothing does not touch the file.
func (s *Store) Update(fn func(*Registry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.changedOnDiskLocked() {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}

	next := s.reg.Clone()
	fn(&next)
	next.Normalize()
	if next.Equal(s.reg) {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.reg = next
	return nil
}

func (s *Store) changedOnDiskLocked() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		// Deleted since the last load.
		return errors.Is(err, os.ErrNotExist) && (!s.modTime.IsZero() || s.size != 0)
	}
	return !fi.ModTime().Equal(s.modTime) || fi.Size() != s.size
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.reg = Registry{}
			s.modTime, s.size = time.Time{}, 0
			return nil
		}
		return fmt.Errorf("read servers %s: %w", s.path, err)
	}

	reg, err := decodeRegistry(s.path, data)
	if err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validate servers %s: %w", s.path, err)
	}
	reg.Normalize()
	s.reg = reg
	s.recordStatLocked()
	return nil
}

// saveLocked writes atomically: temp file in the same directory, then rename.
func (s *Store) saveLocked(reg Registry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create servers dir %s: %w", dir, err)
	}
	payload, err := encodeRegistry(s.path, reg)
	if err != nil {
		return err
	}

	tmp := s.path + fmt.Sprintf(".tmp-%d-%d", os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write temp servers %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename to %s: %w", s.path, err)
	}
	s.recordStatLocked()
	return nil
}

func (s *Store) recordStatLocked() {
	if fi, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = fi.ModTime(), fi.Size()
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decodeRegistry(path string, data []byte) (Registry, error) {
	var reg Registry
	if len(bytes.TrimSpace(data)) == 0 {
		return reg, nil
	}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &reg); err != nil {
			return Registry{}, fmt.Errorf("parse servers toml %s: %w", path, err)
		}
		return reg, nil
	}
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parse servers yaml %s: %w", path, err)
	}
	return reg, nil
}

func encodeRegistry(path string, reg Registry) ([]byte, error) {
	if reg.Servers == nil {
		reg.Servers = []ServerRecord{}
	}
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(reg); err != nil {
			return nil, fmt.Errorf("encode servers toml: %w", err)
		}
		return buf.Bytes(), nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(reg); err != nil {
		return nil, fmt.Errorf("encode servers yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode servers yaml: %w", err)
	}
	return buf.Bytes(), nil
}
