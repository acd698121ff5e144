// Package store persists agent trees and event streams to disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeanpaul/redel/internal/agent"
)

var ErrNotFound = errors.New("session not found")

// Session is one saved agent tree.
type Session struct {
	SavedAt time.Time        `json:"saved_at" yaml:"saved_at"`
	Agents  []agent.Snapshot `json:"agents" yaml:"agents"`
}

// FileStore keeps sessions as files under a directory. The file extension
// picks the encoding: .yaml and .yml are YAML, anything else is JSON.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid session name %q", name)
	}
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return filepath.Join(s.dir, name), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes snaps as the named session, replacing any previous one.
func (s *FileStore) Save(name string, snaps []agent.Snapshot) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	sess := Session{SavedAt: time.Now().UTC(), Agents: snaps}

	var data []byte
	if isYAML(path) {
		data, err = yaml.Marshal(sess)
	} else {
		data, err = json.MarshalIndent(sess, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode session %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the named session.
func (s *FileStore) Load(name string) (*Session, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, err
	}

	var sess Session
	if isYAML(path) {
		err = yaml.Unmarshal(data, &sess)
	} else {
		err = json.Unmarshal(data, &sess)
	}
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", name, err)
	}
	return &sess, nil
}

// List returns the saved session file names, sorted.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return err
	}
	return nil
}
