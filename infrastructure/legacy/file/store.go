// ABOUTME: JSON-file implementation of the legacy flat key/value store
// ABOUTME: Loads lazily and rewrites the file atomically on every change

package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"digests-reader/core/interfaces"
)

var _ interfaces.LegacyStore = (*Store)(nil)

// Store keeps string entries in a single JSON object on disk
type Store struct {
	path string

	mu     sync.Mutex
	data   map[string]string
	loaded bool
}

// NewStore returns a store backed by path. A missing file is an empty store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() error {
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.data = make(map[string]string)
	case err != nil:
		return fmt.Errorf("failed to read legacy store: %w", err)
	default:
		data := make(map[string]string)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("failed to parse legacy store %s: %w", s.path, err)
			}
		}
		s.data = data
	}
	s.loaded = true
	return nil
}

// save writes to a temp file in the same directory and renames it over the
// store so readers never see a partial file
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".legacy-*.json")
	if err != nil {
		return fmt.Errorf("failed to write legacy store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write legacy store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Keys returns every key, sorted
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the value under key
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", false, err
	}

	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key and persists the file
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	prev, existed := s.data[key]
	s.data[key] = value
	if err := s.save(); err != nil {
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete removes key and persists the file
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	prev, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	if err := s.save(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Len returns the number of entries
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	return len(s.data), nil
}
