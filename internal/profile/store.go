// Package profile implements the Profile Store (C2): durable per-user
// browser profile directories, each consumed by the browser as its
// user-data-dir, plus a metadata index of descriptions and timestamps.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/atomicfile"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// nameToken matches the filename-safe profile name grammar: names become
// directory components, so anything that could escape the base directory
// or collide across filesystems is rejected up front.
var nameToken = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Info describes one profile for list()/create() callers.
type Info struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type entry struct {
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store owns a base directory of profile subdirectories plus a
// profiles.json metadata index guarded by mu.
type Store struct {
	log     zerolog.Logger
	baseDir string
	mu      sync.Mutex
	index   map[string]entry
}

// Open loads (or initializes) the store rooted at baseDir, creating it if
// it doesn't already exist.
func Open(baseDir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles root: %w", err)
	}
	s := &Store{log: log, baseDir: baseDir, index: map[string]entry{}}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.baseDir, "profiles.json") }

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read profiles index: %w", err)
	}
	var idx map[string]entry
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse profiles index: %w", err)
	}
	s.index = idx
	return nil
}

// writeIndexLocked persists the in-memory index; caller holds s.mu.
func (s *Store) writeIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteJSON(s.indexPath(), data, 0o644)
}

// Create makes a new profile directory named name, rejecting collisions.
func (s *Store) Create(name, description string) (string, error) {
	if !nameToken.MatchString(name) {
		return "", rpcerr.New("store", rpcerr.CodeInternal, "invalid profile name: "+name, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[name]; exists {
		return "", rpcerr.ProfileExists(name)
	}
	dir := filepath.Join(s.baseDir, name)
	if _, err := os.Stat(dir); err == nil {
		return "", rpcerr.ProfileExists(name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create profile directory: %w", err)
	}

	s.index[name] = entry{Description: description, CreatedAt: time.Now()}
	if err := s.writeIndexLocked(); err != nil {
		os.RemoveAll(dir)
		delete(s.index, name)
		return "", err
	}
	return dir, nil
}

// List returns every known profile sorted by name.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.index))
	for name, e := range s.index {
		out = append(out, Info{
			Name:        name,
			Path:        filepath.Join(s.baseDir, name),
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// PathFor returns the directory for an existing profile.
func (s *Store) PathFor(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[name]; !ok {
		return "", rpcerr.ProfileNotFound(name)
	}
	return filepath.Join(s.baseDir, name), nil
}

// Copy clones the entire profile tree of src into a new profile dst.
func (s *Store) Copy(src, dst string) (string, error) {
	if !nameToken.MatchString(dst) {
		return "", rpcerr.New("store", rpcerr.CodeInternal, "invalid profile name: "+dst, nil)
	}

	s.mu.Lock()
	srcEntry, ok := s.index[src]
	if !ok {
		s.mu.Unlock()
		return "", rpcerr.ProfileNotFound(src)
	}
	if _, exists := s.index[dst]; exists {
		s.mu.Unlock()
		return "", rpcerr.ProfileExists(dst)
	}
	s.mu.Unlock()

	srcDir := filepath.Join(s.baseDir, src)
	dstDir := filepath.Join(s.baseDir, dst)
	if err := copyTree(srcDir, dstDir); err != nil {
		os.RemoveAll(dstDir)
		return "", fmt.Errorf("copy profile tree: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[dst] = entry{Description: srcEntry.Description, CreatedAt: time.Now()}
	if err := s.writeIndexLocked(); err != nil {
		os.RemoveAll(dstDir)
		delete(s.index, dst)
		return "", err
	}
	return dstDir, nil
}

// Delete recursively removes a profile's directory and index entry.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[name]; !ok {
		return rpcerr.ProfileNotFound(name)
	}
	dir := filepath.Join(s.baseDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove profile directory: %w", err)
	}
	delete(s.index, name)
	return s.writeIndexLocked()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, fi.Mode())
	})
}
