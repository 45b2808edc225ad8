// Package session implements the Session Store (C3): atomic snapshots of
// a browser instance's cookies, storage, URL, title, and window geometry,
// durable until explicit delete, plus a metadata index for listing.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/atomicfile"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// Cookie is one snapshot cookie record, a JSON-friendly subset of the
// fields the driver's cookie calls round-trip.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Snapshot is the full persisted document for one saved session, per
// spec.md §3's Session Snapshot data model.
type Snapshot struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	Profile        string            `json:"profile,omitempty"`
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	WindowSize     [2]int            `json:"window_size"`
	UserAgent      string            `json:"user_agent,omitempty"`
}

// Info is the list()-shaped metadata view of one session.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Profile   string    `json:"profile,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
}

type indexEntry struct {
	CreatedAt time.Time `json:"created_at"`
	Profile   string    `json:"profile,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
}

// Store owns a base directory of per-session subdirectories plus a
// sessions.json metadata index guarded by mu.
type Store struct {
	log     zerolog.Logger
	baseDir string
	mu      sync.Mutex
	index   map[string]indexEntry
}

// Open loads (or initializes) the store rooted at baseDir.
func Open(baseDir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions root: %w", err)
	}
	s := &Store{log: log, baseDir: baseDir, index: map[string]indexEntry{}}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string        { return filepath.Join(s.baseDir, "sessions.json") }
func (s *Store) sessionDir(id string) string { return filepath.Join(s.baseDir, id) }
func (s *Store) docPath(id string) string  { return filepath.Join(s.sessionDir(id), "session.json") }

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sessions index: %w", err)
	}
	var idx map[string]indexEntry
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse sessions index: %w", err)
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

// Save assigns a fresh id to snap, writes its snapshot document, and
// updates the index: write-to-temp, rename, then rewrite index, matching
// spec.md §4.3's ordering so a crash between the two leaves an orphan
// directory rather than a dangling index entry. CleanupOlderThan visits
// indexed sessions only, so it does not remove such a directory.
func (s *Store) Save(snap Snapshot) (string, error) {
	snap.ID = uuid.NewString()
	snap.CreatedAt = time.Now()

	dir := s.sessionDir(snap.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := atomicfile.WriteJSON(s.docPath(snap.ID), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[snap.ID] = indexEntry{CreatedAt: snap.CreatedAt, Profile: snap.Profile, URL: snap.URL, Title: snap.Title}
	if err := s.writeIndexLocked(); err != nil {
		delete(s.index, snap.ID)
		os.RemoveAll(dir)
		return "", err
	}
	return snap.ID, nil
}

// Load returns the full snapshot document for id.
func (s *Store) Load(id string) (Snapshot, error) {
	s.mu.Lock()
	_, ok := s.index[id]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, rpcerr.SessionNotFound(id)
	}

	data, err := os.ReadFile(s.docPath(id))
	if err != nil {
		return Snapshot{}, rpcerr.SessionNotFound(id)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse session document: %w", err)
	}
	return snap, nil
}

// List returns every known session's metadata sorted by creation time
// descending (newest first).
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.index))
	for id, e := range s.index {
		out = append(out, Info{ID: id, CreatedAt: e.CreatedAt, Profile: e.Profile, URL: e.URL, Title: e.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a session's directory and index entry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return rpcerr.SessionNotFound(id)
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	delete(s.index, id)
	return s.writeIndexLocked()
}

// CleanupOlderThan deletes every session created before age ago, returning
// the count removed.
func (s *Store) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	var stale []string
	for id, e := range s.index {
		if e.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, id := range stale {
		if err := s.Delete(id); err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("session cleanup: delete failed")
			continue
		}
		removed++
	}
	return removed
}
