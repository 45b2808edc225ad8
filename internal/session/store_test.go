package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Profile:        "alice",
		URL:            "https://example.com/dashboard",
		Title:          "Dashboard",
		Cookies:        []Cookie{{Name: "k", Value: "v", Domain: "example.com"}},
		LocalStorage:   map[string]string{"theme": "dark"},
		SessionStorage: map[string]string{},
		WindowSize:     [2]int{1280, 800},
	}
}

func TestSaveAssignsIDAndLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Save(sampleSnapshot())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	snap, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "https://example.com/dashboard", snap.URL)
	assert.Equal(t, "dark", snap.LocalStorage["theme"])
	assert.Equal(t, [2]int{1280, 800}, snap.WindowSize)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("nonexistent")
	assert.Error(t, err)
}

func TestListSortedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Save(sampleSnapshot())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Save(sampleSnapshot())
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestDeleteRemovesIndexAndDirectory(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Save(sampleSnapshot())
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	_, err = s.Load(id)
	assert.Error(t, err)
	assert.Empty(t, s.List())
}

func TestDeleteMissingIsError(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Delete("nonexistent"))
}

func TestCleanupOlderThanRemovesStaleOnly(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.Save(sampleSnapshot())
	require.NoError(t, err)

	s.mu.Lock()
	e := s.index[stale]
	e.CreatedAt = time.Now().Add(-48 * time.Hour)
	s.index[stale] = e
	s.mu.Unlock()
	require.NoError(t, s.writeIndexLocked())

	fresh, err := s.Save(sampleSnapshot())
	require.NoError(t, err)

	removed := s.CleanupOlderThan(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err = s.Load(stale)
	assert.Error(t, err)
	_, err = s.Load(fresh)
	assert.NoError(t, err)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	id, err := s1.Save(sampleSnapshot())
	require.NoError(t, err)

	s2, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	snap, err := s2.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/dashboard", snap.URL)
}
