package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestCreateAndList(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Create("alice", "test user")
	require.NoError(t, err)
	assert.DirExists(t, path)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Name)
	assert.Equal(t, "test user", list[0].Description)
}

func TestCreateRejectsCollision(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("bob", "")
	require.NoError(t, err)

	_, err = s.Create("bob", "")
	assert.Error(t, err)
}

func TestCreateRejectsBadName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("../escape", "")
	assert.Error(t, err)
}

func TestPathForMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PathFor("nobody")
	assert.Error(t, err)
}

func TestCopyAndDelete(t *testing.T) {
	s := newTestStore(t)
	srcDir, err := s.Create("origin", "d")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "cookies.sqlite"), []byte("data"), 0o644))

	dstDir, err := s.Copy("origin", "clone")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dstDir, "cookies.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	require.NoError(t, s.Delete("origin"))
	_, err = s.PathFor("origin")
	assert.Error(t, err)
	assert.NoDirExists(t, srcDir)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.Create("persisted", "desc")
	require.NoError(t, err)

	s2, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	list := s2.List()
	require.Len(t, list, 1)
	assert.Equal(t, "persisted", list[0].Name)
}
