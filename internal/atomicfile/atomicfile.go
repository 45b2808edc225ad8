// Package atomicfile implements the write-temp-then-rename convention used
// by every metadata index and snapshot document this service persists
// (profiles.json, sessions.json, session.json). See SPEC_FULL.md §11: this
// is deliberately stdlib-only, since same-filesystem atomic rename is a
// POSIX/os package guarantee no third-party library in this module's stack
// wraps any more safely than os.Rename itself.
package atomicfile

import (
	"os"
	"path/filepath"
)

// WriteJSON writes data to path by creating a temp file in path's directory,
// writing and syncing it, then renaming it over path. On success the
// destination either has its old contents or data in full; a crash
// mid-write can never leave a truncated or partially-written file at path.
func WriteJSON(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
