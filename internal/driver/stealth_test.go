package driver

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestPatchBinaryReplacesMarkerAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	original := []byte("before " + automationLiteral + " after")
	if err := os.WriteFile(bin, original, 0o755); err != nil {
		t.Fatalf("write fixture binary: %v", err)
	}

	patchedPath, err := PatchBinary(bin)
	if err != nil {
		t.Fatalf("PatchBinary: %v", err)
	}
	if patchedPath != bin+patchedSuffix {
		t.Fatalf("patched path = %q, want %q", patchedPath, bin+patchedSuffix)
	}

	data, err := os.ReadFile(patchedPath)
	if err != nil {
		t.Fatalf("read patched binary: %v", err)
	}
	clean, err := scanForLiteral(patchedPath)
	if err != nil {
		t.Fatalf("scanForLiteral: %v", err)
	}
	if !clean {
		t.Fatalf("patched binary still contains automation literal: %q", data)
	}
	if len(data) != len(original) {
		t.Fatalf("patched binary length = %d, want %d (same-length replacement)", len(data), len(original))
	}

	firstRun, err := os.ReadFile(patchedPath)
	if err != nil {
		t.Fatalf("read patched binary: %v", err)
	}

	// Calling patch() twice produces the same *_patched file; second call
	// a no-op.
	secondPath, err := PatchBinary(bin)
	if err != nil {
		t.Fatalf("PatchBinary (second call): %v", err)
	}
	if secondPath != patchedPath {
		t.Fatalf("second patched path = %q, want %q", secondPath, patchedPath)
	}
	secondRun, err := os.ReadFile(patchedPath)
	if err != nil {
		t.Fatalf("read patched binary after second call: %v", err)
	}
	if string(firstRun) != string(secondRun) {
		t.Fatal("second PatchBinary call modified an already-clean patched binary")
	}
}

func TestPatchBinaryNoMarkerPresent(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	if err := os.WriteFile(bin, []byte("no markers here"), 0o755); err != nil {
		t.Fatalf("write fixture binary: %v", err)
	}

	patchedPath, err := PatchBinary(bin)
	if err != nil {
		t.Fatalf("PatchBinary: %v", err)
	}
	clean, err := scanForLiteral(patchedPath)
	if err != nil {
		t.Fatalf("scanForLiteral: %v", err)
	}
	if !clean {
		t.Fatal("expected clean binary with no automation literal")
	}
}

func TestReSignBinaryNoopOffDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("codesign is exercised on darwin only")
	}
	if err := reSignBinary(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("reSignBinary should be a no-op off darwin, got: %v", err)
	}
}
