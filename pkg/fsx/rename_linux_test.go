//go:build linux

package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRenameNoReplace_RefusesEmptyDirectory(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "__temp_1")
	dst := filepath.Join(tmp, "1")
	if err := os.MkdirAll(filepath.Join(src, "loop"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(dst, 0o755); err != nil {
		t.Fatal(err)
	}

	done, err := renameNoReplace(src, dst)
	if !done {
		t.Skip("filesystem does not support RENAME_NOREPLACE")
	}
	if !errors.Is(err, ErrTargetExists) {
		t.Fatalf("expected ErrTargetExists, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(src, "loop")); err != nil {
		t.Fatalf("source should be untouched: %v", err)
	}
}

func TestRenameNoReplace_MovesTree(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "__temp_1")
	dst := filepath.Join(tmp, "1")
	if err := os.MkdirAll(filepath.Join(src, "loop"), 0o755); err != nil {
		t.Fatal(err)
	}

	done, err := renameNoReplace(src, dst)
	if !done {
		t.Skip("filesystem does not support RENAME_NOREPLACE")
	}
	if err != nil {
		t.Fatalf("renameNoReplace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "loop")); err != nil {
		t.Fatalf("renamed tree missing: %v", err)
	}
}
