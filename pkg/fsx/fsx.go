// Package fsx holds the filesystem primitives the exporter relies on:
// idempotent directory creation, atomic file replacement and a rename that
// never clobbers an existing target.
package fsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrTargetExists is returned by Rename when dst is already present.
var ErrTargetExists = errors.New("target already exists")

// FilesystemError reports a failed create, write or rename.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// EnsureDir creates dir and any missing parents. It succeeds if dir already
// exists, including when another goroutine creates it concurrently.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// WriteFileAtomic writes data to dir/name through a temporary file in the same
// directory and renames it into place, replacing any previous file.
//
// If ctx is done before the rename the temporary file is removed and ctx.Err()
// is returned; the target is left untouched.
func WriteFileAtomic(ctx context.Context, dir, name string, data []byte) error {
	dst := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return &FilesystemError{Op: "create", Path: dst, Err: err}
	}
	tmpName := tmp.Name()
	renamed := false
	defer func() {
		_ = tmp.Close()
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return &FilesystemError{Op: "write", Path: dst, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return &FilesystemError{Op: "chmod", Path: dst, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &FilesystemError{Op: "sync", Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FilesystemError{Op: "close", Path: dst, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return &FilesystemError{Op: "rename", Path: dst, Err: err}
	}
	renamed = true
	return nil
}

// Rename moves src to dst. Unlike os.Rename it refuses to replace anything
// already at dst, including an empty directory.
//
// On Linux the check and the move are one renameat2(RENAME_NOREPLACE) call.
// Elsewhere, or where the filesystem does not support it, dst is checked
// first; an empty directory created at dst between the check and the rename
// is still replaced.
func Rename(src, dst string) error {
	if done, err := renameNoReplace(src, dst); done {
		if err != nil {
			return &FilesystemError{Op: "rename", Path: dst, Err: err}
		}
		return nil
	}

	if _, err := os.Lstat(dst); err == nil {
		return &FilesystemError{Op: "rename", Path: dst, Err: ErrTargetExists}
	} else if !os.IsNotExist(err) {
		return &FilesystemError{Op: "rename", Path: dst, Err: err}
	}

	if err := os.Rename(src, dst); err != nil {
		return &FilesystemError{Op: "rename", Path: dst, Err: err}
	}
	return nil
}

// RemoveIfEmpty removes dir when it has no entries. It reports whether dir was
// removed.
func RemoveIfEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return false
	}
	return os.Remove(dir) == nil
}
