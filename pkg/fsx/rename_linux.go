//go:build linux

package fsx

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace renames src to dst in one step, failing when dst exists.
// It reports false when the kernel or filesystem lacks RENAME_NOREPLACE.
func renameNoReplace(src, dst string) (bool, error) {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		return false, nil
	case errors.Is(err, unix.EEXIST):
		return true, ErrTargetExists
	default:
		return true, err
	}
}
