//go:build !linux

package fsx

func renameNoReplace(src, dst string) (bool, error) {
	return false, nil
}
