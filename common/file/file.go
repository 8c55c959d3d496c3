// Package file provides small filesystem helpers. No other package in this
// module imports it; the config loader and the FILE log sink call the os
// package directly.
package file

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultPermissionOctal is the mode Write creates files with and the mode
// Move and Writer create missing directories with. Writer creates its file
// with 0o640.
const DefaultPermissionOctal = 0o770

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// Write creates (or truncates) path and writes data to it in one call.
func Write(path string, data []byte) error {
	return os.WriteFile(path, data, DefaultPermissionOctal)
}

// Move relocates a file from source to destination, creating any missing
// destination directories first.
func Move(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), DefaultPermissionOctal); err != nil {
		return errors.Wrap(err, "file: creating destination directory")
	}
	if err := os.Rename(source, destination); err != nil {
		return errors.Wrap(err, "file: renaming")
	}
	return nil
}

// Writer opens (creating if needed, along with any parent directories) path
// for writing, truncating any existing content, and returns the *os.File
// for the caller to write to and close.
func Writer(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("file: empty path")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, DefaultPermissionOctal); err != nil {
			return nil, errors.Wrap(err, "file: creating parent directories")
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, errors.Wrap(err, "file: opening")
	}
	return f, nil
}
