// Package storage provides the atomic, durable file-system primitives
// every higher-level component (WAL, checkpoints) builds on: atomic
// writes via temp-file-then-rename, directory creation, existence
// checks, and safe JSON encode/decode helpers.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	docerrors "github.com/kartikbazzad/docstore/internal/errors"
)

// EnsureDir creates dir (and all parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return nil
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AtomicWriteFile writes data to path by first writing to a sibling
// temp file in the same directory, syncing it, then renaming it over
// path. A rename within the same directory is atomic on every platform
// this engine targets, so readers never observe a partially-written
// file.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return docerrors.ErrFileWrite
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return docerrors.ErrFileOpen
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return docerrors.ErrFileWrite
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return docerrors.ErrFileSync
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return docerrors.ErrFileWrite
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return docerrors.ErrFileWrite
	}
	return nil
}

// WriteJSON atomically writes v as JSON to path.
func WriteJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return docerrors.ErrFileRead
	}
	return json.Unmarshal(data, v)
}

// ListDir returns the base names of entries in dir matching no
// particular filter (the caller globs/filters as needed); missing dir
// yields an empty slice, not an error.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
