package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// partialSuffix marks a file that is still being written
const partialSuffix = ".part"

// EnsureDir creates dir and any missing parents. Calling it on an existing
// directory is a no-op.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether a completed file or directory is present at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// PartialFile is a download destination that only appears under its final
// name once Commit succeeds. Until then data lives in a sibling ".part" file,
// so an interrupted transfer never satisfies Exists.
type PartialFile struct {
	*os.File
	dest string
}

// Create opens a fresh partial file for dest, truncating any stale leftover
// from an earlier interrupted run
func Create(dest string) (*PartialFile, error) {
	if err := EnsureDir(filepath.Dir(dest)); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(dest+partialSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &PartialFile{File: f, dest: dest}, nil
}

// Commit flushes and closes the partial file, then renames it into place
func (p *PartialFile) Commit() error {
	if err := p.File.Sync(); err != nil {
		p.Abort()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := p.File.Close(); err != nil {
		os.Remove(p.File.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(p.File.Name(), p.dest); err != nil {
		os.Remove(p.File.Name())
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Abort discards the partial file
func (p *PartialFile) Abort() {
	p.File.Close()
	os.Remove(p.File.Name())
}
