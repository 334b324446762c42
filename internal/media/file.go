// Package media gives access to the single video file served by the process.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotRegular is returned when the configured path is not a regular file.
var ErrNotRegular = errors.New("media path is not a regular file")

// File is a read-only handle factory for the configured video. Every reader
// opens its own descriptor, so concurrent requests never share a cursor.
type File struct {
	path string
}

// NewFile checks that path names a regular file and returns a handle factory for it.
func NewFile(path string) (*File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat media file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	return &File{path: path}, nil
}

// Path returns the configured file path.
func (f *File) Path() string {
	return f.path
}

// Stat returns the current size and modification time. The file is re-read
// each time so replacing it on disk takes effect for new requests.
func (f *File) Stat() (size int64, modTime time.Time, err error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("stat media file: %w", err)
	}
	return fi.Size(), fi.ModTime(), nil
}

// Open opens a fresh sequential reader positioned at byte 0.
func (f *File) Open() (io.ReadCloser, error) {
	return f.OpenFile()
}

// OpenFile opens a fresh *os.File for random access.
func (f *File) OpenFile() (*os.File, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("opening media file: %w", err)
	}
	return fh, nil
}
