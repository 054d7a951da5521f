// Package rawfile is the bottom of the I/O stack: positional read/write/
// truncate/stat/sync over one backing-store file descriptor, with no
// knowledge of blocks, MACs, or encryption.
package rawfile

import (
	"fmt"
	"io"

	"github.com/blockvault/encryptfs/internal/backingstore"
)

// File wraps one open backing-store file handle and exposes exact
// positional semantics: ReadAt never extends the file, WriteAt past the
// end leaves a gap that the backing store fills in, and a short read only
// ever happens at EOF.
type File struct {
	f backingstore.File
}

// New wraps an already-opened backing-store file.
func New(f backingstore.File) *File {
	return &File{f: f}
}

// ReadAt reads len(buf) bytes starting at off, returning fewer only at EOF.
func (r *File) ReadAt(buf []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("rawfile: read at %d: %w", off, err)
	}
	return n, nil
}

// WriteAt writes all of buf at off or returns an error; a partial write
// from the backing store is treated as an error rather than silently
// truncated.
func (r *File) WriteAt(buf []byte, off int64) error {
	n, err := r.f.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("rawfile: write at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("rawfile: short write at %d: wrote %d of %d bytes", off, n, len(buf))
	}
	return nil
}

// Size returns the file's current size in bytes.
func (r *File) Size() (int64, error) {
	info, err := r.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("rawfile: stat: %w", err)
	}
	return info.Size(), nil
}

// Truncate sets the file's size, zero-extending or discarding bytes.
func (r *File) Truncate(size int64) error {
	if err := r.f.Truncate(size); err != nil {
		return fmt.Errorf("rawfile: truncate to %d: %w", size, err)
	}
	return nil
}

// Sync flushes the file's contents to the backing store.
func (r *File) Sync() error {
	if err := r.f.Sync(); err != nil {
		return fmt.Errorf("rawfile: sync: %w", err)
	}
	return nil
}

// Close releases the underlying descriptor.
func (r *File) Close() error {
	return r.f.Close()
}
