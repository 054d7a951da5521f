package encryptfs

import (
	"fmt"
	"io"
	"os"

	"github.com/blockvault/encryptfs/internal/tree"
)

// file implements absfs.File, delegating byte-range I/O to a tree.Node's
// block pipeline rather than holding the whole plaintext in memory.
type file struct {
	fs     *FS
	node   *tree.Node
	offset int64
	closed bool
}

func newFile(fs *FS, node *tree.Node) *file {
	return &file{fs: fs, node: node}
}

func (f *file) Name() string { return f.node.PlainPath() }

func (f *file) Read(p []byte) (int, error) {
	n, err := f.node.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.node.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *file) WriteString(s string) (int, error) { return f.Write([]byte(s)) }

func (f *file) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = f.offset + offset
	case io.SeekEnd:
		size, err := f.node.Size()
		if err != nil {
			return 0, err
		}
		newOffset = size + offset
	default:
		return 0, fmt.Errorf("encryptfs: invalid whence %d", whence)
	}
	if newOffset < 0 {
		return 0, fmt.Errorf("encryptfs: negative position")
	}
	f.offset = newOffset
	return f.offset, nil
}

func (f *file) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.fs.tree.Release(f.node)
}

func (f *file) Sync() error { return f.node.Sync() }

func (f *file) Stat() (os.FileInfo, error) { return f.fs.Stat(f.node.PlainPath()) }

func (f *file) Readdir(n int) ([]os.FileInfo, error) {
	infos, err := f.fs.ReadDir(f.node.PlainPath())
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(infos) {
		infos = infos[:n]
	}
	return infos, nil
}

func (f *file) Readdirnames(n int) ([]string, error) {
	entries, err := f.fs.tree.Readdir(f.node.PlainPath())
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Valid {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

func (f *file) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("encryptfs: negative offset")
	}
	n, err := f.node.ReadAt(b, off)
	if err == nil && n < len(b) {
		err = io.EOF
	}
	return n, err
}

func (f *file) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("encryptfs: negative offset")
	}
	return f.node.WriteAt(b, off)
}

func (f *file) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("encryptfs: negative size")
	}
	return f.node.Truncate(size)
}
