// Package localfs adapts a real OS directory to absfs.FileSystem, so
// cmd/encryptfs-tool has a backing store to mount onto without pulling in
// a separate osfs dependency.
package localfs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// FS roots every absfs path at a real directory on disk.
type FS struct {
	root string
	cwd  string
}

// New returns an FS rooted at root, creating it if it does not exist.
func New(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &FS{root: root}, nil
}

func (fs *FS) resolve(name string) string {
	return filepath.Join(fs.root, filepath.Clean("/"+name))
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	path := fs.resolve(name)
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, flag, perm)
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(fs.resolve(name), perm)
}

func (fs *FS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(fs.resolve(name), perm)
}

func (fs *FS) Remove(name string) error    { return os.Remove(fs.resolve(name)) }
func (fs *FS) RemoveAll(name string) error { return os.RemoveAll(fs.resolve(name)) }

func (fs *FS) Rename(oldpath, newpath string) error {
	return os.Rename(fs.resolve(oldpath), fs.resolve(newpath))
}

func (fs *FS) Stat(name string) (os.FileInfo, error) { return os.Stat(fs.resolve(name)) }

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(fs.resolve(name), mode)
}

func (fs *FS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(fs.resolve(name), atime, mtime)
}

func (fs *FS) Chown(name string, uid, gid int) error {
	return os.Chown(fs.resolve(name), uid, gid)
}

func (fs *FS) Separator() uint8     { return os.PathSeparator }
func (fs *FS) ListSeparator() uint8 { return os.PathListSeparator }

func (fs *FS) Chdir(dir string) error {
	fs.cwd = dir
	return nil
}

func (fs *FS) Getwd() (string, error) {
	if fs.cwd == "" {
		return "/", nil
	}
	return fs.cwd, nil
}

func (fs *FS) TempDir() string { return os.TempDir() }

func (fs *FS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *FS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Truncate(name string, size int64) error {
	return os.Truncate(fs.resolve(name), size)
}
