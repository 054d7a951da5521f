package encryptfs

import (
	"os"
	"path"
	"time"

	"github.com/absfs/absfs"

	"github.com/blockvault/encryptfs/internal/backingstore"
	"github.com/blockvault/encryptfs/internal/fserrors"
	"github.com/blockvault/encryptfs/internal/tree"
	"github.com/blockvault/encryptfs/internal/volume"
)

// FS implements absfs.FileSystem, composing a volume (config + keys) and a
// tree.Controller (path translation + block pipeline) to translate every
// plaintext operation into its encrypted on-disk form.
type FS struct {
	base backingstore.FileSystem
	vol  *volume.Volume
	tree *tree.Controller
	caps backingstore.Capabilities
}

// New opens base's volume config (creating one if none exists yet) and
// returns a ready-to-use FS. cfg.Password is required in both cases.
func New(base absfs.FileSystem, cfg *Config) (*FS, error) {
	if base == nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "New", "", ErrNilConfig)
	}
	if cfg == nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "New", "", ErrNilConfig)
	}

	var vol *volume.Volume
	if _, err := base.Stat(volume.ConfigFileName); err == nil {
		v, err := volume.Open(base, cfg.Password)
		if err != nil {
			return nil, err
		}
		vol = v
	} else {
		opts, err := cfg.toCreateOptions()
		if err != nil {
			return nil, err
		}
		v, err := volume.Create(base, opts)
		if err != nil {
			return nil, err
		}
		vol = v
	}

	ctrl, err := tree.NewController(base, vol, cfg.Logger, cfg.ForceDecode)
	if err != nil {
		vol.Close()
		return nil, err
	}

	return &FS{base: base, vol: vol, tree: ctrl, caps: backingstore.Probe(base)}, nil
}

// Close destroys the volume's in-memory key material. The backing store
// and its contents are untouched.
func (fs *FS) Close() error {
	fs.vol.Close()
	return nil
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return path.Join(dir, name)
}

func (fs *FS) Separator() uint8     { return fs.base.Separator() }
func (fs *FS) ListSeparator() uint8 { return fs.base.ListSeparator() }

func (fs *FS) Chdir(dir string) error {
	cipher, err := fs.tree.EncodePath(dir)
	if err != nil {
		return err
	}
	return fs.base.Chdir(cipher)
}

func (fs *FS) Getwd() (string, error) {
	cipher, err := fs.base.Getwd()
	if err != nil {
		return "", err
	}
	return fs.tree.DecodePath(cipher)
}

func (fs *FS) TempDir() string { return fs.base.TempDir() }

func (fs *FS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *FS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	node, err := fs.tree.Open(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return newFile(fs, node), nil
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error { return fs.tree.Mkdir(name, perm) }

func (fs *FS) MkdirAll(name string, perm os.FileMode) error {
	cipher, err := fs.tree.EncodePath(name)
	if err != nil {
		return err
	}
	return fs.base.MkdirAll(cipher, perm)
}

func (fs *FS) Remove(name string) error    { return fs.tree.Remove(name) }
func (fs *FS) RemoveAll(path string) error { return fs.tree.RemoveAll(path) }

func (fs *FS) Rename(oldpath, newpath string) error { return fs.tree.Rename(oldpath, newpath) }

func (fs *FS) Stat(name string) (os.FileInfo, error) { return fs.tree.Stat(name) }

// ReadDir lists dir's plaintext entries with their decrypted FileInfo,
// without opening a block pipeline for dir itself the way OpenFile would
// (a directory has no cipherfile header or blocks to open).
func (fs *FS) ReadDir(dir string) ([]os.FileInfo, error) {
	entries, err := fs.tree.Readdir(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Valid {
			continue
		}
		info, err := fs.Stat(join(dir, e.Name))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	if !fs.caps.Chmod {
		return fserrors.New(fserrors.Unsupported, "Chmod", name, nil)
	}
	cipher, err := fs.tree.EncodePath(name)
	if err != nil {
		return err
	}
	return fs.base.Chmod(cipher, mode)
}

func (fs *FS) Chtimes(name string, atime, mtime time.Time) error {
	if !fs.caps.Chtimes {
		return fserrors.New(fserrors.Unsupported, "Chtimes", name, nil)
	}
	cipher, err := fs.tree.EncodePath(name)
	if err != nil {
		return err
	}
	return fs.base.Chtimes(cipher, atime, mtime)
}

func (fs *FS) Chown(name string, uid, gid int) error {
	if !fs.caps.Chown {
		return fserrors.New(fserrors.Unsupported, "Chown", name, nil)
	}
	cipher, err := fs.tree.EncodePath(name)
	if err != nil {
		return err
	}
	return fs.base.Chown(cipher, uid, gid)
}

// Truncate sets name's plaintext size; node.Truncate accounts for the
// per-block MAC/rand overhead and per-file IV header on disk.
func (fs *FS) Truncate(name string, size int64) error {
	node, err := fs.tree.Open(name, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer fs.tree.Release(node)
	return node.Truncate(size)
}
