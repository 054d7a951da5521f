package tree

import (
	"os"
	"path"
	"sort"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/blockvault/encryptfs/internal/backingstore"
	"github.com/blockvault/encryptfs/internal/blockfile"
	"github.com/blockvault/encryptfs/internal/cipherfile"
	"github.com/blockvault/encryptfs/internal/fserrors"
	"github.com/blockvault/encryptfs/internal/macfile"
	"github.com/blockvault/encryptfs/internal/nametransform"
	"github.com/blockvault/encryptfs/internal/rawfile"
	"github.com/blockvault/encryptfs/internal/volume"
)

// Controller owns the open-node map and translates every plaintext path
// the root package sees into the cipher path and block-pipeline stack
// backing it. One Controller per mounted volume.
type Controller struct {
	base  backingstore.FileSystem
	vol   *volume.Volume
	codec *nametransform.Codec
	log   *zap.SugaredLogger

	forceDecode bool

	mu      sync.Mutex
	openMap map[string]weak.Pointer[Node]
}

// NewController builds a Controller over base, using vol's derived
// subkeys for the block pipeline and name codec. log may be nil, in which
// case a no-op logger is used. forceDecode, when true, makes every opened
// file tolerate a failed block MAC instead of returning an error -- a
// degraded-recovery mode, never the default.
func NewController(base backingstore.FileSystem, vol *volume.Volume, log *zap.SugaredLogger, forceDecode bool) (*Controller, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	codec, err := vol.NewNameCodec()
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "NewController", "", err)
	}

	return &Controller{
		base:        base,
		vol:         vol,
		codec:       codec,
		log:         log,
		forceDecode: forceDecode,
		openMap:     make(map[string]weak.Pointer[Node]),
	}, nil
}

// externalIVFor returns the name layer's chain IV for plainPath's parent
// directory -- the externalIV a file opened at plainPath must be keyed
// with, per cipherfile.Config.ExternalIV.
func (c *Controller) externalIVFor(plainPath string) (uint64, error) {
	return c.codec.ChainForPath(path.Dir(plainPath))
}

func (c *Controller) cipherfileConfig(externalIV uint64) cipherfile.Config {
	cfg := c.vol.Config
	return cipherfile.Config{
		BlockSize:  cfg.BlockSize,
		MACBytes:   cfg.MACBytes,
		RandBytes:  cfg.RandBytes,
		PerFileIV:  cfg.PerFileIV,
		ExternalIV: externalIV,
		AEADSuite:  cfg.CipherSuite,
		DataKey:    c.vol.Subkeys.Data,
		MACKey:     c.vol.Subkeys.MAC,
		MACBackend: cfg.MACBackend,
		Policy:     macfile.Policy{AllowHoles: true, ForceDecode: c.forceDecode},
	}
}

// lookup returns the live Node for plainPath if one exists, promoting the
// weak reference to a strong pointer and bumping its refcount.
func (c *Controller) lookup(plainPath string) *Node {
	wp, ok := c.openMap[plainPath]
	if !ok {
		return nil
	}
	n := wp.Value()
	if n == nil {
		delete(c.openMap, plainPath)
		return nil
	}
	n.mu.Lock()
	n.refs++
	n.mu.Unlock()
	return n
}

// Open translates plainPath, opens (or creates, per flag) the backing
// file, and returns a Node ready for ReadAt/WriteAt/Truncate. Concurrent
// opens of the same plaintext path share the same Node and block
// pipeline.
func (c *Controller) Open(plainPath string, flag int, perm os.FileMode) (*Node, error) {
	c.mu.Lock()
	if n := c.lookup(plainPath); n != nil {
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	cipherPath, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "Open", plainPath, err)
	}
	externalIV, err := c.externalIVFor(plainPath)
	if err != nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "Open", plainPath, err)
	}

	baseFile, err := c.base.OpenFile(cipherPath, flag, perm)
	if err != nil {
		return nil, fserrors.New(fserrors.IoError, "Open", plainPath, err)
	}

	raw := rawfile.New(baseFile)
	create := flag&os.O_CREATE != 0
	cf, err := cipherfile.Open(raw, c.cipherfileConfig(externalIV), create)
	if err != nil {
		baseFile.Close()
		return nil, fserrors.New(fserrors.CryptoFailure, "Open", plainPath, err)
	}
	bf := blockfile.New(cf, c.vol.Config.BlockSize)

	n := &Node{plainPath: plainPath, cipherPath: cipherPath, bf: bf, cf: cf, refs: 1}

	c.mu.Lock()
	// Another goroutine may have raced us between the first lookup and
	// here; prefer the winner already installed so there is still only
	// one live Node per plaintext path.
	if existing := c.lookup(plainPath); existing != nil {
		c.mu.Unlock()
		bf.Close()
		return existing, nil
	}
	c.openMap[plainPath] = weak.Make(n)
	c.mu.Unlock()

	return n, nil
}

// Release drops a reference to n; the last release closes its block
// pipeline and drops it from the open-node map.
func (c *Controller) Release(n *Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n.mu.Lock()
	n.refs--
	remaining := n.refs
	n.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	delete(c.openMap, n.PlainPath())
	return n.close()
}

// EncodePath translates a plaintext path to its on-disk cipher path,
// exposed so the root package can pass through operations (Chdir, Chmod,
// Chown, Chtimes, MkdirAll) that don't need a Node.
func (c *Controller) EncodePath(plainPath string) (string, error) {
	p, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return "", fserrors.New(fserrors.InvalidArgument, "EncodePath", plainPath, err)
	}
	return p, nil
}

// DecodePath translates an on-disk cipher path back to plaintext.
func (c *Controller) DecodePath(cipherPath string) (string, error) {
	p, err := c.codec.DecodePath(cipherPath)
	if err != nil {
		return "", fserrors.New(fserrors.InvalidArgument, "DecodePath", cipherPath, err)
	}
	return p, nil
}

// Mkdir creates a directory at plainPath.
func (c *Controller) Mkdir(plainPath string, perm os.FileMode) error {
	cipherPath, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return fserrors.New(fserrors.InvalidArgument, "Mkdir", plainPath, err)
	}
	if err := c.base.Mkdir(cipherPath, perm); err != nil {
		return fserrors.New(fserrors.IoError, "Mkdir", plainPath, err)
	}
	return nil
}

// Remove deletes the file or empty directory at plainPath. A file still
// open elsewhere is unlinked on disk immediately (the backing store's own
// unlink-while-open semantics apply); the Node stays usable until its
// last Release.
func (c *Controller) Remove(plainPath string) error {
	cipherPath, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return fserrors.New(fserrors.InvalidArgument, "Remove", plainPath, err)
	}
	if err := c.base.Remove(cipherPath); err != nil {
		return fserrors.New(fserrors.IoError, "Remove", plainPath, err)
	}
	return nil
}

// RemoveAll deletes plainPath and everything under it.
func (c *Controller) RemoveAll(plainPath string) error {
	cipherPath, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return fserrors.New(fserrors.InvalidArgument, "RemoveAll", plainPath, err)
	}
	if err := c.base.RemoveAll(cipherPath); err != nil {
		return fserrors.New(fserrors.IoError, "RemoveAll", plainPath, err)
	}
	return nil
}

// Stat returns the backing store's FileInfo for plainPath, wrapped so
// Size() reports the plaintext size rather than the on-disk size.
func (c *Controller) Stat(plainPath string) (os.FileInfo, error) {
	cipherPath, err := c.codec.EncodePath(plainPath)
	if err != nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "Stat", plainPath, err)
	}
	info, err := c.base.Stat(cipherPath)
	if err != nil {
		return nil, fserrors.New(fserrors.NotFound, "Stat", plainPath, err)
	}
	if info.IsDir() {
		return info, nil
	}

	plainSize, sizeErr := c.plainFileSize(plainPath, cipherPath, info.Size())
	if sizeErr != nil {
		// Fall back to the on-disk size rather than fail Stat outright;
		// a corrupt or legacy file should still be listable.
		plainSize = info.Size()
	}
	return &fileInfo{FileInfo: info, size: plainSize}, nil
}

// rewriteClosedFileIV rewrites the on-disk IV header of a file that has no
// live Node (so updateLiveNode had nothing to retarget in memory), the way
// Node.rewriteExternalIV does for one that's open. oldExternalIV must be the
// chain IV the file's content was actually encrypted under -- the caller is
// responsible for deriving it from the file's pre-rename parent path, since
// cipherfile.Open itself doesn't know the file's history.
func (c *Controller) rewriteClosedFileIV(cipherPath string, oldExternalIV, newExternalIV uint64) error {
	if !c.vol.Config.PerFileIV || oldExternalIV == newExternalIV {
		return nil
	}

	f, err := c.base.OpenFile(cipherPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	raw := rawfile.New(f)
	cf, err := cipherfile.Open(raw, c.cipherfileConfig(oldExternalIV), false)
	if err != nil {
		return err
	}
	defer cf.Close()

	return cf.RewriteExternalIV(newExternalIV)
}

// plainFileSize opens cipherPath read-only just long enough to ask
// cipherfile for its recovered plaintext size. The externalIV only
// matters for decrypting content, not for the size arithmetic, but it is
// still derived from plainPath's parent directory for consistency with
// every other open path.
func (c *Controller) plainFileSize(plainPath, cipherPath string, onDiskSize int64) (int64, error) {
	if onDiskSize == 0 {
		return 0, nil
	}
	externalIV, err := c.externalIVFor(plainPath)
	if err != nil {
		return 0, err
	}
	f, err := c.base.OpenFile(cipherPath, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	raw := rawfile.New(f)
	cf, err := cipherfile.Open(raw, c.cipherfileConfig(externalIV), false)
	if err != nil {
		return 0, err
	}
	defer cf.Close()
	return cf.Size()
}

// fileInfo overrides Size() with the recovered plaintext length, computed
// from the on-disk block/MAC layout rather than the raw file's byte count.
type fileInfo struct {
	os.FileInfo
	size int64
}

func (fi *fileInfo) Size() int64 { return fi.size }

// DirEntry is one decoded (or undecodable) entry of a directory listing.
type DirEntry struct {
	Name  string
	Valid bool // false if this name could not be decoded
}

// Readdir lists plainDirPath, decoding each on-disk name with the chain IV
// that directory's children were encoded under. Names that fail to
// decode are reported with Valid=false rather than silently dropped or
// mixed into the primary listing as garbage, matching spec.md's
// invalid-entry side-iterator contract.
func (c *Controller) Readdir(plainDirPath string) ([]DirEntry, error) {
	cipherDirPath, err := c.codec.EncodePath(plainDirPath)
	if err != nil {
		return nil, fserrors.New(fserrors.InvalidArgument, "Readdir", plainDirPath, err)
	}

	d, err := c.base.Open(cipherDirPath)
	if err != nil {
		return nil, fserrors.New(fserrors.NotFound, "Readdir", plainDirPath, err)
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, fserrors.New(fserrors.IoError, "Readdir", plainDirPath, err)
	}

	chain, err := c.codec.ChainForPath(plainDirPath)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Readdir", plainDirPath, err)
	}

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		plain, _, err := c.codec.DecodeComponent(name, chain)
		if err != nil {
			entries = append(entries, DirEntry{Name: name, Valid: false})
			continue
		}
		entries = append(entries, DirEntry{Name: plain, Valid: true})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
