// Package tree is the directory-tree controller: it translates plaintext
// paths to cipher paths via nametransform, opens the blockfile-over-
// cipherfile-over-rawfile stack per file, and keeps at most one live Node
// per plaintext path so concurrent opens of the same file share state.
package tree

import (
	"sync"

	"github.com/blockvault/encryptfs/internal/blockfile"
	"github.com/blockvault/encryptfs/internal/cipherfile"
)

// Node is the open handle for one plaintext path: its cipher path, the
// block pipeline stacked over the backing file, and a reference count so
// the last closer tears the stack down. At most one Node exists per
// plaintext path at a time, tracked by Controller.openMap.
type Node struct {
	mu sync.Mutex

	plainPath  string
	cipherPath string

	bf *blockfile.File
	cf *cipherfile.File

	refs int
}

// ReadAt/WriteAt/Size/Truncate/Sync delegate to the block pipeline; callers
// must hold no lock of their own, Node serializes internally the way the
// teacher's encryptedFile did with its own mutex.

func (n *Node) ReadAt(p []byte, off int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.ReadAt(p, off)
}

func (n *Node) WriteAt(p []byte, off int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.WriteAt(p, off)
}

func (n *Node) Size() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.Size()
}

func (n *Node) Truncate(size int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.Truncate(size)
}

func (n *Node) Sync() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.Sync()
}

// PlainPath returns the plaintext path this node was opened under.
func (n *Node) PlainPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.plainPath
}

// CipherPath returns the current on-disk path, which Controller.Rename
// updates in place when an ancestor directory is renamed.
func (n *Node) CipherPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cipherPath
}

func (n *Node) setPaths(plain, cipher string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plainPath, n.cipherPath = plain, cipher
}

// rewriteExternalIV updates this node's cipher layer to the externalIV its
// new parent directory's chain produces, rewriting its on-disk IV header
// (if any) so already-written blocks keep decrypting correctly. Called
// while a rename cascade is retargeting an open node to its new path.
func (n *Node) rewriteExternalIV(externalIV uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cf.RewriteExternalIV(externalIV)
}

func (n *Node) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bf.Close()
}
