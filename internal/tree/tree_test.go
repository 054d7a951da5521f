package tree

import (
	"bytes"
	"os"
	"testing"

	"github.com/absfs/memfs"

	"github.com/blockvault/encryptfs/internal/nametransform"
	"github.com/blockvault/encryptfs/internal/volume"
)

func newTestController(t *testing.T) (*Controller, *memfs.FileSystem) {
	t.Helper()
	return newTestControllerWith(t, false, true)
}

func newTestControllerWith(t *testing.T, forceDecode, perFileIV bool) (*Controller, *memfs.FileSystem) {
	t.Helper()
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	vol, err := volume.Create(base, volume.CreateOptions{
		Password:    []byte("password"),
		BlockSize:   64,
		MACBytes:    4,
		RandBytes:   4,
		PerFileIV:   perFileIV,
		NameVariant: nametransform.VariantBlock,
	})
	if err != nil {
		t.Fatalf("volume.Create: %v", err)
	}
	ctrl, err := NewController(base, vol, nil, forceDecode)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl, base
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	ctrl, _ := newTestController(t)

	n, err := ctrl.Open("/hello.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("hello, tree package")
	if _, err := n.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	buf := make([]byte, len(payload))
	if _, err := n.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("ReadAt = %q, want %q", buf, payload)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestOpenIsUniquePerPlainPath(t *testing.T) {
	ctrl, _ := newTestController(t)

	n1, err := ctrl.Open("/shared.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open (1): %v", err)
	}
	n2, err := ctrl.Open("/shared.txt", os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("Open (2): %v", err)
	}
	if n1 != n2 {
		t.Fatal("two opens of the same plaintext path returned different Nodes")
	}

	if err := ctrl.Release(n1); err != nil {
		t.Fatalf("Release (1): %v", err)
	}
	if err := ctrl.Release(n2); err != nil {
		t.Fatalf("Release (2): %v", err)
	}
}

func TestMkdirAndReaddir(t *testing.T) {
	ctrl, _ := newTestController(t)

	if err := ctrl.Mkdir("/docs", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	n, err := ctrl.Open("/docs/a.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := n.WriteAt([]byte("A"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}

	entries, err := ctrl.Readdir("/docs")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 1 || !entries[0].Valid || entries[0].Name != "a.txt" {
		t.Fatalf("Readdir = %+v, want one valid entry named a.txt", entries)
	}
}

func TestRenameDirectoryCascadesDescendantNames(t *testing.T) {
	ctrl, _ := newTestController(t)

	if err := ctrl.Mkdir("/old", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	n, err := ctrl.Open("/old/child.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("payload")
	if _, err := n.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := ctrl.Rename("/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	entries, err := ctrl.Readdir("/new")
	if err != nil {
		t.Fatalf("Readdir(/new): %v", err)
	}
	if len(entries) != 1 || !entries[0].Valid || entries[0].Name != "child.txt" {
		t.Fatalf("Readdir(/new) = %+v, want one valid entry named child.txt", entries)
	}

	n2, err := ctrl.Open("/new/child.txt", os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open(/new/child.txt): %v", err)
	}
	defer ctrl.Release(n2)
	buf := make([]byte, len(payload))
	if _, err := n2.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("ReadAt after rename cascade = %q, want %q", buf, payload)
	}

	if _, err := ctrl.Stat("/old/child.txt"); err == nil {
		t.Fatal("expected the old path to no longer exist after rename")
	}
}

func TestExternalIVVariesByDirectory(t *testing.T) {
	ctrl, _ := newTestController(t)

	ivA, err := ctrl.externalIVFor("/dirA/file.txt")
	if err != nil {
		t.Fatalf("externalIVFor(/dirA/file.txt): %v", err)
	}
	ivB, err := ctrl.externalIVFor("/dirB/file.txt")
	if err != nil {
		t.Fatalf("externalIVFor(/dirB/file.txt): %v", err)
	}
	if ivA == ivB {
		t.Fatal("files in two different directories got the same externalIV")
	}

	ivRoot, err := ctrl.externalIVFor("/root-file.txt")
	if err != nil {
		t.Fatalf("externalIVFor(/root-file.txt): %v", err)
	}
	if ivRoot == ivA {
		t.Fatal("a root-level file and a nested file got the same externalIV")
	}
}

func TestRenameRewritesLiveNodeIVHeader(t *testing.T) {
	ctrl, _ := newTestController(t)

	if err := ctrl.Mkdir("/old", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	n, err := ctrl.Open("/old/child.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("still here after rename")
	if _, err := n.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	// Rename while the node is still open (not Released), so the cascade
	// must retarget this exact live Node rather than a freshly opened one.
	if err := ctrl.Rename("/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	buf := make([]byte, len(payload))
	if _, err := n.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt on live node after rename: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("ReadAt on live node after rename = %q, want %q", buf, payload)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// A fresh open at the new path must also decrypt correctly, confirming
	// the on-disk header (not just the in-memory Node) was rewritten.
	n2, err := ctrl.Open("/new/child.txt", os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open(/new/child.txt): %v", err)
	}
	defer ctrl.Release(n2)
	buf2 := make([]byte, len(payload))
	if _, err := n2.ReadAt(buf2, 0); err != nil {
		t.Fatalf("ReadAt after reopen: %v", err)
	}
	if !bytes.Equal(buf2, payload) {
		t.Fatalf("ReadAt after reopen = %q, want %q", buf2, payload)
	}
}

func TestForceDecodeToleratesBadMAC(t *testing.T) {
	ctrl, base := newTestControllerWith(t, false, false)

	n, err := ctrl.Open("/data.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("0123456789")
	if _, err := n.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}

	cipherPath, err := ctrl.EncodePath("/data.txt")
	if err != nil {
		t.Fatalf("EncodePath: %v", err)
	}
	f, err := base.OpenFile(cipherPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile on backing store: %v", err)
	}
	flip := []byte{0}
	if _, err := f.ReadAt(flip, 0); err != nil {
		t.Fatalf("ReadAt on backing file: %v", err)
	}
	flip[0] ^= 0xFF
	if _, err := f.WriteAt(flip, 0); err != nil {
		t.Fatalf("WriteAt on backing file: %v", err)
	}
	f.Close()

	n2, err := ctrl.Open("/data.txt", os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open (strict): %v", err)
	}
	out := make([]byte, len(payload))
	_, err = n2.ReadAt(out, 0)
	ctrl.Release(n2)
	if err == nil {
		t.Fatal("expected a MAC verification error without ForceDecode")
	}

	ctrlForce, err := NewController(base, ctrl.vol, nil, true)
	if err != nil {
		t.Fatalf("NewController (force): %v", err)
	}
	n3, err := ctrlForce.Open("/data.txt", os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open (force): %v", err)
	}
	defer ctrlForce.Release(n3)
	if _, err := n3.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt with ForceDecode should not fail on a bad MAC: %v", err)
	}
}

func TestStatReportsPlaintextSize(t *testing.T) {
	ctrl, _ := newTestController(t)

	n, err := ctrl.Open("/sized.txt", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := bytes.Repeat([]byte("z"), 130)
	if _, err := n.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := ctrl.Release(n); err != nil {
		t.Fatalf("Release: %v", err)
	}

	info, err := ctrl.Stat("/sized.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Fatalf("Stat size = %d, want %d (on-disk size includes MAC/rand overhead)", info.Size(), len(payload))
	}
}
