package rawfile

import (
	"bytes"
	"testing"

	"github.com/absfs/memfs"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	fs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	f, err := fs.Create("/raw.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return New(f)
}

func TestWriteAtThenReadAtRoundTrip(t *testing.T) {
	f := newTestFile(t)
	defer f.Close()

	if err := f.WriteAt([]byte("hello, raw file"), 10); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, len("hello, raw file"))
	n, err := f.ReadAt(buf, 10)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(buf) || !bytes.Equal(buf, []byte("hello, raw file")) {
		t.Fatalf("ReadAt = %q, want %q", buf[:n], "hello, raw file")
	}
}

func TestSizeAndTruncate(t *testing.T) {
	f := newTestFile(t)
	defer f.Close()

	if err := f.WriteAt([]byte("0123456789"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("Size = %d, want 10", size)
	}

	if err := f.Truncate(4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	size, err = f.Size()
	if err != nil {
		t.Fatalf("Size after Truncate: %v", err)
	}
	if size != 4 {
		t.Fatalf("Size after Truncate = %d, want 4", size)
	}
}

func TestReadAtPastEOFReturnsShortRead(t *testing.T) {
	f := newTestFile(t)
	defer f.Close()

	if err := f.WriteAt([]byte("short"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 20)
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 {
		t.Fatalf("ReadAt n = %d, want 5", n)
	}
}
