package macfile

import (
	"bytes"
	"os"
	"testing"

	"github.com/absfs/memfs"

	"github.com/blockvault/encryptfs/internal/rawfile"
)

func newTestFile(t *testing.T, baseOffset int64, policy Policy) *File {
	t.Helper()
	fs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	f, err := fs.OpenFile("/block", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return New(rawfile.New(f), baseOffset, policy)
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	mf := newTestFile(t, 0, Policy{})
	layout := Layout{MACBytes: 8, RandBytes: 4, CipherBytes: 16}

	mac := bytes.Repeat([]byte{0xAA}, 8)
	rnd := bytes.Repeat([]byte{0xBB}, 4)
	ct := bytes.Repeat([]byte{0xCC}, 16)

	if err := mf.WriteBlock(0, mac, rnd, ct); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	gotMAC, gotRand, gotCT, isHole, err := mf.ReadBlock(0, layout)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if isHole {
		t.Fatal("freshly written block reported as a hole")
	}
	if !bytes.Equal(gotMAC, mac) || !bytes.Equal(gotRand, rnd) || !bytes.Equal(gotCT, ct) {
		t.Fatal("round-tripped block fields do not match what was written")
	}
}

func TestReadBlockHoleDetection(t *testing.T) {
	mf := newTestFile(t, 0, Policy{AllowHoles: true})
	layout := Layout{MACBytes: 8, RandBytes: 4, CipherBytes: 16}

	if err := mf.Truncate(int64(layout.total())); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	_, _, _, isHole, err := mf.ReadBlock(0, layout)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !isHole {
		t.Fatal("all-zero block with AllowHoles should be reported as a hole")
	}
}

func TestBaseOffsetExcludesHeaderFromPlainRawSize(t *testing.T) {
	const headerLen = 64
	mf := newTestFile(t, headerLen, Policy{})
	layout := Layout{MACBytes: 8, RandBytes: 4, CipherBytes: 16}

	if err := mf.WriteBlock(0, bytes.Repeat([]byte{1}, 8), bytes.Repeat([]byte{2}, 4), bytes.Repeat([]byte{3}, 16)); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	rawSize, err := mf.RawSize()
	if err != nil {
		t.Fatalf("RawSize: %v", err)
	}
	if rawSize != headerLen+int64(layout.total()) {
		t.Fatalf("RawSize = %d, want %d", rawSize, headerLen+int64(layout.total()))
	}

	plainSize, err := mf.PlainRawSize()
	if err != nil {
		t.Fatalf("PlainRawSize: %v", err)
	}
	if plainSize != int64(layout.total()) {
		t.Fatalf("PlainRawSize = %d, want %d", plainSize, layout.total())
	}
}
