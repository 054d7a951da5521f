// Package macfile is the on-disk block framing layer: each physical block
// is laid out as mac ∥ rand ∥ ciphertext. It knows nothing about
// plaintext or keys -- the MAC itself is computed and verified by
// cipherfile, the only layer that ever holds plaintext (see DESIGN.md's
// "layering resolution" for why the MAC sits here on disk but is computed
// one layer up).
package macfile

import (
	"fmt"

	"github.com/blockvault/encryptfs/internal/rawfile"
)

// Policy controls how reads tolerate gaps and corruption.
type Policy struct {
	// ForceDecode returns the block even when its MAC fails to verify,
	// instead of an error (verification itself happens in cipherfile;
	// this flag is threaded through so callers can see it).
	ForceDecode bool
	// AllowHoles treats an all-zero on-disk block as an unwritten hole:
	// the MAC check is skipped and a zero plaintext block is produced.
	AllowHoles bool
}

// File frames one backing file's blocks. baseOffset is the byte offset of
// block 0 (i.e. the length of cipherfile's per-file header, or 0 if the
// volume has no per-file IV header).
type File struct {
	raw        *rawfile.File
	baseOffset int64
	policy     Policy
}

// New wraps raw, framing blocks starting at baseOffset.
func New(raw *rawfile.File, baseOffset int64, policy Policy) *File {
	return &File{raw: raw, baseOffset: baseOffset, policy: policy}
}

// Layout describes one block's on-disk geometry in mac/rand/ciphertext
// byte counts, as decided by the volume's configured overhead.
type Layout struct {
	MACBytes    int
	RandBytes   int
	CipherBytes int
}

func (l Layout) total() int { return l.MACBytes + l.RandBytes + l.CipherBytes }

// ReadBlock reads the composite block at blockOffset (relative to
// baseOffset) and splits it into its mac, rand, and ciphertext parts. If
// AllowHoles is set and a non-empty read is entirely zero bytes, isHole is
// true and
// the caller should skip MAC verification and substitute a zero plaintext
// block.
func (f *File) ReadBlock(blockOffset int64, layout Layout) (mac, rand, ciphertext []byte, isHole bool, err error) {
	buf := make([]byte, layout.total())
	n, err := f.raw.ReadAt(buf, f.baseOffset+blockOffset)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("macfile: read block at %d: %w", blockOffset, err)
	}
	buf = buf[:n]

	if f.policy.AllowHoles && n > 0 && allZero(buf) {
		return nil, nil, nil, true, nil
	}

	if n < layout.MACBytes {
		return buf, nil, nil, false, nil
	}
	mac = buf[:layout.MACBytes]
	rest := buf[layout.MACBytes:]
	if len(rest) < layout.RandBytes {
		return mac, rest, nil, false, nil
	}
	rand = rest[:layout.RandBytes]
	ciphertext = rest[layout.RandBytes:]
	return mac, rand, ciphertext, false, nil
}

// WriteBlock writes mac ∥ rand ∥ ciphertext at blockOffset.
func (f *File) WriteBlock(blockOffset int64, mac, rand, ciphertext []byte) error {
	buf := make([]byte, 0, len(mac)+len(rand)+len(ciphertext))
	buf = append(buf, mac...)
	buf = append(buf, rand...)
	buf = append(buf, ciphertext...)
	if err := f.raw.WriteAt(buf, f.baseOffset+blockOffset); err != nil {
		return fmt.Errorf("macfile: write block at %d: %w", blockOffset, err)
	}
	return nil
}

// RawSize returns the total on-disk size including the header region.
func (f *File) RawSize() (int64, error) { return f.raw.Size() }

// PlainRawSize returns the on-disk size attributable to block data,
// excluding the header occupying [0, baseOffset).
func (f *File) PlainRawSize() (int64, error) {
	n, err := f.raw.Size()
	if err != nil {
		return 0, err
	}
	n -= f.baseOffset
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Truncate sets the on-disk block region's size (relative to baseOffset).
func (f *File) Truncate(size int64) error {
	return f.raw.Truncate(f.baseOffset + size)
}

func (f *File) Sync() error  { return f.raw.Sync() }
func (f *File) Close() error { return f.raw.Close() }

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
