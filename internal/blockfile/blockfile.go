// Package blockfile translates arbitrary byte-range reads and writes into
// the block-aligned operations the layer below (cipherfile) understands,
// scattering and gathering partial head/tail blocks with read-modify-write.
package blockfile

import (
	"fmt"
)

// blockIO is the narrow interface blockfile delegates aligned block I/O
// to. cipherfile.File satisfies it.
type blockIO interface {
	ReadOneBlock(blockNum uint64, buf []byte) (int, error)
	WriteOneBlock(blockNum uint64, data []byte) error
	Size() (int64, error)
	Truncate(newSize int64) error
	Sync() error
	Close() error
}

// File exposes byte-granular Read/Write/Truncate on top of a blockIO.
type File struct {
	io        blockIO
	blockSize int
}

// New wraps io, whose blocks are blockSize plaintext bytes each.
func New(io blockIO, blockSize int) *File {
	return &File{io: io, blockSize: blockSize}
}

// ReadAt reads len(p) bytes starting at off, returning fewer only at EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blockfile: negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	B := int64(f.blockSize)
	total := 0
	block := make([]byte, f.blockSize)

	for total < len(p) {
		pos := off + int64(total)
		blockNum := uint64(pos / B)
		blockOff := int(pos % B)

		n, err := f.io.ReadOneBlock(blockNum, block)
		if err != nil {
			return total, err
		}
		if n <= blockOff {
			// Nothing left in this block at this offset: EOF.
			break
		}

		avail := block[blockOff:n]
		copied := copy(p[total:], avail)
		total += copied

		if copied < len(avail) {
			// p was fully consumed before exhausting this block.
			break
		}
		if n < f.blockSize {
			// Short block read: end of file.
			break
		}
	}
	return total, nil
}

// WriteAt writes all of p at off, performing read-modify-write on any
// partial head or tail block. If off starts past the file's current end,
// the whole blocks in between are first written as zero-plaintext blocks
// through the same blockIO (and so the same MAC/cipher framing as real
// data) so no unencrypted gap is ever left on disk.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blockfile: negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	size, err := f.io.Size()
	if err != nil {
		return 0, err
	}
	if off > size {
		if err := f.fillHole(size, off); err != nil {
			return 0, err
		}
	}

	B := int64(f.blockSize)
	total := 0
	block := make([]byte, f.blockSize)

	for total < len(p) {
		pos := off + int64(total)
		blockNum := uint64(pos / B)
		blockOff := int(pos % B)

		remaining := len(p) - total
		spaceInBlock := f.blockSize - blockOff
		chunk := remaining
		if chunk > spaceInBlock {
			chunk = spaceInBlock
		}

		if blockOff != 0 || chunk < f.blockSize {
			// Partial block: read-modify-write.
			n, err := f.io.ReadOneBlock(blockNum, block)
			if err != nil {
				return total, err
			}
			existing := block[:n]
			newLen := blockOff + chunk
			if newLen < len(existing) {
				newLen = len(existing)
			}
			merged := make([]byte, newLen)
			copy(merged, existing)
			copy(merged[blockOff:], p[total:total+chunk])

			if err := f.io.WriteOneBlock(blockNum, merged); err != nil {
				return total, err
			}
		} else {
			if err := f.io.WriteOneBlock(blockNum, p[total:total+chunk]); err != nil {
				return total, err
			}
		}

		total += chunk
	}
	return total, nil
}

// fillHole zero-fills the gap between the file's current end (size) and
// the block containing off. When off lies past the block holding the old
// end, a short block at the old end is padded to a full block of zero
// plaintext, and a zero-plaintext block is written for every whole block
// strictly between the two. The block containing off itself is left to
// the caller's normal read-modify-write path, which already zero-fills
// the bytes it doesn't overwrite.
func (f *File) fillHole(size, off int64) error {
	B := int64(f.blockSize)
	targetBlock := off / B
	if size%B != 0 && size/B < targetBlock {
		tail := uint64(size / B)
		block := make([]byte, f.blockSize)
		if _, err := f.io.ReadOneBlock(tail, block); err != nil {
			return fmt.Errorf("blockfile: zero-fill tail block %d: %w", tail, err)
		}
		if err := f.io.WriteOneBlock(tail, block); err != nil {
			return fmt.Errorf("blockfile: zero-fill tail block %d: %w", tail, err)
		}
	}
	firstEmptyBlock := (size + B - 1) / B
	if firstEmptyBlock >= targetBlock {
		return nil
	}
	zero := make([]byte, f.blockSize)
	for bn := firstEmptyBlock; bn < targetBlock; bn++ {
		if err := f.io.WriteOneBlock(uint64(bn), zero); err != nil {
			return fmt.Errorf("blockfile: zero-fill hole block %d: %w", bn, err)
		}
	}
	return nil
}

// Size returns the file's current plaintext size.
func (f *File) Size() (int64, error) { return f.io.Size() }

// Truncate sets the file's plaintext size.
func (f *File) Truncate(size int64) error { return f.io.Truncate(size) }

func (f *File) Sync() error  { return f.io.Sync() }
func (f *File) Close() error { return f.io.Close() }
