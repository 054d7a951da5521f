// Package cipherfile owns the per-file IV header and the actual block
// encryption/MAC computation. It is the only layer that ever holds
// plaintext and ciphertext for the same block simultaneously, which is why
// it -- not macfile -- computes the MAC over rand||plaintext even though
// the MAC bytes are framed onto disk by the layer below (DESIGN.md
// documents this layering resolution).
package cipherfile

import (
	"fmt"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/macfile"
	"github.com/blockvault/encryptfs/internal/rawfile"
)

// Config bundles everything cipherfile needs to en/decrypt one file's
// blocks: the block size, per-block overhead, keys, and policy.
type Config struct {
	BlockSize int  // B, the plaintext block size
	MACBytes  int  // 0-8
	RandBytes int  // per-block random prefix length
	PerFileIV bool // whether a header is present

	// ExternalIV is supplied by the name layer: the chain IV produced by
	// encoding the file's parent directory path (nametransform.ChainForPath).
	// The effective per-block IV is ExternalIV ^ fileIV ^ blockNumber, so
	// renaming a directory -- which changes the chain IV every descendant
	// was encoded under -- requires rewriting each open descendant's fileIV
	// to compensate; see RewriteExternalIV.
	ExternalIV uint64

	AEADSuite  cryptoengine.Suite
	DataKey    []byte // per-block CTR key
	MACKey     []byte
	MACBackend cryptoengine.MACBackend
	Policy     macfile.Policy
}

// File implements the blockIO contract blockfile consumes: ReadOneBlock/
// WriteOneBlock operate on plaintext blocks, Size/Truncate work in the
// plaintext domain, and everything else is translated to on-disk block
// offsets before being handed to macfile.
type File struct {
	cfg       Config
	raw       *rawfile.File
	headerAD  cryptoengine.AEAD
	block     *cryptoengine.BlockCipher
	mac       *cryptoengine.MAC64
	mf        *macfile.File
	fileIV    uint64
	headerLen int64
}

func onDiskBlockSize(cfg Config) int {
	return cfg.BlockSize + cfg.MACBytes + cfg.RandBytes
}

// Open wraps raw, reading the per-file header (if enabled) or creating one
// if create is true and the file is currently empty.
func Open(raw *rawfile.File, cfg Config, create bool) (*File, error) {
	headerAD, err := cryptoengine.NewAEAD(cfg.AEADSuite, cfg.DataKey[:min32(cfg.DataKey)])
	if err != nil {
		return nil, fmt.Errorf("cipherfile: header aead: %w", err)
	}
	blockCipher, err := cryptoengine.NewBlockCipher(cfg.DataKey[:min32(cfg.DataKey)])
	if err != nil {
		return nil, fmt.Errorf("cipherfile: block cipher: %w", err)
	}
	mac := cryptoengine.NewMAC64(cfg.MACBackend, cfg.MACKey)

	f := &File{cfg: cfg, raw: raw, headerAD: headerAD, block: blockCipher, mac: mac}

	if !cfg.PerFileIV {
		f.mf = macfile.New(raw, 0, cfg.Policy)
		return f, nil
	}

	headerLen := int64(Length(headerAD))
	size, err := raw.Size()
	if err != nil {
		return nil, fmt.Errorf("cipherfile: stat: %w", err)
	}

	if size == 0 && create {
		iv, err := cryptoengine.RandomBytes(8)
		if err != nil {
			return nil, err
		}
		var fileIV uint64
		for i := 0; i < 8; i++ {
			fileIV = fileIV<<8 | uint64(iv[i])
		}
		hdr, err := Encode(headerAD, Header{FileIV: fileIV})
		if err != nil {
			return nil, err
		}
		if err := raw.WriteAt(hdr, 0); err != nil {
			return nil, fmt.Errorf("cipherfile: write header: %w", err)
		}
		f.fileIV = fileIV
		f.headerLen = headerLen
		f.mf = macfile.New(raw, headerLen, cfg.Policy)
		return f, nil
	}

	buf := make([]byte, headerLen)
	n, err := raw.ReadAt(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("cipherfile: read header: %w", err)
	}
	if int64(n) != headerLen {
		return nil, fmt.Errorf("cipherfile: truncated header: got %d want %d bytes", n, headerLen)
	}
	hdr, err := Decode(headerAD, buf)
	if err != nil {
		return nil, err
	}
	f.fileIV = hdr.FileIV
	f.headerLen = headerLen
	f.mf = macfile.New(raw, headerLen, cfg.Policy)
	return f, nil
}

func min32(k []byte) int {
	if len(k) < 32 {
		return len(k)
	}
	return 32
}

// effectiveIV folds in ExternalIV/fileIV only when per-file IVs are
// enabled: those two terms exist specifically so a file's effective IV can
// be kept stable across a directory rename by rewriting fileIV (see
// RewriteExternalIV). Without a header to carry a compensating fileIV,
// ExternalIV would permanently break decryption of existing ciphertext the
// moment a rename changed it, so it is left out of the formula entirely.
func (f *File) effectiveIV(blockNum uint64) uint64 {
	if !f.cfg.PerFileIV {
		return blockNum
	}
	return f.cfg.ExternalIV ^ f.fileIV ^ blockNum
}

// RewriteExternalIV updates the file's external IV -- the name-layer
// chain IV of its parent directory -- to newExternalIV. It derives a
// compensating fileIV so the effective per-block IV (ExternalIV ^ fileIV ^
// blockNumber) is unchanged, and rewrites the on-disk header under that
// new fileIV. No block's ciphertext is touched: only the header changes,
// so a directory rename cascade stays cheap regardless of file size.
func (f *File) RewriteExternalIV(newExternalIV uint64) error {
	if newExternalIV == f.cfg.ExternalIV {
		return nil
	}
	if !f.cfg.PerFileIV {
		f.cfg.ExternalIV = newExternalIV
		return nil
	}

	newFileIV := f.fileIV ^ f.cfg.ExternalIV ^ newExternalIV
	hdr, err := Encode(f.headerAD, Header{FileIV: newFileIV})
	if err != nil {
		return fmt.Errorf("cipherfile: rewrite external iv: %w", err)
	}
	if err := f.raw.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("cipherfile: rewrite header: %w", err)
	}
	f.fileIV = newFileIV
	f.cfg.ExternalIV = newExternalIV
	return nil
}

func (f *File) layoutFor(cipherLen int) macfile.Layout {
	return macfile.Layout{MACBytes: f.cfg.MACBytes, RandBytes: f.cfg.RandBytes, CipherBytes: cipherLen}
}

// ReadOneBlock reads the plaintext of block blockNum into buf (len(buf) <=
// BlockSize) and returns how many plaintext bytes were available. Reading
// a block past EOF returns 0, nil, matching an empty tail.
func (f *File) ReadOneBlock(blockNum uint64, buf []byte) (int, error) {
	odbs := onDiskBlockSize(f.cfg)
	blockOffset := int64(blockNum) * int64(odbs)

	mac, rand, ciphertext, isHole, err := f.mf.ReadBlock(blockOffset, f.layoutFor(len(buf)))
	if err != nil {
		return 0, err
	}
	if isHole {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}
	if len(ciphertext) == 0 {
		return 0, nil
	}

	iv := f.effectiveIV(blockNum)
	plaintext := f.block.Xform(iv, ciphertext)

	if f.cfg.MACBytes > 0 {
		payload := append(append([]byte{}, rand...), plaintext...)
		ok, err := f.mac.Verify(payload, mac, f.cfg.MACBytes)
		if err != nil {
			return 0, fmt.Errorf("cipherfile: mac verify: %w", err)
		}
		if !ok && !f.cfg.Policy.ForceDecode {
			return 0, cryptoengine.ErrAuthFailed
		}
	}

	n := copy(buf, plaintext)
	return n, nil
}

// WriteOneBlock encrypts and frames plaintext (len <= BlockSize) as block
// blockNum.
func (f *File) WriteOneBlock(blockNum uint64, plaintext []byte) error {
	odbs := onDiskBlockSize(f.cfg)
	blockOffset := int64(blockNum) * int64(odbs)

	rand, err := cryptoengine.RandomBytes(f.cfg.RandBytes)
	if err != nil {
		return err
	}

	var mac []byte
	if f.cfg.MACBytes > 0 {
		payload := append(append([]byte{}, rand...), plaintext...)
		mac, err = f.mac.Sum(payload, f.cfg.MACBytes)
		if err != nil {
			return err
		}
	}

	iv := f.effectiveIV(blockNum)
	ciphertext := f.block.Xform(iv, plaintext)

	return f.mf.WriteBlock(blockOffset, mac, rand, ciphertext)
}

// Size returns the plaintext size of the file, recovered from the on-disk
// block-region size the way macfile's get_attrs contract describes.
func (f *File) Size() (int64, error) {
	onDisk, err := f.mf.PlainRawSize()
	if err != nil {
		return 0, err
	}
	return f.plainSizeFromRaw(onDisk)
}

func (f *File) plainSizeFromRaw(onDisk int64) (int64, error) {
	overhead := int64(f.cfg.MACBytes + f.cfg.RandBytes)
	odbs := int64(onDiskBlockSize(f.cfg))
	if odbs == 0 {
		return 0, fmt.Errorf("cipherfile: zero-size block configuration")
	}
	fullBlocks := onDisk / odbs
	remainder := onDisk % odbs
	if remainder == 0 {
		return fullBlocks * int64(f.cfg.BlockSize), nil
	}
	if remainder < overhead {
		return 0, fmt.Errorf("cipherfile: corrupt trailing block: %d bytes, overhead %d", remainder, overhead)
	}
	return fullBlocks*int64(f.cfg.BlockSize) + (remainder - overhead), nil
}

// Truncate sets the plaintext size of the file to newSize.
func (f *File) Truncate(newSize int64) error {
	B := int64(f.cfg.BlockSize)
	overhead := int64(f.cfg.MACBytes + f.cfg.RandBytes)
	odbs := int64(onDiskBlockSize(f.cfg))

	fullBlocks := newSize / B
	remainder := newSize % B

	if remainder == 0 {
		return f.mf.Truncate(fullBlocks * odbs)
	}

	blockNum := uint64(fullBlocks)
	old := make([]byte, B)
	n, err := f.ReadOneBlock(blockNum, old)
	if err != nil {
		return fmt.Errorf("cipherfile: truncate read block %d: %w", blockNum, err)
	}
	trimmed := old[:n]
	if int64(len(trimmed)) < remainder {
		// Growing into a previously short/absent block: zero-pad.
		grown := make([]byte, remainder)
		copy(grown, trimmed)
		trimmed = grown
	} else {
		trimmed = trimmed[:remainder]
	}

	if err := f.WriteOneBlock(blockNum, trimmed); err != nil {
		return fmt.Errorf("cipherfile: truncate rewrite block %d: %w", blockNum, err)
	}
	return f.mf.Truncate(fullBlocks*odbs + overhead + remainder)
}

func (f *File) Sync() error  { return f.mf.Sync() }
func (f *File) Close() error { return f.mf.Close() }
