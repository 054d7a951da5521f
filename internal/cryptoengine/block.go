package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// BlockCipher performs the length-preserving per-block encryption cipherfile
// uses for both full blocks ("block mode") and the short final block
// ("stream mode"). Both modes share one CTR-mode transform: CTR is a stream
// cipher, so a full block and a short tail both XOR cleanly against the same
// keystream, with no padding to reason about at the boundary.
type BlockCipher struct {
	block cipher.Block
}

// NewBlockCipher builds a per-block cipher from a 32-byte AES-256 key.
func NewBlockCipher(key []byte) (*BlockCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("block cipher requires a 32-byte key, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	return &BlockCipher{block: block}, nil
}

// ivBytes expands the effective 64-bit block IV (externalIV ^ fileIV ^
// blockNumber, computed by the caller) into the 16-byte CTR counter.
func ivBytes(iv uint64) []byte {
	buf := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(buf[8:], iv)
	return buf
}

// Xform runs the length-preserving CTR transform. It is used for both
// encryption and decryption, and for both full blocks ("block mode") and
// partial tail blocks ("stream mode") -- CTR keystream application is its
// own inverse and needs no knowledge of which case it is serving.
func (c *BlockCipher) Xform(iv uint64, data []byte) []byte {
	out := make([]byte, len(data))
	stream := cipher.NewCTR(c.block, ivBytes(iv))
	stream.XORKeyStream(out, data)
	return out
}

// BlockSize reports the underlying block cipher's block size (AES: 16).
func (c *BlockCipher) BlockSize() int {
	return c.block.BlockSize()
}
