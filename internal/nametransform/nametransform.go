// Package nametransform implements the filename codec: block (SIV,
// deterministic, authenticated), stream (length-preserving CTR), and null
// (passthrough) variants, chaining an IV from each path component into the
// next so renaming a parent directory changes every descendant's encoded
// name, encoded with a real base32 codec the way gocryptfs's nametransform
// and rclone's backend/crypt encode names.
package nametransform

import (
	"encoding/base32"
	"fmt"
	"path"
	"strings"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
)

// Variant selects how names are encoded.
type Variant uint8

const (
	// VariantNull passes names through unencrypted.
	VariantNull Variant = iota
	// VariantBlock uses AES-SIV: deterministic and authenticated, at the
	// cost of a fixed 16-byte-before-encoding expansion per component.
	VariantBlock
	// VariantStream uses CTR: length-preserving, not authenticated.
	VariantStream
)

// fsSafeAlphabet is a z-base-32-style alphabet: no visually ambiguous
// characters, safe in a single case for case-insensitive filesystems.
const fsSafeAlphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

var encoding = base32.NewEncoding(fsSafeAlphabet).WithPadding(base32.NoPadding)

// Codec encodes and decodes one path component at a time, threading a
// chain IV derived from each parent into its children.
type Codec struct {
	variant Variant
	siv     *cryptoengine.SIV
	block   *cryptoengine.BlockCipher
	chain   *cryptoengine.MAC64
	rootIV  uint64
}

// NewCodec builds a Codec for variant, deriving its primitives from
// nameKey (32 bytes, from volume.Subkeys.Name) and chaining from rootIV
// (typically derived from the volume UUID so two volumes never share a
// namespace even with the same password).
func NewCodec(variant Variant, nameKey []byte, rootIV uint64) (*Codec, error) {
	c := &Codec{variant: variant, rootIV: rootIV}

	switch variant {
	case VariantNull:
		c.chain = cryptoengine.NewMAC64(cryptoengine.MACBackendHMACSHA256, nameKey)
	case VariantBlock:
		sivKey := make([]byte, 64)
		copy(sivKey[:32], nameKey)
		copy(sivKey[32:], nameKey)
		siv, err := cryptoengine.NewSIV(sivKey)
		if err != nil {
			return nil, fmt.Errorf("nametransform: siv: %w", err)
		}
		c.siv = siv
	case VariantStream:
		bc, err := cryptoengine.NewBlockCipher(nameKey)
		if err != nil {
			return nil, fmt.Errorf("nametransform: block cipher: %w", err)
		}
		c.block = bc
		c.chain = cryptoengine.NewMAC64(cryptoengine.MACBackendHMACSHA256, nameKey)
	default:
		return nil, fmt.Errorf("nametransform: unknown variant %v", variant)
	}
	return c, nil
}

func ivBytes(iv uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(iv)
		iv >>= 8
	}
	return b
}

func nextChain(mac *cryptoengine.MAC64, chainIV uint64, data []byte) (uint64, error) {
	payload := append(ivBytes(chainIV), data...)
	sum, err := mac.Sum(payload, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range sum {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// EncodeComponent encrypts one path component (not "." or "..") and
// returns its encoded form plus the chain IV to feed into its children.
func (c *Codec) EncodeComponent(plain string, chainIV uint64) (string, uint64, error) {
	if plain == "" {
		return "", 0, fmt.Errorf("nametransform: empty path component")
	}
	if plain == "." || plain == ".." {
		return plain, chainIV, nil
	}

	switch c.variant {
	case VariantNull:
		next, err := nextChain(c.chain, chainIV, []byte(plain))
		if err != nil {
			return "", 0, err
		}
		return plain, next, nil

	case VariantBlock:
		blob, err := c.siv.Encrypt([]byte(plain), ivBytes(chainIV))
		if err != nil {
			return "", 0, fmt.Errorf("nametransform: encrypt %q: %w", plain, err)
		}
		next := sivTagToChain(blob)
		return encoding.EncodeToString(blob), next, nil

	case VariantStream:
		ct := c.block.Xform(chainIV, []byte(plain))
		next, err := nextChain(c.chain, chainIV, ct)
		if err != nil {
			return "", 0, err
		}
		return encoding.EncodeToString(ct), next, nil

	default:
		return "", 0, fmt.Errorf("nametransform: unknown variant %v", c.variant)
	}
}

// DecodeComponent reverses EncodeComponent.
func (c *Codec) DecodeComponent(encoded string, chainIV uint64) (string, uint64, error) {
	if encoded == "" {
		return "", 0, fmt.Errorf("nametransform: empty path component")
	}
	if encoded == "." || encoded == ".." {
		return encoded, chainIV, nil
	}

	switch c.variant {
	case VariantNull:
		next, err := nextChain(c.chain, chainIV, []byte(encoded))
		if err != nil {
			return "", 0, err
		}
		return encoded, next, nil

	case VariantBlock:
		blob, err := encoding.DecodeString(encoded)
		if err != nil {
			return "", 0, fmt.Errorf("nametransform: decode %q: %w", encoded, err)
		}
		plain, err := c.siv.Decrypt(blob, ivBytes(chainIV))
		if err != nil {
			return "", 0, err
		}
		return string(plain), sivTagToChain(blob), nil

	case VariantStream:
		ct, err := encoding.DecodeString(encoded)
		if err != nil {
			return "", 0, fmt.Errorf("nametransform: decode %q: %w", encoded, err)
		}
		plain := c.block.Xform(chainIV, ct)
		next, err := nextChain(c.chain, chainIV, ct)
		if err != nil {
			return "", 0, err
		}
		return string(plain), next, nil

	default:
		return "", 0, fmt.Errorf("nametransform: unknown variant %v", c.variant)
	}
}

func sivTagToChain(blob []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(blob); i++ {
		v = v<<8 | uint64(blob[i])
	}
	return v
}

// EncodePath encrypts every component of an absolute, "/"-separated
// plaintext path, chaining from RootIV.
func (c *Codec) EncodePath(plain string) (string, error) {
	if plain == "" || plain == "/" {
		return plain, nil
	}
	parts := strings.Split(strings.TrimPrefix(plain, "/"), "/")
	chain := c.rootIV
	for i, p := range parts {
		enc, next, err := c.EncodeComponent(p, chain)
		if err != nil {
			return "", err
		}
		parts[i] = enc
		chain = next
	}
	return "/" + path.Join(parts...), nil
}

// ChainForPath walks the same component chain EncodePath does but returns
// the resulting chain IV instead of the encoded string -- the IV a
// directory's own children must be encoded/decoded under. Used by the tree
// controller to encode a new child without re-deriving its parent's whole
// cipher path.
func (c *Codec) ChainForPath(plain string) (uint64, error) {
	if plain == "" || plain == "/" {
		return c.rootIV, nil
	}
	parts := strings.Split(strings.TrimPrefix(plain, "/"), "/")
	chain := c.rootIV
	for _, p := range parts {
		_, next, err := c.EncodeComponent(p, chain)
		if err != nil {
			return 0, err
		}
		chain = next
	}
	return chain, nil
}

// DecodePath reverses EncodePath.
func (c *Codec) DecodePath(cipher string) (string, error) {
	if cipher == "" || cipher == "/" {
		return cipher, nil
	}
	parts := strings.Split(strings.TrimPrefix(cipher, "/"), "/")
	chain := c.rootIV
	for i, p := range parts {
		dec, next, err := c.DecodeComponent(p, chain)
		if err != nil {
			return "", err
		}
		parts[i] = dec
		chain = next
	}
	return "/" + path.Join(parts...), nil
}

// MaxEncodedNameLen returns the longest encoded length a plainLen-byte
// component can expand to. It is exact (not an estimate) and monotonic in
// plainLen, so callers can budget an on-disk name-length limit.
func (c *Codec) MaxEncodedNameLen(plainLen int) int {
	cipherLen := plainLen
	switch c.variant {
	case VariantBlock:
		cipherLen = plainLen + 16
	case VariantNull:
		return plainLen
	}
	return encoding.EncodedLen(cipherLen)
}

// MaxDecodedNameLen returns the longest plaintext length an
// encodedLen-byte encoded component can decode to, the inverse of
// MaxEncodedNameLen.
func (c *Codec) MaxDecodedNameLen(encodedLen int) int {
	if c.variant == VariantNull {
		return encodedLen
	}
	cipherLen := encoding.DecodedLen(encodedLen)
	if c.variant == VariantBlock {
		cipherLen -= 16
	}
	if cipherLen < 0 {
		return 0
	}
	return cipherLen
}
