package cryptoengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

// MACBackend selects the keyed MAC algorithm MAC64 truncates to MAC_64.
type MACBackend uint8

const (
	// MACBackendHMACSHA256 truncates HMAC-SHA256 to the configured width.
	MACBackendHMACSHA256 MACBackend = iota
	// MACBackendBLAKE3 truncates a keyed BLAKE3 MAC to the configured width.
	MACBackendBLAKE3
)

// MAC64 computes a keyed MAC over rand||plaintext and truncates it to the
// volume's configured mac byte count (0-8), matching macfile's on-disk
// layout. It is intentionally narrow: one method, one purpose.
type MAC64 struct {
	backend MACBackend
	key     []byte
}

// NewMAC64 builds a MAC64 computer bound to key using the given backend.
func NewMAC64(backend MACBackend, key []byte) *MAC64 {
	return &MAC64{backend: backend, key: key}
}

// Sum returns the low macBytes (0-8) of the keyed MAC of data, little-endian,
// matching the on-disk block prefix format.
func (m *MAC64) Sum(data []byte, macBytes int) ([]byte, error) {
	if macBytes < 0 || macBytes > 8 {
		return nil, fmt.Errorf("mac byte count must be 0-8, got %d", macBytes)
	}
	if macBytes == 0 {
		return nil, nil
	}

	var full uint64
	switch m.backend {
	case MACBackendHMACSHA256:
		h := hmac.New(sha256.New, m.key)
		h.Write(data)
		sum := h.Sum(nil)
		full = binary.LittleEndian.Uint64(sum[:8])
	case MACBackendBLAKE3:
		h := blake3.New(32, m.key)
		h.Write(data)
		sum := h.Sum(nil)
		full = binary.LittleEndian.Uint64(sum[:8])
	default:
		return nil, fmt.Errorf("unsupported mac backend %v", m.backend)
	}

	out := make([]byte, macBytes)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, full)
	copy(out, buf[:macBytes])
	return out, nil
}

// Verify recomputes the MAC over data and compares it to want (both of
// length macBytes). It runs in constant time for the compared width.
func (m *MAC64) Verify(data, want []byte, macBytes int) (bool, error) {
	got, err := m.Sum(data, macBytes)
	if err != nil {
		return false, err
	}
	if len(got) != len(want) {
		return false, nil
	}
	var diff byte
	for i := range got {
		diff |= got[i] ^ want[i]
	}
	return diff == 0, nil
}
