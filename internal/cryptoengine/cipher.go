// Package cryptoengine holds every cryptographic primitive the volume and
// file layers build on: AEAD engines for the per-file header, a CTR-based
// block/stream cipher for block payloads, AES-SIV for deterministic name
// encryption, MAC_64 backends, password KDFs, and HKDF subkey separation.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies the AEAD/block cipher family a volume was created with.
type Suite uint8

const (
	SuiteAuto Suite = iota
	SuiteAES256GCM
	SuiteChaCha20Poly1305
)

func (s Suite) String() string {
	switch s {
	case SuiteAES256GCM:
		return "aes-256-gcm"
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "auto"
	}
}

// AEAD is implemented by every per-file-header cipher engine.
type AEAD interface {
	Encrypt(nonce, plaintext []byte) ([]byte, error)
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// ErrAuthFailed is returned whenever an AEAD open, MAC check, or SIV check
// fails. It deliberately carries no detail about which byte differed.
var ErrAuthFailed = fmt.Errorf("authentication failed - data may be corrupted or tampered")

type aesGCMEngine struct{ aead cipher.AEAD }

// NewAEAD builds the per-file-header AEAD engine for suite using key.
func NewAEAD(suite Suite, key []byte) (AEAD, error) {
	switch suite {
	case SuiteAES256GCM, SuiteAuto:
		return newAESGCM(key)
	case SuiteChaCha20Poly1305:
		return newChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("unsupported cipher suite %v", suite)
	}
}

func newAESGCM(key []byte) (*aesGCMEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &aesGCMEngine{aead: aead}, nil
}

func (e *aesGCMEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *aesGCMEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	pt, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

func (e *aesGCMEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *aesGCMEngine) Overhead() int  { return e.aead.Overhead() }

type chachaEngine struct{ aead cipher.AEAD }

func newChaCha20Poly1305(key []byte) (*chachaEngine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("chacha20-poly1305 requires a %d-byte key, got %d bytes",
			chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("new chacha20poly1305: %w", err)
	}
	return &chachaEngine{aead: aead}, nil
}

func (e *chachaEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *chachaEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	pt, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

func (e *chachaEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *chachaEngine) Overhead() int  { return e.aead.Overhead() }

// GenerateNonce returns a fresh random nonce sized for suite.
func GenerateNonce(suite Suite) ([]byte, error) {
	size := 12
	if suite == SuiteChaCha20Poly1305 {
		size = chacha20poly1305.NonceSize
	}
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
