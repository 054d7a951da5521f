package cryptoengine

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// HashFunc selects the PBKDF2 hash function.
type HashFunc uint8

const (
	SHA256 HashFunc = iota
	SHA512
)

// PBKDF2Params configures PBKDF2-based key derivation.
type PBKDF2Params struct {
	Iterations int
	SaltSize   int
	KeySize    int
	HashFunc   HashFunc
}

// Argon2idParams configures Argon2id-based key derivation, the default and
// recommended KDF for new volumes.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltSize   int
	KeySize    int
}

// KeyProvider derives a volume key from a salt. Implementations hold
// whatever secret material (password, env var) the derivation needs.
type KeyProvider interface {
	DeriveKey(salt []byte) ([]byte, error)
	GenerateSalt() ([]byte, error)
}

// PasswordKeyProvider derives keys from a user password via PBKDF2 or,
// preferably, Argon2id.
type PasswordKeyProvider struct {
	password     []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPasswordKeyProviderPBKDF2 builds a PBKDF2-backed provider.
func NewPasswordKeyProviderPBKDF2(password []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, pbkdf2Params: params}
}

// NewPasswordKeyProvider builds an Argon2id-backed provider (recommended).
func NewPasswordKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, useArgon2id: true, argon2Params: params}
}

func (p *PasswordKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}

	if p.useArgon2id {
		return argon2.IDKey(p.password, salt, p.argon2Params.Iterations, p.argon2Params.Memory,
			p.argon2Params.Parallelism, uint32(p.argon2Params.KeySize)), nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", p.pbkdf2Params.HashFunc)
	}
	return pbkdf2.Key(p.password, salt, p.pbkdf2Params.Iterations, p.pbkdf2Params.KeySize, hashFunc), nil
}

func (p *PasswordKeyProvider) GenerateSalt() ([]byte, error) {
	saltSize := p.pbkdf2Params.SaltSize
	if p.useArgon2id {
		saltSize = p.argon2Params.SaltSize
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a pre-derived 32-byte key from an environment
// variable, bypassing password-based KDF entirely.
type EnvKeyProvider struct {
	envVar   string
	saltSize int
}

func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar, saltSize: 32}
}

func (e *EnvKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	raw := os.Getenv(e.envVar)
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s not set", e.envVar)
	}
	key := []byte(raw)
	if len(key) != 32 {
		return nil, fmt.Errorf("key from environment variable must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (e *EnvKeyProvider) GenerateSalt() ([]byte, error) {
	salt := make([]byte, e.saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Subkeys holds the three independent keys derived off one master key:
// data (block payload encryption), name (filename encryption), and mac
// (block integrity). Separating them by HKDF info string replaces the
// teacher's ad-hoc XOR-based derivation with a real KDF construction.
type Subkeys struct {
	Data []byte
	Name []byte
	MAC  []byte
}

// DeriveSubkeys expands master (the volume's unwrapped data key) into three
// independent 32-byte subkeys via HKDF-SHA256, each bound to volumeSalt and
// a distinct info label so compromise of one subkey reveals nothing about
// the others.
func DeriveSubkeys(master, volumeSalt []byte) (*Subkeys, error) {
	derive := func(info string) ([]byte, error) {
		r := hkdf.New(sha256.New, master, volumeSalt, []byte(info))
		out := make([]byte, 32)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("hkdf expand %s: %w", info, err)
		}
		return out, nil
	}

	data, err := derive("encryptfs-data-key-v1")
	if err != nil {
		return nil, err
	}
	name, err := derive("encryptfs-name-key-v1")
	if err != nil {
		return nil, err
	}
	mac, err := derive("encryptfs-mac-key-v1")
	if err != nil {
		return nil, err
	}
	return &Subkeys{Data: data, Name: name, MAC: mac}, nil
}

// wrapCheckValue is prepended to the data key before wrapping so Unwrap can
// distinguish a bad password (the check value won't decode) from other
// corruption.
var wrapCheckValue = []byte("ENCRYPTFS-KEY-OK")

// WrapKey encrypts dataKey under kek (the volume key derived from a
// password), embedding a known check value so UnwrapKey can report a bad
// password distinctly from generic corruption.
func WrapKey(suite Suite, kek, dataKey []byte) ([]byte, error) {
	aead, err := NewAEAD(suite, kek)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce(suite)
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte{}, wrapCheckValue...), dataKey...)
	ct, err := aead.Encrypt(nonce, payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(nonce)+len(ct))
	copy(out, nonce)
	copy(out[len(nonce):], ct)
	return out, nil
}

// ErrBadPassword is returned by UnwrapKey when the kek fails to decrypt the
// wrapped key, almost always because the password was wrong.
var ErrBadPassword = errors.New("incorrect password or corrupt key blob")

// UnwrapKey decrypts a key blob produced by WrapKey.
func UnwrapKey(suite Suite, kek, wrapped []byte) ([]byte, error) {
	aead, err := NewAEAD(suite, kek)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(wrapped) < n {
		return nil, fmt.Errorf("wrapped key blob too short")
	}
	nonce, ct := wrapped[:n], wrapped[n:]
	payload, err := aead.Decrypt(nonce, ct)
	if err != nil {
		return nil, ErrBadPassword
	}
	if len(payload) < len(wrapCheckValue) {
		return nil, ErrBadPassword
	}
	for i, b := range wrapCheckValue {
		if payload[i] != b {
			return nil, ErrBadPassword
		}
	}
	return payload[len(wrapCheckValue):], nil
}
