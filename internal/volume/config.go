// Package volume implements the config and key manager: versioned
// load/save of the on-disk volume config, salted KDF, and data-key
// wrap/unwrap. The current format is a protobuf-wire record (using
// google.golang.org/protobuf's low-level wire helpers directly, since the
// schema is small and stable enough not to need generated message code);
// legacy v4/v5/v6/prehistoric binary records are read for backward
// compatibility but never written.
package volume

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/nametransform"
)

// FormatVersion identifies the on-disk config record shape.
type FormatVersion uint32

const (
	FormatPrehistoric FormatVersion = 3 // no format tag at all, fixed layout
	FormatV4          FormatVersion = 4
	FormatV5          FormatVersion = 5
	FormatV6          FormatVersion = 6
	FormatCurrent     FormatVersion = 7 // protobuf-wire record
)

// ConfigFileName is the well-known location of the volume config relative
// to the backing store's root.
const ConfigFileName = "/.encryptfs.conf"

// Config is the complete, immutable-once-loaded description of a mounted
// volume: cipher choice, block geometry, name codec, KDF parameters, and
// the wrapped data key. Nothing here is secret except WrappedDataKey,
// which is useless without the password.
type Config struct {
	Format FormatVersion

	CipherSuite cryptoengine.Suite
	MACBackend  cryptoengine.MACBackend

	BlockSize int
	MACBytes  int
	RandBytes int
	PerFileIV bool

	NameVariant nametransform.Variant

	// Reverse is always false: reverse-mode (plaintext-on-disk) mounts are
	// not implemented. The field is preserved so a future implementation
	// could add support without another format bump; Open refuses to
	// proceed if it is ever true in a loaded config.
	Reverse bool

	UseArgon2     bool
	KDFSalt       []byte
	KDFIterations uint32
	KDFMemory     uint32
	KDFParallel   uint32
	KDFKeySize    uint32

	WrappedDataKey []byte
	VolumeUUID     []byte // 16 bytes
}

// protobuf field numbers for the current wire format.
const (
	fFormat = iota + 1
	fCipherSuite
	fMACBackend
	fBlockSize
	fMACBytes
	fRandBytes
	fPerFileIV
	fNameVariant
	fReverse
	fUseArgon2
	fKDFSalt
	fKDFIterations
	fKDFMemory
	fKDFParallel
	fKDFKeySize
	fWrappedDataKey
	fVolumeUUID
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	u := uint64(0)
	if v {
		u = 1
	}
	return appendVarintField(b, num, u)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Encode serializes c as the current protobuf-wire format.
func (c *Config) Encode() []byte {
	var b []byte
	b = appendVarintField(b, fFormat, uint64(FormatCurrent))
	b = appendVarintField(b, fCipherSuite, uint64(c.CipherSuite))
	b = appendVarintField(b, fMACBackend, uint64(c.MACBackend))
	b = appendVarintField(b, fBlockSize, uint64(c.BlockSize))
	b = appendVarintField(b, fMACBytes, uint64(c.MACBytes))
	b = appendVarintField(b, fRandBytes, uint64(c.RandBytes))
	b = appendBoolField(b, fPerFileIV, c.PerFileIV)
	b = appendVarintField(b, fNameVariant, uint64(c.NameVariant))
	b = appendBoolField(b, fReverse, c.Reverse)
	b = appendBoolField(b, fUseArgon2, c.UseArgon2)
	b = appendBytesField(b, fKDFSalt, c.KDFSalt)
	b = appendVarintField(b, fKDFIterations, uint64(c.KDFIterations))
	b = appendVarintField(b, fKDFMemory, uint64(c.KDFMemory))
	b = appendVarintField(b, fKDFParallel, uint64(c.KDFParallel))
	b = appendVarintField(b, fKDFKeySize, uint64(c.KDFKeySize))
	b = appendBytesField(b, fWrappedDataKey, c.WrappedDataKey)
	b = appendBytesField(b, fVolumeUUID, c.VolumeUUID)
	return b
}

// DecodeCurrent parses a protobuf-wire record written by Encode.
func DecodeCurrent(b []byte) (*Config, error) {
	c := &Config{Format: FormatCurrent}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("volume: bad config tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("volume: bad config varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fCipherSuite:
				c.CipherSuite = cryptoengine.Suite(v)
			case fMACBackend:
				c.MACBackend = cryptoengine.MACBackend(v)
			case fBlockSize:
				c.BlockSize = int(v)
			case fMACBytes:
				c.MACBytes = int(v)
			case fRandBytes:
				c.RandBytes = int(v)
			case fPerFileIV:
				c.PerFileIV = v != 0
			case fNameVariant:
				c.NameVariant = nametransform.Variant(v)
			case fReverse:
				c.Reverse = v != 0
			case fUseArgon2:
				c.UseArgon2 = v != 0
			case fKDFIterations:
				c.KDFIterations = uint32(v)
			case fKDFMemory:
				c.KDFMemory = uint32(v)
			case fKDFParallel:
				c.KDFParallel = uint32(v)
			case fKDFKeySize:
				c.KDFKeySize = uint32(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("volume: bad config bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fKDFSalt:
				c.KDFSalt = v
			case fWrappedDataKey:
				c.WrappedDataKey = v
			case fVolumeUUID:
				c.VolumeUUID = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("volume: bad config field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return c, nil
}
