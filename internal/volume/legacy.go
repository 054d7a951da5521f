package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/nametransform"
)

// Legacy config records predate the protobuf-wire current format. v4, v5,
// and v6 are fixed binary layouts distinguished by a magic prefix;
// prehistoric predates the magic prefix entirely and must be tried last,
// since nothing about its bytes identifies it as its own format. This
// module only ever reads these records, for mounting volumes created by
// older builds, and never writes them again. The exact field additions are
// not recoverable from the retrieval pack (no original-format source was
// available to consult), so these layouts are a plausible, clearly
// superseded reconstruction: each version only adds fields, matching how
// the current format's own superset of fields evolved.
var (
	magicV4 = []byte("ENCFSCF4")
	magicV5 = []byte("ENCFSCF5")
	magicV6 = []byte("ENCFSCF6")
)

// decodeLegacyPrehistoric parses the oldest config record shape: no magic,
// no format tag, just a block size followed by the salt and wrapped key,
// each length-prefixed. Because it carries no magic to check, callers must
// only try it after every later, self-identifying format has failed to
// match.
func decodeLegacyPrehistoric(b []byte) (*Config, error) {
	r := bytes.NewReader(b)

	var blockSize uint32
	if err := binary.Read(r, binary.BigEndian, &blockSize); err != nil {
		return nil, fmt.Errorf("volume: prehistoric block size: %w", err)
	}
	if blockSize == 0 || blockSize > 1<<20 {
		return nil, fmt.Errorf("volume: prehistoric block size %d out of range", blockSize)
	}

	c := &Config{
		Format:      FormatPrehistoric,
		CipherSuite: cryptoengine.SuiteAES256GCM,
		MACBackend:  cryptoengine.MACBackendHMACSHA256,
		BlockSize:   int(blockSize),
		NameVariant: nametransform.VariantBlock,
		MACBytes:    8,
		RandBytes:   8,
	}

	saltLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("volume: prehistoric salt length: %w", err)
	}
	c.KDFSalt = make([]byte, saltLen)
	if _, err := io.ReadFull(r, c.KDFSalt); err != nil {
		return nil, fmt.Errorf("volume: prehistoric salt: %w", err)
	}

	keyLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("volume: prehistoric wrapped key length: %w", err)
	}
	c.WrappedDataKey = make([]byte, keyLen)
	if _, err := io.ReadFull(r, c.WrappedDataKey); err != nil {
		return nil, fmt.Errorf("volume: prehistoric wrapped key: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("volume: prehistoric record has %d trailing bytes", r.Len())
	}

	c.UseArgon2 = false
	c.KDFIterations = 200000
	c.KDFKeySize = 32
	return c, nil
}

func decodeLegacyV4(b []byte) (*Config, error) {
	return decodeLegacyBase(b, magicV4, FormatV4)
}

func decodeLegacyV5(b []byte) (*Config, error) {
	return decodeLegacyBase(b, magicV5, FormatV5)
}

func decodeLegacyV6(b []byte) (*Config, error) {
	return decodeLegacyBase(b, magicV6, FormatV6)
}

// decodeLegacyBase parses the common prefix shared by v4-v6, then reads
// the extra fields each later version added.
func decodeLegacyBase(b []byte, magic []byte, format FormatVersion) (*Config, error) {
	if len(b) < len(magic) || !bytes.Equal(b[:len(magic)], magic) {
		return nil, fmt.Errorf("volume: not a %s record", magic)
	}
	r := bytes.NewReader(b[len(magic):])

	var blockSize uint32
	if err := binary.Read(r, binary.BigEndian, &blockSize); err != nil {
		return nil, fmt.Errorf("volume: legacy block size: %w", err)
	}

	c := &Config{
		Format:      format,
		CipherSuite: cryptoengine.SuiteAES256GCM,
		MACBackend:  cryptoengine.MACBackendHMACSHA256,
		BlockSize:   int(blockSize),
		NameVariant: nametransform.VariantBlock,
	}

	if format >= FormatV5 {
		var macBytes, randBytes uint8
		if err := binary.Read(r, binary.BigEndian, &macBytes); err != nil {
			return nil, fmt.Errorf("volume: legacy mac bytes: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &randBytes); err != nil {
			return nil, fmt.Errorf("volume: legacy rand bytes: %w", err)
		}
		c.MACBytes = int(macBytes)
		c.RandBytes = int(randBytes)
	}

	if format >= FormatV6 {
		var nameVariant, perFileIV uint8
		if err := binary.Read(r, binary.BigEndian, &nameVariant); err != nil {
			return nil, fmt.Errorf("volume: legacy name variant: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &perFileIV); err != nil {
			return nil, fmt.Errorf("volume: legacy per-file iv: %w", err)
		}
		c.NameVariant = nametransform.Variant(nameVariant)
		c.PerFileIV = perFileIV != 0
	}

	saltLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("volume: legacy salt length: %w", err)
	}
	c.KDFSalt = make([]byte, saltLen)
	if _, err := io.ReadFull(r, c.KDFSalt); err != nil {
		return nil, fmt.Errorf("volume: legacy salt: %w", err)
	}

	keyLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("volume: legacy wrapped key length: %w", err)
	}
	c.WrappedDataKey = make([]byte, keyLen)
	if _, err := io.ReadFull(r, c.WrappedDataKey); err != nil {
		return nil, fmt.Errorf("volume: legacy wrapped key: %w", err)
	}

	// Legacy volumes always used PBKDF2; Argon2id is a current-format-only
	// option.
	c.UseArgon2 = false
	c.KDFIterations = 200000
	c.KDFKeySize = 32
	return c, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
