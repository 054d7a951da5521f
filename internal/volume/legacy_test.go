package volume

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/blockvault/encryptfs/internal/nametransform"
)

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendLenPrefixed(b []byte, v []byte) []byte {
	b = appendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func buildLegacyRecord(magic []byte, format FormatVersion, blockSize uint32, macBytes, randBytes, nameVariant, perFileIV uint8, salt, key []byte) []byte {
	var b []byte
	b = append(b, magic...)
	b = appendUint32(b, blockSize)
	if format >= FormatV5 {
		b = append(b, macBytes, randBytes)
	}
	if format >= FormatV6 {
		b = append(b, nameVariant, perFileIV)
	}
	b = appendLenPrefixed(b, salt)
	b = appendLenPrefixed(b, key)
	return b
}

func TestDecodeLegacyV4V5V6(t *testing.T) {
	salt := []byte("some-salt")
	key := []byte("wrapped-data-key")

	cases := []struct {
		name   string
		magic  []byte
		format FormatVersion
		decode func([]byte) (*Config, error)
	}{
		{"v4", magicV4, FormatV4, decodeLegacyV4},
		{"v5", magicV5, FormatV5, decodeLegacyV5},
		{"v6", magicV6, FormatV6, decodeLegacyV6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := buildLegacyRecord(tc.magic, tc.format, 4096, 4, 8, uint8(nametransform.VariantStream), 1, salt, key)
			cfg, err := tc.decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if cfg.Format != tc.format {
				t.Fatalf("Format = %v, want %v", cfg.Format, tc.format)
			}
			if cfg.BlockSize != 4096 {
				t.Fatalf("BlockSize = %d, want 4096", cfg.BlockSize)
			}
			if !bytes.Equal(cfg.KDFSalt, salt) {
				t.Fatalf("KDFSalt = %q, want %q", cfg.KDFSalt, salt)
			}
			if !bytes.Equal(cfg.WrappedDataKey, key) {
				t.Fatalf("WrappedDataKey = %q, want %q", cfg.WrappedDataKey, key)
			}
			if tc.format >= FormatV6 {
				if cfg.NameVariant != nametransform.VariantStream {
					t.Fatalf("NameVariant = %v, want VariantStream", cfg.NameVariant)
				}
				if !cfg.PerFileIV {
					t.Fatal("PerFileIV = false, want true")
				}
			}
		})
	}
}

func TestDecodeLegacyRejectsWrongMagic(t *testing.T) {
	b := buildLegacyRecord(magicV5, FormatV5, 4096, 4, 8, 0, 0, []byte("s"), []byte("k"))
	if _, err := decodeLegacyV4(b); err == nil {
		t.Fatal("expected decodeLegacyV4 to reject a v5 record")
	}
}

func TestDecodeLegacyPrehistoric(t *testing.T) {
	salt := []byte("old-salt")
	key := []byte("old-wrapped-key")

	var b []byte
	b = appendUint32(b, 2048)
	b = appendLenPrefixed(b, salt)
	b = appendLenPrefixed(b, key)

	cfg, err := decodeLegacyPrehistoric(b)
	if err != nil {
		t.Fatalf("decodeLegacyPrehistoric: %v", err)
	}
	if cfg.Format != FormatPrehistoric {
		t.Fatalf("Format = %v, want FormatPrehistoric", cfg.Format)
	}
	if cfg.BlockSize != 2048 {
		t.Fatalf("BlockSize = %d, want 2048", cfg.BlockSize)
	}
	if !bytes.Equal(cfg.KDFSalt, salt) || !bytes.Equal(cfg.WrappedDataKey, key) {
		t.Fatal("prehistoric record's salt/key did not round trip")
	}
}

func TestFormatConstantsAreDistinct(t *testing.T) {
	seen := map[FormatVersion]bool{}
	for _, f := range []FormatVersion{FormatPrehistoric, FormatV4, FormatV5, FormatV6, FormatCurrent} {
		if seen[f] {
			t.Fatalf("format value %d reused by more than one FormatVersion constant", f)
		}
		seen[f] = true
	}
}

func TestReadConfigFallsBackThroughLegacyFormats(t *testing.T) {
	fs := newBackingFS(t)

	salt := []byte("legacy-salt-bytes")
	key := []byte("legacy-wrapped-data-key-bytes")
	b := buildLegacyRecord(magicV6, FormatV6, 8192, 4, 8, uint8(nametransform.VariantBlock), 0, salt, key)

	f, err := fs.Create(ConfigFileName)
	if err != nil {
		t.Fatalf("Create config file: %v", err)
	}
	if _, err := f.Write(b); err != nil {
		t.Fatalf("Write config file: %v", err)
	}
	f.Close()

	cfg, err := readConfig(fs)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.Format != FormatV6 {
		t.Fatalf("Format = %v, want FormatV6", cfg.Format)
	}
	if cfg.BlockSize != 8192 {
		t.Fatalf("BlockSize = %d, want 8192", cfg.BlockSize)
	}
}
