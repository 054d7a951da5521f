package volume

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/nametransform"
)

// Profile is a human-editable bootstrap file selecting one of the built-in
// security/performance presets, or overriding individual fields. Loading a
// profile never touches the volume itself; it only fills in CreateOptions
// before Create runs, the way a deploy tool picks a config template before
// provisioning. Grounded on the pack's YAML-config bootstrap pattern.
type Profile struct {
	Name      string `yaml:"profile"`
	BlockSize int    `yaml:"block_size,omitempty"`
	MACBytes  int    `yaml:"mac_bytes,omitempty"`
	RandBytes int    `yaml:"rand_bytes,omitempty"`
	PerFileIV *bool  `yaml:"per_file_iv,omitempty"`
	Cipher    string `yaml:"cipher,omitempty"`
	MAC       string `yaml:"mac,omitempty"`
	NameMode  string `yaml:"name_mode,omitempty"`
	Argon2    *bool  `yaml:"argon2,omitempty"`
}

// Built-in presets. standard favors throughput with CTR content
// encryption and HMAC-SHA256 block MACs; paranoia trades some speed for
// BLAKE3 MACs, a wider MAC field, and mandatory per-file IV headers.
var presets = map[string]CreateOptions{
	"standard": {
		BlockSize:   4096,
		MACBytes:    4,
		RandBytes:   8,
		PerFileIV:   true,
		CipherSuite: cryptoengine.SuiteAES256GCM,
		MACBackend:  cryptoengine.MACBackendHMACSHA256,
		NameVariant: nametransform.VariantBlock,
		UseArgon2:   true,
	},
	"paranoia": {
		BlockSize:   4096,
		MACBytes:    8,
		RandBytes:   16,
		PerFileIV:   true,
		CipherSuite: cryptoengine.SuiteChaCha20Poly1305,
		MACBackend:  cryptoengine.MACBackendBLAKE3,
		NameVariant: nametransform.VariantBlock,
		UseArgon2:   true,
	},
}

// LoadProfileFile reads and parses a YAML profile bootstrap file from the
// host filesystem (not the encrypted volume), returning CreateOptions
// derived from its named preset with any explicit field overrides applied.
func LoadProfileFile(path string) (CreateOptions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return CreateOptions{}, fmt.Errorf("volume: read profile: %w", err)
	}
	return ParseProfile(b)
}

// ParseProfile decodes a YAML profile document already read into memory.
func ParseProfile(b []byte) (CreateOptions, error) {
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return CreateOptions{}, fmt.Errorf("volume: parse profile: %w", err)
	}

	name := p.Name
	if name == "" {
		name = "standard"
	}
	opts, ok := presets[name]
	if !ok {
		return CreateOptions{}, fmt.Errorf("volume: unknown profile %q", name)
	}

	if p.BlockSize != 0 {
		opts.BlockSize = p.BlockSize
	}
	if p.MACBytes != 0 {
		opts.MACBytes = p.MACBytes
	}
	if p.RandBytes != 0 {
		opts.RandBytes = p.RandBytes
	}
	if p.PerFileIV != nil {
		opts.PerFileIV = *p.PerFileIV
	}
	if p.Argon2 != nil {
		opts.UseArgon2 = *p.Argon2
	}
	if p.Cipher != "" {
		switch p.Cipher {
		case "aes-gcm":
			opts.CipherSuite = cryptoengine.SuiteAES256GCM
		case "chacha20-poly1305":
			opts.CipherSuite = cryptoengine.SuiteChaCha20Poly1305
		default:
			return CreateOptions{}, fmt.Errorf("volume: unknown cipher %q", p.Cipher)
		}
	}
	if p.MAC != "" {
		switch p.MAC {
		case "hmac-sha256":
			opts.MACBackend = cryptoengine.MACBackendHMACSHA256
		case "blake3":
			opts.MACBackend = cryptoengine.MACBackendBLAKE3
		default:
			return CreateOptions{}, fmt.Errorf("volume: unknown mac backend %q", p.MAC)
		}
	}
	if p.NameMode != "" {
		switch p.NameMode {
		case "null":
			opts.NameVariant = nametransform.VariantNull
		case "block":
			opts.NameVariant = nametransform.VariantBlock
		case "stream":
			opts.NameVariant = nametransform.VariantStream
		default:
			return CreateOptions{}, fmt.Errorf("volume: unknown name mode %q", p.NameMode)
		}
	}
	return opts, nil
}
