package encryptfs

import (
	"go.uber.org/zap"

	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/nametransform"
	"github.com/blockvault/encryptfs/internal/volume"
)

// Config configures New: either the creation of a brand-new volume or the
// opening of an existing one. Password, Logger, and ForceDecode apply
// either way; the remaining fields only matter for Create (they are read
// back from the volume's own config on Open) and default to the
// "standard" profile's values when zero.
type Config struct {
	Password []byte

	// Profile names a built-in preset (internal/volume's "standard" or
	// "paranoia") applied before any of the fields below override it.
	// Empty means "standard".
	Profile string

	BlockSize int
	MACBytes  int
	RandBytes int
	PerFileIV bool

	// CipherSuite, MACBackend, and NameVariant are pointers so an explicit
	// zero value (SuiteAuto is the only zero Suite, but MACBackendHMACSHA256
	// and VariantNull are both meaningful, not "unset") can still override
	// the profile default; nil means "leave the profile's choice alone".
	CipherSuite *cryptoengine.Suite
	MACBackend  *cryptoengine.MACBackend
	NameVariant *nametransform.Variant
	UseArgon2   bool

	// Logger receives structured events from the tree layer.
	// Nil defaults to a no-op logger.
	Logger *zap.SugaredLogger

	// ForceDecode makes every read tolerate a block whose MAC fails to
	// verify, returning its (untrustworthy) plaintext instead of an error.
	// It is a degraded recovery mode for pulling data out of a partially
	// corrupt volume and is never implied by any profile.
	ForceDecode bool
}

func (c *Config) toCreateOptions() (volume.CreateOptions, error) {
	base := presetOrDefault(c.Profile)
	base.Password = c.Password

	if c.BlockSize != 0 {
		base.BlockSize = c.BlockSize
	}
	if c.MACBytes != 0 {
		base.MACBytes = c.MACBytes
	}
	if c.RandBytes != 0 {
		base.RandBytes = c.RandBytes
	}
	if c.PerFileIV {
		base.PerFileIV = true
	}
	if c.CipherSuite != nil {
		base.CipherSuite = *c.CipherSuite
	}
	if c.MACBackend != nil {
		base.MACBackend = *c.MACBackend
	}
	if c.NameVariant != nil {
		base.NameVariant = *c.NameVariant
	}
	if c.UseArgon2 {
		base.UseArgon2 = true
	}
	return base, nil
}

func presetOrDefault(profile string) volume.CreateOptions {
	name := profile
	if name == "" {
		name = "standard"
	}
	if opts, err := volume.ParseProfile([]byte("profile: " + name)); err == nil {
		return opts
	}
	opts, _ := volume.ParseProfile([]byte("profile: standard"))
	return opts
}
