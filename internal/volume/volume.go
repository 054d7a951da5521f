package volume

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/blockvault/encryptfs/internal/backingstore"
	"github.com/blockvault/encryptfs/internal/cryptoengine"
	"github.com/blockvault/encryptfs/internal/fserrors"
	"github.com/blockvault/encryptfs/internal/nametransform"
	"github.com/blockvault/encryptfs/internal/securekey"
)

// CreateOptions describes a new volume's geometry and crypto choices.
// Zero-value fields are filled in by whichever preset LoadProfileFile
// resolved, or by Create's own defaults if the caller built CreateOptions
// directly.
type CreateOptions struct {
	Password []byte

	BlockSize int
	MACBytes  int
	RandBytes int
	PerFileIV bool

	CipherSuite cryptoengine.Suite
	MACBackend  cryptoengine.MACBackend
	NameVariant nametransform.Variant

	UseArgon2 bool
}

// Volume is an opened, key-bearing handle to an on-disk encryptfs config.
// DataKey is the unwrapped master key the block pipeline and name codec
// derive their subkeys from; it is destroyed by Close.
type Volume struct {
	Config  *Config
	Subkeys *cryptoengine.Subkeys
	DataKey *securekey.Bytes

	// RootChainIV seeds nametransform's path-component chaining, derived
	// from the volume UUID so two volumes sharing a password still encode
	// names into disjoint namespaces.
	RootChainIV uint64
}

// Close destroys the in-memory key material. The on-disk config is
// untouched.
func (v *Volume) Close() {
	if v.DataKey != nil {
		v.DataKey.Destroy()
	}
}

func defaultCreateOptions(o CreateOptions) CreateOptions {
	if o.BlockSize == 0 {
		o.BlockSize = 4096
	}
	if o.RandBytes == 0 {
		o.RandBytes = 8
	}
	if o.CipherSuite == cryptoengine.SuiteAuto {
		o.CipherSuite = cryptoengine.SuiteAES256GCM
	}
	return o
}

// Create initializes a brand-new volume: generates a random master data
// key and a volume UUID, wraps the data key under a password-derived KEK,
// and writes the config record to fs at ConfigFileName.
func Create(fs backingstore.FileSystem, opts CreateOptions) (*Volume, error) {
	opts = defaultCreateOptions(opts)
	if len(opts.Password) == 0 {
		return nil, fserrors.New(fserrors.InvalidArgument, "Create", ConfigFileName, fmt.Errorf("empty password"))
	}

	dataKey, err := cryptoengine.RandomBytes(32)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Create", ConfigFileName, err)
	}

	volUUID := uuid.New()

	kp, salt, err := newPasswordProvider(opts)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Create", ConfigFileName, err)
	}
	kek, err := kp.DeriveKey(salt)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Create", ConfigFileName, err)
	}

	wrapped, err := cryptoengine.WrapKey(opts.CipherSuite, kek, dataKey)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Create", ConfigFileName, err)
	}

	cfg := &Config{
		Format:         FormatCurrent,
		CipherSuite:    opts.CipherSuite,
		MACBackend:     opts.MACBackend,
		BlockSize:      opts.BlockSize,
		MACBytes:       opts.MACBytes,
		RandBytes:      opts.RandBytes,
		PerFileIV:      opts.PerFileIV,
		NameVariant:    opts.NameVariant,
		Reverse:        false,
		UseArgon2:      opts.UseArgon2,
		KDFSalt:        salt,
		WrappedDataKey: wrapped,
		VolumeUUID:     volUUID[:],
	}
	if opts.UseArgon2 {
		cfg.KDFIterations = 3
		cfg.KDFMemory = 64 * 1024
		cfg.KDFParallel = 4
		cfg.KDFKeySize = 32
	} else {
		cfg.KDFIterations = 100000
		cfg.KDFKeySize = 32
	}

	if err := writeConfig(fs, cfg); err != nil {
		return nil, err
	}

	return newVolumeHandle(cfg, dataKey)
}

// Open loads an existing volume's config and unwraps its data key under
// password, trying the current format then falling back through v6, v5,
// v4, and finally the prehistoric layout in turn. It refuses to proceed if the loaded config has Reverse
// set, since reverse-mode mounts are not implemented.
func Open(fs backingstore.FileSystem, password []byte) (*Volume, error) {
	cfg, err := readConfig(fs)
	if err != nil {
		return nil, err
	}
	if cfg.Reverse {
		return nil, fserrors.New(fserrors.Unsupported, "Open", ConfigFileName,
			fmt.Errorf("reverse-mode volumes are not supported"))
	}

	kp := passwordProviderFor(cfg, password)
	kek, err := kp.DeriveKey(cfg.KDFSalt)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Open", ConfigFileName, err)
	}

	dataKey, err := cryptoengine.UnwrapKey(cfg.CipherSuite, kek, cfg.WrappedDataKey)
	if err != nil {
		if err == cryptoengine.ErrBadPassword {
			return nil, fserrors.New(fserrors.BadPassword, "Open", ConfigFileName, err)
		}
		return nil, fserrors.New(fserrors.CryptoFailure, "Open", ConfigFileName, err)
	}

	return newVolumeHandle(cfg, dataKey)
}

func newVolumeHandle(cfg *Config, dataKey []byte) (*Volume, error) {
	subkeys, err := cryptoengine.DeriveSubkeys(dataKey, cfg.KDFSalt)
	if err != nil {
		return nil, fserrors.New(fserrors.CryptoFailure, "Open", ConfigFileName, err)
	}

	var rootIV uint64
	if len(cfg.VolumeUUID) >= 8 {
		rootIV = binary.BigEndian.Uint64(cfg.VolumeUUID[:8])
	}

	return &Volume{
		Config:      cfg,
		Subkeys:     subkeys,
		DataKey:     securekey.New(dataKey),
		RootChainIV: rootIV,
	}, nil
}

// Rewrap re-derives a KEK from newPassword (with the volume's existing salt
// and KDF parameters), re-wraps v's existing data key under it, and writes
// the updated config back to fs. The data key and every subkey derived
// from it are unchanged, so no file content needs re-encrypting.
func (v *Volume) Rewrap(fs backingstore.FileSystem, newPassword []byte) error {
	if len(newPassword) == 0 {
		return fserrors.New(fserrors.InvalidArgument, "Rewrap", ConfigFileName, fmt.Errorf("empty password"))
	}

	// The salt is kept: DeriveSubkeys binds every subkey to it.
	kp := passwordProviderFor(v.Config, newPassword)
	kek, err := kp.DeriveKey(v.Config.KDFSalt)
	if err != nil {
		return fserrors.New(fserrors.CryptoFailure, "Rewrap", ConfigFileName, err)
	}

	wrapped, err := cryptoengine.WrapKey(v.Config.CipherSuite, kek, v.DataKey.Get())
	if err != nil {
		return fserrors.New(fserrors.CryptoFailure, "Rewrap", ConfigFileName, err)
	}

	newCfg := *v.Config
	newCfg.WrappedDataKey = wrapped
	if err := writeConfig(fs, &newCfg); err != nil {
		return err
	}
	v.Config = &newCfg
	return nil
}

func newPasswordProvider(opts CreateOptions) (*cryptoengine.PasswordKeyProvider, []byte, error) {
	var kp *cryptoengine.PasswordKeyProvider
	if opts.UseArgon2 {
		kp = cryptoengine.NewPasswordKeyProvider(opts.Password, cryptoengine.Argon2idParams{})
	} else {
		kp = cryptoengine.NewPasswordKeyProviderPBKDF2(opts.Password, cryptoengine.PBKDF2Params{})
	}
	salt, err := kp.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	return kp, salt, nil
}

func passwordProviderFor(cfg *Config, password []byte) *cryptoengine.PasswordKeyProvider {
	if cfg.UseArgon2 {
		return cryptoengine.NewPasswordKeyProvider(password, cryptoengine.Argon2idParams{
			Memory:      cfg.KDFMemory,
			Iterations:  cfg.KDFIterations,
			Parallelism: uint8(cfg.KDFParallel),
			KeySize:     int(cfg.KDFKeySize),
		})
	}
	return cryptoengine.NewPasswordKeyProviderPBKDF2(password, cryptoengine.PBKDF2Params{
		Iterations: int(cfg.KDFIterations),
		KeySize:    int(cfg.KDFKeySize),
	})
}

// NewNameCodec builds the nametransform.Codec a mounted volume uses,
// keyed off v's derived name subkey and chained from its volume UUID.
func (v *Volume) NewNameCodec() (*nametransform.Codec, error) {
	return nametransform.NewCodec(v.Config.NameVariant, v.Subkeys.Name, v.RootChainIV)
}

func writeConfig(fs backingstore.FileSystem, cfg *Config) error {
	f, err := fs.OpenFile(ConfigFileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fserrors.New(fserrors.IoError, "writeConfig", ConfigFileName, err)
	}
	defer f.Close()

	b := cfg.Encode()
	if _, err := f.Write(b); err != nil {
		return fserrors.New(fserrors.IoError, "writeConfig", ConfigFileName, err)
	}
	return nil
}

func readConfig(fs backingstore.FileSystem) (*Config, error) {
	f, err := fs.Open(ConfigFileName)
	if err != nil {
		return nil, fserrors.New(fserrors.ConfigMissing, "readConfig", ConfigFileName, err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fserrors.New(fserrors.IoError, "readConfig", ConfigFileName, err)
	}

	// Formats are tried current first, then v6, v5, v4. A v4-v6 record's
	// magic prefix does not parse as protobuf wire data, so it falls
	// through to its legacy decoder. Prehistoric carries no identifying
	// prefix at all and is tried only once every self-identifying format
	// has failed to match.
	if len(b) > 0 {
		if cfg, err := DecodeCurrent(b); err == nil {
			return cfg, nil
		}
	}
	if cfg, err := decodeLegacyV6(b); err == nil {
		return cfg, nil
	}
	if cfg, err := decodeLegacyV5(b); err == nil {
		return cfg, nil
	}
	if cfg, err := decodeLegacyV4(b); err == nil {
		return cfg, nil
	}
	if cfg, err := decodeLegacyPrehistoric(b); err == nil {
		return cfg, nil
	}
	return nil, fserrors.New(fserrors.ConfigCorrupt, "readConfig", ConfigFileName,
		fmt.Errorf("unrecognized config format"))
}
