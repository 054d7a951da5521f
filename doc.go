// Package encryptfs implements a transparent, block-encrypting filesystem
// overlay on top of github.com/absfs/absfs: every file is split into
// fixed-size plaintext blocks, each block is MAC'd and cipher-transformed
// independently with an IV chained from the file's own random per-file IV
// and its block number, and every path component is encrypted through a
// chained filename codec so renaming a directory invalidates (and
// triggers re-encoding of) every descendant name.
//
// # Overview
//
// encryptfs.FS implements absfs.FileSystem, wrapping any absfs-compatible
// backing store. Opening a file returns an absfs.File backed by an
// internal/blockfile pipeline (blockfile -> cipherfile -> macfile ->
// rawfile) instead of buffering the whole plaintext file in memory.
//
// # Supported cipher suites
//
//   - AES-256-GCM: per-file IV header AEAD
//   - ChaCha20-Poly1305: alternative per-file IV header AEAD
//   - AES-CTR: per-block content cipher (block and stream mode share one
//     transform, since CTR is length-preserving and self-inverse)
//
// Block integrity is a keyed MAC truncated to 0-8 bytes (HMAC-SHA256 or
// BLAKE3), computed over the random per-block prefix and the plaintext, so
// a flipped ciphertext bit is detected on decrypt unless the ForceDecode
// policy is set.
//
// # Basic usage
//
//	base, _ := memfs.NewFS()
//	fs, err := encryptfs.New(base, &encryptfs.Config{
//		Password: []byte("correct horse battery staple"),
//		Profile:  "standard",
//	})
//	if err != nil {
//		panic(err)
//	}
//	defer fs.Close()
//
//	f, _ := fs.Create("/secret.txt")
//	f.WriteString("written in plaintext, stored as encrypted blocks")
//	f.Close()
//
// # Security considerations
//
// Protected against: unauthorized access to encrypted files at rest,
// ciphertext tampering (per-block MAC), offline brute-force of the
// password (Argon2id/PBKDF2 with configurable cost).
//
// Not protected against: memory dumps while files are decrypted in
// memory, side-channel attacks, compromised hosts, metadata leakage (exact
// file sizes are recoverable from the on-disk sizes, access patterns,
// directory shape).
//
// # Volume config
//
// New creates a volume (writing /.encryptfs.conf to the backing store) if
// none exists yet, or opens an existing one, unwrapping its data key under
// the supplied password. See internal/volume for the on-disk format and
// legacy version fallback order.
//
// # Non-goals
//
// Mount lifecycle, signal handling, daemonization, idle unmount policy,
// network/multi-host coordination, and reverse-mode (plaintext-on-disk,
// ciphertext-view) mounts are out of scope; this package is a library, not
// a FUSE daemon.
package encryptfs
