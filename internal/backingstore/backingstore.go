// Package backingstore narrows github.com/absfs/absfs to the operations
// the encrypting filesystem actually needs, and adds a capability probe
// for the POSIX extensions (chmod/chown/chtimes). The probe reports all
// three for any absfs.FileSystem; it does not detect backends that treat
// them as no-ops.
package backingstore

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// FileSystem is the subset of absfs.FileSystem the tree controller drives.
// Re-exporting it (rather than depending on absfs directly throughout the
// module) keeps the backing-store contract in one place, the way the
// teacher's EncryptFS held a single absfs.FileSystem field.
type FileSystem = absfs.FileSystem

// File is the subset of absfs.File the cipherfile/tree layers drive.
type File = absfs.File

// Capabilities records which POSIX extensions a base filesystem honors.
// An in-memory backing store (memfs) typically implements the methods but
// treats them as no-ops; a real OS-backed store enforces them. Checked
// before the root package exposes Chmod/Chown/Chtimes to callers.
type Capabilities struct {
	Chmod   bool
	Chown   bool
	Chtimes bool
}

// chownCapable is the Chown method set Probe asserts on. absfs.FileSystem
// always declares the method, so every FileSystem satisfies it, including
// backends that treat it as a no-op.
type chownCapable interface {
	Chown(name string, uid, gid int) error
}

// Probe returns the capabilities base is reported to offer. Because
// absfs.FileSystem declares Chmod/Chown/Chtimes unconditionally, all three
// are reported true for every base; no-op implementations are not told
// apart from real ones.
func Probe(base FileSystem) Capabilities {
	_, chownOK := base.(chownCapable)
	return Capabilities{
		Chmod:   true,
		Chown:   chownOK,
		Chtimes: true,
	}
}

// Stat, Chmod, Chtimes, Chown are thin pass-throughs kept here so callers
// don't need to import os/time alongside absfs just to call them.
type (
	FileMode = os.FileMode
	FileInfo = os.FileInfo
	Time     = time.Time
)
