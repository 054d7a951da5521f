package tree

import (
	"path"
	"weak"

	"github.com/blockvault/encryptfs/internal/fserrors"
)

// Renaming a directory changes the chain IV its descendants were encoded
// under (nextChain is a function of the renamed component's own
// ciphertext/plaintext), so every descendant's on-disk name must be
// re-encoded to match. journalEntry records one on-disk rename already
// applied, so a mid-cascade failure can be rolled back by renaming each
// entry back in reverse order -- spec.md's rename-cascade-with-rollback
// requirement, implemented here as an explicit in-memory journal rather
// than relying on the backing store for atomicity across many renames.
type journalEntry struct {
	oldCipher string
	newCipher string
}

func (c *Controller) rollback(journal []journalEntry) {
	for i := len(journal) - 1; i >= 0; i-- {
		e := journal[i]
		if err := c.base.Rename(e.newCipher, e.oldCipher); err != nil {
			c.log.Errorw("rename rollback failed, volume may need manual repair",
				"old", e.oldCipher, "new", e.newCipher, "err", err)
		}
	}
}

// Rename moves oldPlain to newPlain. Files rename in one step; directories
// rename the directory entry itself, then cascade-rename every descendant
// so its on-disk name matches the chain IV rooted at the new path, rolling
// back everything already renamed if any step fails.
func (c *Controller) Rename(oldPlain, newPlain string) error {
	oldCipher, err := c.codec.EncodePath(oldPlain)
	if err != nil {
		return fserrors.New(fserrors.InvalidArgument, "Rename", oldPlain, err)
	}
	newCipher, err := c.codec.EncodePath(newPlain)
	if err != nil {
		return fserrors.New(fserrors.InvalidArgument, "Rename", newPlain, err)
	}

	info, err := c.base.Stat(oldCipher)
	if err != nil {
		return fserrors.New(fserrors.NotFound, "Rename", oldPlain, err)
	}

	if !info.IsDir() {
		if err := c.base.Rename(oldCipher, newCipher); err != nil {
			return fserrors.New(fserrors.IoError, "Rename", oldPlain, err)
		}
		if err := c.retargetRenamedFile(oldPlain, newPlain, newCipher); err != nil {
			c.rollback([]journalEntry{{oldCipher: oldCipher, newCipher: newCipher}})
			return fserrors.New(fserrors.CryptoFailure, "Rename", oldPlain, err)
		}
		return nil
	}

	journal := []journalEntry{{oldCipher: oldCipher, newCipher: newCipher}}
	if err := c.base.Rename(oldCipher, newCipher); err != nil {
		return fserrors.New(fserrors.IoError, "Rename", oldPlain, err)
	}

	if err := c.cascadeRename(oldPlain, newPlain, newCipher, &journal); err != nil {
		c.rollback(journal)
		return fserrors.New(fserrors.IoError, "Rename", oldPlain, err)
	}
	return nil
}

// cascadeRename re-encodes every descendant of a just-moved directory.
// cipherDir is the directory's new on-disk location; entries inside it
// still carry names encoded under oldPlain's chain and must be renamed to
// the names newPlain's chain produces for the same plaintext component.
func (c *Controller) cascadeRename(oldPlain, newPlain, cipherDir string, journal *[]journalEntry) error {
	oldChain, err := c.codec.ChainForPath(oldPlain)
	if err != nil {
		return err
	}
	newChain, err := c.codec.ChainForPath(newPlain)
	if err != nil {
		return err
	}

	d, err := c.base.Open(cipherDir)
	if err != nil {
		return err
	}
	names, err := d.Readdirnames(-1)
	d.Close()
	if err != nil {
		return err
	}

	for _, oldName := range names {
		plainComponent, _, err := c.codec.DecodeComponent(oldName, oldChain)
		if err != nil {
			// Already-invalid entries are left alone; they were never
			// decodable under the old chain either.
			continue
		}

		newName, _, err := c.codec.EncodeComponent(plainComponent, newChain)
		if err != nil {
			return err
		}

		oldEntryPath := path.Join(cipherDir, oldName)
		newEntryPath := path.Join(cipherDir, newName)

		childOldPlain := path.Join(oldPlain, plainComponent)
		childNewPlain := path.Join(newPlain, plainComponent)

		info, err := c.base.Stat(oldEntryPath)
		if err != nil {
			return err
		}

		if newName != oldName {
			if err := c.base.Rename(oldEntryPath, newEntryPath); err != nil {
				return err
			}
			*journal = append(*journal, journalEntry{oldCipher: oldEntryPath, newCipher: newEntryPath})
		}
		// Even when the on-disk name is unchanged (VariantNull names, or a
		// coincidental collision), the chain IV still moved with the
		// rename, so any live node -- or, absent one, the file's own
		// on-disk header -- still needs rewriting.
		handled, err := c.updateLiveNode(childOldPlain, childNewPlain, newEntryPath)
		if err != nil {
			return err
		}
		if !handled && !info.IsDir() {
			if err := c.rewriteClosedFileIV(newEntryPath, oldChain, newChain); err != nil {
				return err
			}
		}

		if info.IsDir() {
			if err := c.cascadeRename(childOldPlain, childNewPlain, newEntryPath, journal); err != nil {
				return err
			}
		}
	}
	return nil
}

// retargetRenamedFile is the single-file (non-cascade) counterpart of the
// per-descendant step cascadeRename runs: it updates a live Node if one is
// open, or otherwise rewrites the closed file's on-disk IV header directly,
// so a rename that moves a file to a new parent directory -- changing its
// externalIV -- never leaves stale content behind either way.
func (c *Controller) retargetRenamedFile(oldPlain, newPlain, newCipher string) error {
	handled, err := c.updateLiveNode(oldPlain, newPlain, newCipher)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	oldExternalIV, err := c.externalIVFor(oldPlain)
	if err != nil {
		return err
	}
	newExternalIV, err := c.externalIVFor(newPlain)
	if err != nil {
		return err
	}
	return c.rewriteClosedFileIV(newCipher, oldExternalIV, newExternalIV)
}

// updateLiveNode retargets an already-open Node's path bookkeeping after a
// rename, so in-flight reads/writes keep working against the new on-disk
// location without requiring the caller to close and reopen. Its cipher
// layer's externalIV is also rewritten to the chain IV newPlain's parent
// directory now produces, so already-written blocks keep decrypting
// correctly under the post-rename name chain. The returned bool reports
// whether a live node was found at all; callers use it to decide whether
// the on-disk header still needs rewriting directly.
func (c *Controller) updateLiveNode(oldPlain, newPlain, newCipher string) (bool, error) {
	c.mu.Lock()
	n := c.lookup(oldPlain)
	if n != nil {
		delete(c.openMap, oldPlain)
	}
	c.mu.Unlock()

	if n == nil {
		return false, nil
	}
	n.setPaths(newPlain, newCipher)

	newExternalIV, err := c.externalIVFor(newPlain)
	if err != nil {
		return true, err
	}
	ivErr := n.rewriteExternalIV(newExternalIV)

	// lookup() bumped refs by one to hand us a safe pointer; undo that
	// bump since we are not holding a caller-visible reference here, only
	// reinstalling the node under its new key.
	n.mu.Lock()
	n.refs--
	n.mu.Unlock()

	c.mu.Lock()
	c.openMap[newPlain] = weak.Make(n)
	c.mu.Unlock()

	return true, ivErr
}
