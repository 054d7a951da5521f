package encryptfs

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
)

// RotateOptions controls a password rotation (RotatePassword) and the
// verification pass of VerifyAll. Only the password can be rotated; the
// cipher suite is fixed for the life of a volume.
type RotateOptions struct {
	// NewPassword replaces the volume's current password. Required.
	NewPassword []byte

	// Workers bounds the number of files re-verified concurrently during
	// VerifyAll. Zero defaults to runtime.NumCPU().
	Workers int

	Verbose bool
}

// RotatePassword re-wraps the volume's data key under NewPassword without
// touching any file content: the data key itself is unchanged, only the
// key-encryption-key wrapping it is. Every other open FS backed by the same
// volume must be closed and reopened with the new password afterward.
func (fs *FS) RotatePassword(opts RotateOptions) error {
	if len(opts.NewPassword) == 0 {
		return NewValidationError("NewPassword", nil, "password must not be empty")
	}
	if err := fs.vol.Rewrap(fs.base, opts.NewPassword); err != nil {
		return NewAuthenticationError("", err)
	}
	if opts.Verbose {
		fmt.Println("volume password rotated")
	}
	return nil
}

// VerifyAll walks root and confirms every file under it decrypts and
// authenticates cleanly, using a worker pool the way a full volume scrub
// would. It returns the plaintext paths that failed.
func (fs *FS) VerifyAll(root string, opts RotateOptions) ([]string, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var paths []string
	err := fs.walk(root, func(path string, info os.FileInfo) error {
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var failed []string
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if err := fs.verifyOne(path); err != nil {
					mu.Lock()
					failed = append(failed, path)
					mu.Unlock()
					if opts.Verbose {
						fmt.Printf("FAIL %s: %v\n", path, err)
					}
				}
			}
		}()
	}
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	if len(failed) > 0 {
		return failed, fmt.Errorf("%d of %d files failed verification", len(failed), len(paths))
	}
	return nil, nil
}

func (fs *FS) verifyOne(path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(io.Discard, f)
	return err
}

// walk mirrors filepath.Walk over the encrypted tree, calling fn with each
// plaintext path and its FileInfo.
func (fs *FS) walk(root string, fn func(path string, info os.FileInfo) error) error {
	info, err := fs.Stat(root)
	if err != nil {
		return err
	}
	if err := fn(root, info); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := fs.tree.Readdir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Valid {
			continue
		}
		if err := fs.walk(join(root, e.Name), fn); err != nil {
			return err
		}
	}
	return nil
}
