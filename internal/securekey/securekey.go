// Package securekey holds key material that must be zeroed once it is no
// longer needed instead of waiting on the garbage collector.
package securekey

import (
	"runtime"
	"sync"
)

// Bytes wraps a byte slice holding key material. Destroy overwrites the
// slice with zeroes; a finalizer calls Destroy if the caller forgets to.
type Bytes struct {
	mu   sync.Mutex
	b    []byte
	dead bool
}

// New takes ownership of b and returns a Bytes wrapping it. Callers must not
// retain b after calling New.
func New(b []byte) *Bytes {
	k := &Bytes{b: b}
	runtime.SetFinalizer(k, (*Bytes).Destroy)
	return k
}

// Get returns the underlying slice. The returned slice is only valid until
// Destroy is called; callers must not retain it past the Bytes' lifetime.
func (k *Bytes) Get() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dead {
		return nil
	}
	return k.b
}

// Len reports the length of the held key material, or 0 once destroyed.
func (k *Bytes) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dead {
		return 0
	}
	return len(k.b)
}

// Destroy zeroes the underlying bytes. Safe to call more than once.
func (k *Bytes) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dead {
		return
	}
	for i := range k.b {
		k.b[i] = 0
	}
	k.dead = true
	runtime.SetFinalizer(k, nil)
}

// Clone returns a new Bytes holding a copy of the key material.
func (k *Bytes) Clone() *Bytes {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dead {
		return New(nil)
	}
	cp := make([]byte, len(k.b))
	copy(cp, k.b)
	return New(cp)
}
