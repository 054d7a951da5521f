package securekey

import (
	"bytes"
	"testing"
)

func TestGetReturnsUnderlyingBytes(t *testing.T) {
	k := New([]byte("secret-key-material"))
	if !bytes.Equal(k.Get(), []byte("secret-key-material")) {
		t.Fatalf("Get() = %q, want %q", k.Get(), "secret-key-material")
	}
	if k.Len() != len("secret-key-material") {
		t.Fatalf("Len() = %d, want %d", k.Len(), len("secret-key-material"))
	}
}

func TestDestroyZeroesAndIsIdempotent(t *testing.T) {
	k := New([]byte{1, 2, 3, 4})
	k.Destroy()
	if k.Get() != nil {
		t.Fatalf("Get() after Destroy = %v, want nil", k.Get())
	}
	if k.Len() != 0 {
		t.Fatalf("Len() after Destroy = %d, want 0", k.Len())
	}
	k.Destroy() // must not panic or double-free
}

func TestCloneIsIndependentCopy(t *testing.T) {
	orig := New([]byte{9, 9, 9})
	clone := orig.Clone()

	orig.Destroy()
	if clone.Len() != 3 {
		t.Fatalf("clone.Len() after original Destroy = %d, want 3", clone.Len())
	}
	if !bytes.Equal(clone.Get(), []byte{9, 9, 9}) {
		t.Fatalf("clone.Get() = %v, want [9 9 9]", clone.Get())
	}
}

func TestCloneOfDestroyedIsEmpty(t *testing.T) {
	orig := New([]byte{1, 2, 3})
	orig.Destroy()
	clone := orig.Clone()
	if clone.Len() != 0 {
		t.Fatalf("Clone of destroyed Bytes has Len() = %d, want 0", clone.Len())
	}
}
