package fserrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(BadPassword, "Open", "/config", errors.New("mac mismatch"))
	wrapped := fmt.Errorf("volume: %w", base)

	if got := KindOf(wrapped); got != BadPassword {
		t.Fatalf("KindOf(wrapped) = %v, want BadPassword", got)
	}
	if !Is(wrapped, BadPassword) {
		t.Fatal("Is(wrapped, BadPassword) = false, want true")
	}
}

func TestKindOfNonTaxonomyErrorIsGeneric(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Generic {
		t.Fatalf("KindOf(plain error) = %v, want Generic", got)
	}
}

func TestErrorStringIncludesOpPathAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(IoError, "Write", "/data.bin", cause)

	msg := err.Error()
	for _, want := range []string{"Write", "/data.bin", "i/o error", "disk full"} {
		if !containsSubstring(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := New(Generic, "Op", "", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(err, cause) = false, want true")
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
