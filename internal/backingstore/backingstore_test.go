package backingstore

import (
	"testing"

	"github.com/absfs/memfs"
)

func TestProbeReportsBaselineCapabilities(t *testing.T) {
	fs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}

	caps := Probe(fs)
	if !caps.Chmod {
		t.Fatal("Probe(memfs).Chmod = false, want true")
	}
	if !caps.Chtimes {
		t.Fatal("Probe(memfs).Chtimes = false, want true")
	}
}
