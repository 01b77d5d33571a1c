package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLoadOrCreateTestBatchesReusesCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	p := smallParams()

	first, cached, err := LoadOrCreateTestBatches(dir, p, 2)
	if err != nil {
		t.Fatalf("LoadOrCreateTestBatches error: %v", err)
	}
	if cached {
		t.Fatal("first call cannot be served from cache")
	}
	if _, err := os.Stat(filepath.Join(dir, CacheName(p.LengthScale, p.TMax))); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}

	second, cached, err := LoadOrCreateTestBatches(dir, p, 2)
	if err != nil {
		t.Fatalf("LoadOrCreateTestBatches error: %v", err)
	}
	if !cached {
		t.Fatal("second call should read the cache")
	}
	for i := range first {
		if !mat.Equal(first[i].Frames(), second[i].Frames()) || !mat.Equal(first[i].Paths(), second[i].Paths()) {
			t.Fatalf("batch %d differs after reload", i)
		}
	}
}

func TestLoadOrCreateTestBatchesSeedPerIndex(t *testing.T) {
	p := smallParams()
	batches, _, err := LoadOrCreateTestBatches(t.TempDir(), p, 2)
	if err != nil {
		t.Fatalf("LoadOrCreateTestBatches error: %v", err)
	}
	want, err := MakeVideoBatch(p, 1)
	if err != nil {
		t.Fatalf("MakeVideoBatch error: %v", err)
	}
	if !mat.Equal(batches[1].Paths(), want.Paths()) {
		t.Fatal("test batch 1 was not generated from seed 1")
	}
}

func TestLoadOrCreateTestBatchesMismatch(t *testing.T) {
	dir := t.TempDir()
	p := smallParams()
	if _, _, err := LoadOrCreateTestBatches(dir, p, 1); err != nil {
		t.Fatalf("LoadOrCreateTestBatches error: %v", err)
	}
	if _, _, err := LoadOrCreateTestBatches(dir, p, 3); !errors.Is(err, ErrCacheMismatch) {
		t.Fatalf("expected ErrCacheMismatch for short cache, got %v", err)
	}
	bigger := p
	bigger.Batch = 5
	if _, _, err := LoadOrCreateTestBatches(dir, bigger, 1); !errors.Is(err, ErrCacheMismatch) {
		t.Fatalf("expected ErrCacheMismatch for batch size change, got %v", err)
	}
}
