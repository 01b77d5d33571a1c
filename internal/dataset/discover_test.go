package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverCachesParsesNames(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "Test_Batches_2.0_30.tar"))
	mustWrite(t, filepath.Join(dir, "Test_Batches_0.5_10.tar"))
	mustWrite(t, filepath.Join(dir, "Test_Batches_x_10.tar"))
	mustWrite(t, filepath.Join(dir, "notes.txt"))
	mustWrite(t, filepath.Join(dir, "nested", "Test_Batches_2_30.tar"))

	caches, err := DiscoverCaches(dir)
	if err != nil {
		t.Fatalf("DiscoverCaches error: %v", err)
	}
	if len(caches) != 2 {
		t.Fatalf("expected 2 caches, got %d: %v", len(caches), caches)
	}
	if caches[0].LengthScale != 0.5 || caches[0].TMax != 10 {
		t.Fatalf("unexpected first cache %+v", caches[0])
	}
	if caches[1].LengthScale != 2 || caches[1].TMax != 30 {
		t.Fatalf("unexpected second cache %+v", caches[1])
	}
}

func TestFindCacheMatchesEquivalentLengthScale(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "Test_Batches_2.0_30.tar"))

	c, ok, err := FindCache(dir, 2, 30)
	if err != nil {
		t.Fatalf("FindCache error: %v", err)
	}
	if !ok {
		t.Fatal("expected Test_Batches_2.0_30.tar to match lt=2")
	}
	if filepath.Base(c.Path) != "Test_Batches_2.0_30.tar" {
		t.Fatalf("unexpected path %s", c.Path)
	}
	if _, ok, _ := FindCache(dir, 2, 20); ok {
		t.Fatal("tmax mismatch must not match")
	}
}

func TestDiscoverCachesMissingRoot(t *testing.T) {
	caches, err := DiscoverCaches(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing root should not error: %v", err)
	}
	if len(caches) != 0 {
		t.Fatalf("expected no caches, got %v", caches)
	}
}

func TestCacheName(t *testing.T) {
	if got := CacheName(2, 30); got != "Test_Batches_2_30.tar" {
		t.Fatalf("CacheName(2, 30) = %s", got)
	}
	if got := CacheName(0.5, 10); got != "Test_Batches_0.5_10.tar" {
		t.Fatalf("CacheName(0.5, 10) = %s", got)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
