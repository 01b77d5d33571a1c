package dataset

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMatricesRoundTrip(t *testing.T) {
	entries := []NamedMatrix{
		{Name: "se_coll", Matrix: mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})},
		{Name: "w.paths", Matrix: mat.NewDense(1, 2, []float64{-1, 0.5})},
	}
	var buf bytes.Buffer
	if err := WriteMatrices(&buf, entries); err != nil {
		t.Fatalf("WriteMatrices error: %v", err)
	}
	got, err := ReadMatrices(&buf)
	if err != nil {
		t.Fatalf("ReadMatrices error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Name != "se_coll.mat" || got[1].Name != "w.paths" {
		t.Fatalf("unexpected names %s, %s", got[0].Name, got[1].Name)
	}
	if !mat.Equal(got[0].Matrix, entries[0].Matrix) || !mat.Equal(got[1].Matrix, entries[1].Matrix) {
		t.Fatal("matrices changed in round trip")
	}
}

func TestBatchShardRoundTrip(t *testing.T) {
	p := smallParams()
	var batches []*VideoBatch
	for seed := int64(0); seed < 3; seed++ {
		b, err := MakeVideoBatch(p, seed)
		if err != nil {
			t.Fatalf("MakeVideoBatch error: %v", err)
		}
		batches = append(batches, b)
	}
	path := filepath.Join(t.TempDir(), "shard.tar")
	if err := writeBatchShard(path, batches); err != nil {
		t.Fatalf("writeBatchShard error: %v", err)
	}
	records, err := readBatchShard(path)
	if err != nil {
		t.Fatalf("readBatchShard error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if !mat.Equal(rec.frames, batches[i].Frames()) || !mat.Equal(rec.paths, batches[i].Paths()) {
			t.Fatalf("record %s differs from batch %d", rec.key, i)
		}
	}
}

func TestReadBatchShardIncomplete(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	data, err := mat.NewDense(1, 1, []float64{1}).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{"batch-000.frames", "README.mat"} {
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("write data: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(t.TempDir(), "broken.tar")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	if _, err := readBatchShard(path); !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("expected ErrIncompleteRecord, got %v", err)
	}
}
