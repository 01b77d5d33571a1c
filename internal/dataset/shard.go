package dataset

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrIncompleteRecord indicates a shard entry without its partner.
var ErrIncompleteRecord = errors.New("dataset: incomplete record in shard")

const (
	extFrames = ".frames"
	extPaths  = ".paths"
	extMatrix = ".mat"
)

// NamedMatrix is one entry of a matrix shard.
type NamedMatrix struct {
	Name   string
	Matrix *mat.Dense
}

// WriteMatrices writes entries as a tar stream, each matrix encoded with
// mat.Dense.MarshalBinary. Names without an extension get ".mat".
func WriteMatrices(w io.Writer, entries []NamedMatrix) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		name := e.Name
		if filepath.Ext(name) == "" {
			name += extMatrix
		}
		data, err := e.Matrix.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return tw.Close()
}

// ReadMatrices decodes every entry of a tar stream written by WriteMatrices,
// in stream order.
func ReadMatrices(r io.Reader) ([]NamedMatrix, error) {
	tr := tar.NewReader(bufio.NewReader(r))
	var out []NamedMatrix
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		m := &mat.Dense{}
		if err := m.UnmarshalBinary(payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", hdr.Name, err)
		}
		out = append(out, NamedMatrix{Name: filepath.Base(hdr.Name), Matrix: m})
	}
	return out, nil
}

// WriteFileAtomic writes entries to path through a temporary file.
func WriteFileAtomic(path string, entries []NamedMatrix) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteMatrices(bw, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// record pairs the frames and paths of one batch inside a shard.
type record struct {
	key    string
	frames *mat.Dense
	paths  *mat.Dense
}

func (r *record) ready() bool {
	return r.frames != nil && r.paths != nil
}

// writeBatchShard stores batches as batch-NNN.frames / batch-NNN.paths pairs.
func writeBatchShard(path string, batches []*VideoBatch) error {
	entries := make([]NamedMatrix, 0, 2*len(batches))
	for i, b := range batches {
		key := fmt.Sprintf("batch-%03d", i)
		entries = append(entries,
			NamedMatrix{Name: key + extFrames, Matrix: mat.DenseCopyOf(b.Frames())},
			NamedMatrix{Name: key + extPaths, Matrix: mat.DenseCopyOf(b.Paths())},
		)
	}
	return WriteFileAtomic(path, entries)
}

// readBatchShard pairs entries by key and returns the records sorted by key.
func readBatchShard(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	entries, err := ReadMatrices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pending := make(map[string]*record)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name))
		if ext != extFrames && ext != extPaths {
			// ignore unknown extension
			continue
		}
		key := strings.TrimSuffix(e.Name, filepath.Ext(e.Name))
		part := pending[key]
		if part == nil {
			part = &record{key: key}
			pending[key] = part
		}
		if ext == extFrames {
			part.frames = e.Matrix
		} else {
			part.paths = e.Matrix
		}
	}
	out := make([]record, 0, len(pending))
	for key, part := range pending {
		if !part.ready() {
			return nil, fmt.Errorf("%w: %s in %s", ErrIncompleteRecord, key, path)
		}
		out = append(out, *part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}
