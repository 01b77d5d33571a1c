package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCacheMismatch indicates a cache file whose contents do not fit the
// requested parameters.
var ErrCacheMismatch = errors.New("dataset: cached test batches do not match parameters")

// LoadOrCreateTestBatches returns n test batches for p. Batch i is generated
// from seed i, so the set is the same on every run; it is written once to
// dir under CacheName and read back afterwards.
func LoadOrCreateTestBatches(dir string, p Params, n int) ([]*VideoBatch, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	if n <= 0 {
		return nil, false, fmt.Errorf("%w: need at least one test batch", ErrBadParams)
	}
	cache, ok, err := FindCache(dir, p.LengthScale, p.TMax)
	if err != nil {
		return nil, false, err
	}
	if ok {
		batches, err := loadTestBatches(cache.Path, p, n)
		return batches, true, err
	}

	batches := make([]*VideoBatch, n)
	for i := range batches {
		b, err := MakeVideoBatch(p, int64(i))
		if err != nil {
			return nil, false, fmt.Errorf("make test batch %d: %w", i, err)
		}
		batches[i] = b
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create cache dir: %w", err)
	}
	if err := writeBatchShard(filepath.Join(dir, CacheName(p.LengthScale, p.TMax)), batches); err != nil {
		return nil, false, fmt.Errorf("write test batches: %w", err)
	}
	return batches, false, nil
}

func loadTestBatches(path string, p Params, n int) ([]*VideoBatch, error) {
	records, err := readBatchShard(path)
	if err != nil {
		return nil, err
	}
	if len(records) < n {
		return nil, fmt.Errorf("%w: %s holds %d batches, want %d", ErrCacheMismatch, path, len(records), n)
	}
	out := make([]*VideoBatch, n)
	for i := range out {
		b, err := NewVideoBatch(p, records[i].frames, records[i].paths)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrCacheMismatch, path, records[i].key, err)
		}
		out[i] = b
	}
	return out, nil
}
