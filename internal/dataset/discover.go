package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var cacheRegexp = regexp.MustCompile(`^Test_Batches_([0-9.eE+-]+)_([0-9]+)\.tar$`)

// CacheFile describes a cached set of test batches.
type CacheFile struct {
	Path        string
	LengthScale float64
	TMax        int
}

// CacheName returns the file name for test batches generated with the given
// length-scale and duration.
func CacheName(lengthScale float64, tmax int) string {
	return fmt.Sprintf("Test_Batches_%s_%d.tar", strconv.FormatFloat(lengthScale, 'g', -1, 64), tmax)
}

// DiscoverCaches lists the test-batch caches directly under root, sorted by
// path. A missing root yields no caches.
func DiscoverCaches(root string) ([]CacheFile, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discover caches: %w", err)
	}
	out := make([]CacheFile, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := cacheRegexp.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		lt, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		tmax, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, CacheFile{Path: filepath.Join(root, e.Name()), LengthScale: lt, TMax: tmax})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FindCache returns the first cache matching (lengthScale, tmax).
func FindCache(root string, lengthScale float64, tmax int) (CacheFile, bool, error) {
	caches, err := DiscoverCaches(root)
	if err != nil {
		return CacheFile{}, false, err
	}
	for _, c := range caches {
		if c.LengthScale == lengthScale && c.TMax == tmax {
			return c, true, nil
		}
	}
	return CacheFile{}, false, nil
}
