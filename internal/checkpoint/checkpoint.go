// Package checkpoint lays out run folders and stores evaluation artifacts.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/config"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/elbo"
)

const (
	// ResultsFile holds the final evaluation bundle.
	ResultsFile = "everything.tar"
	// ParamsFile holds the trained parameters.
	ParamsFile = "params.tar"
)

// ErrMissingEntry is returned when a stored bundle lacks a matrix.
var ErrMissingEntry = errors.New("checkpoint: missing entry")

// Extra describes a run in its folder name: the variant, whether the GP
// hyper-parameters are learned and, for sparse variants, the number of
// inducing points and whether they are learned.
func Extra(cfg *config.Config) string {
	extra := fmt.Sprintf("%s_GP_%t", cfg.ELBO, cfg.GPJoint)
	if elbo.Variant(cfg.ELBO).Sparse() {
		extra += fmt.Sprintf("_M%d_IP_%t", cfg.InducingPoints, cfg.IPJoint)
	}
	return extra
}

// MakeFolder creates base/expID/<n>_<extra>_on_<d>_<m>_<y>_at_<H>_<M>_<S>/
// where n is the number of entries already in base/expID, and returns it
// with a trailing separator.
func MakeFolder(base, expID, extra string, now time.Time) (string, error) {
	root := base
	if expID != "" {
		root = filepath.Join(base, expID)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", root, err)
	}
	name := fmt.Sprintf("%d_%s_on_%d_%d_%d_at_%d_%d_%d",
		len(entries), extra,
		now.Day(), int(now.Month()), now.Year(),
		now.Hour(), now.Minute(), now.Second())
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir + string(os.PathSeparator), nil
}

// Results is the final evaluation over the test batches. Rows of the path
// matrices are frames of consecutive videos; rows of the image matrices are
// flattened frames.
type Results struct {
	Paths        *mat.Dense
	TargetPaths  *mat.Dense
	ReconFrames  *mat.Dense
	TargetFrames *mat.Dense
	// PathCov holds the rotated covariance of each row of Paths as
	// (xx, xy, yy).
	PathCov *mat.Dense
	// SE is the rotated squared error per test batch divided by its size.
	SE []float64
}

// SaveResults writes r to dir/everything.tar.
func SaveResults(dir string, r Results) error {
	if len(r.SE) == 0 {
		return fmt.Errorf("%w: se_coll", ErrMissingEntry)
	}
	entries := []dataset.NamedMatrix{
		{Name: "path_coll", Matrix: r.Paths},
		{Name: "target_path_coll", Matrix: r.TargetPaths},
		{Name: "rec_img_coll", Matrix: r.ReconFrames},
		{Name: "target_img_coll", Matrix: r.TargetFrames},
		{Name: "path_cov_coll", Matrix: r.PathCov},
		{Name: "se_coll", Matrix: mat.NewDense(1, len(r.SE), append([]float64(nil), r.SE...))},
	}
	for _, e := range entries {
		if e.Matrix == nil {
			return fmt.Errorf("%w: %s", ErrMissingEntry, e.Name)
		}
	}
	return dataset.WriteFileAtomic(filepath.Join(dir, ResultsFile), entries)
}

// LoadResults reads a bundle written by SaveResults.
func LoadResults(path string) (Results, error) {
	byName, err := readAll(path)
	if err != nil {
		return Results{}, err
	}
	get := func(name string) (*mat.Dense, error) {
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingEntry, name, path)
		}
		return m, nil
	}
	var r Results
	for _, f := range []struct {
		name string
		dst  **mat.Dense
	}{
		{"path_coll", &r.Paths},
		{"target_path_coll", &r.TargetPaths},
		{"rec_img_coll", &r.ReconFrames},
		{"target_img_coll", &r.TargetFrames},
		{"path_cov_coll", &r.PathCov},
	} {
		m, err := get(f.name)
		if err != nil {
			return Results{}, err
		}
		*f.dst = m
	}
	se, err := get("se_coll")
	if err != nil {
		return Results{}, err
	}
	r.SE = mat.Row(nil, 0, se)
	return r, nil
}

// SaveParams writes the current value of every parameter to dir/params.tar.
func SaveParams(dir string, params []*autodiff.Param) error {
	entries := make([]dataset.NamedMatrix, 0, len(params))
	for _, p := range params {
		entries = append(entries, dataset.NamedMatrix{Name: entryName(p.Name), Matrix: p.Value})
	}
	return dataset.WriteFileAtomic(filepath.Join(dir, ParamsFile), entries)
}

// LoadParams copies stored values into params by name. Shapes must match.
func LoadParams(path string, params []*autodiff.Param) error {
	byName, err := readAll(path)
	if err != nil {
		return err
	}
	for _, p := range params {
		m, ok := byName[entryName(p.Name)]
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrMissingEntry, p.Name, path)
		}
		pr, pc := p.Value.Dims()
		if r, c := m.Dims(); r != pr || c != pc {
			return fmt.Errorf("checkpoint: %s is %dx%d, want %dx%d", p.Name, r, c, pr, pc)
		}
		p.Value.Copy(m)
	}
	return nil
}

// entryName flattens scoped parameter names into a single tar entry.
func entryName(param string) string {
	return strings.ReplaceAll(param, "/", ".")
}

func readAll(path string) (map[string]*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	entries, err := dataset.ReadMatrices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make(map[string]*mat.Dense, len(entries))
	for _, e := range entries {
		out[strings.TrimSuffix(e.Name, ".mat")] = e.Matrix
	}
	return out, nil
}
