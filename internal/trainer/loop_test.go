package trainer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/checkpoint"
	"gpvae-ball/internal/config"
	"gpvae-ball/internal/dataset"
)

func tinyConfig(t *testing.T, variant string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ELBO = variant
	cfg.Steps = 3
	cfg.PrintEvery = 2
	cfg.BatchSize = 3
	cfg.TMax = 5
	cfg.FrameSize = 8
	cfg.Radius = 2
	cfg.TestBatches = 2
	cfg.HiddenUnits = 6
	cfg.InducingPoints = 3
	cfg.IPMax = 5
	cfg.Jitter = 1e-6
	cfg.ClipQs = true
	cfg.ClipGrad = true
	cfg.NumWorkers = 2
	cfg.Seed = 11
	cfg.Save = true
	cfg.BaseDir = filepath.Join(dir, "results")
	cfg.CacheDir = filepath.Join(dir, "cache")
	return cfg
}

func TestRunSavesArtifacts(t *testing.T) {
	for _, variant := range []string{"GPVAE_Pearce", "VAE", "NP", "SVGPVAE_Hensman", "SVGPVAE_Titsias"} {
		t.Run(variant, func(t *testing.T) {
			cfg := tinyConfig(t, variant)
			require.NoError(t, Run(context.Background(), cfg))

			runs, err := os.ReadDir(filepath.Join(cfg.BaseDir, cfg.ExpID))
			require.NoError(t, err)
			require.Len(t, runs, 1)
			dir := filepath.Join(cfg.BaseDir, cfg.ExpID, runs[0].Name())
			assert.FileExists(t, filepath.Join(dir, "000003.pdf"))
			assert.FileExists(t, filepath.Join(dir, checkpoint.ParamsFile))

			res, err := checkpoint.LoadResults(filepath.Join(dir, checkpoint.ResultsFile))
			require.NoError(t, err)
			assert.Len(t, res.SE, 2)
			r, c := res.Paths.Dims()
			assert.Equal(t, [2]int{2 * 3 * 5, 2}, [2]int{r, c})
			r, c = res.PathCov.Dims()
			assert.Equal(t, [2]int{2 * 3 * 5, 3}, [2]int{r, c})
			assert.GreaterOrEqual(t, mat.Min(res.PathCov.ColView(0)), 0.0)
			r, c = res.TargetFrames.Dims()
			assert.Equal(t, [2]int{2 * 3 * 5, 64}, [2]int{r, c})
			for _, se := range res.SE {
				assert.GreaterOrEqual(t, se, 0.0)
			}

			_, err = os.Stat(filepath.Join(cfg.TestBatchDir(), dataset.CacheName(cfg.VidLT, cfg.TMax)))
			assert.NoError(t, err)
		})
	}
}

func TestRunWithoutSaveWritesNoCheckpoint(t *testing.T) {
	cfg := tinyConfig(t, "VAE")
	cfg.Save = false
	require.NoError(t, Run(context.Background(), cfg))
	_, err := os.Stat(cfg.BaseDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRunRejectsLengthScaleMismatch(t *testing.T) {
	cfg := tinyConfig(t, "GPVAE_Pearce")
	cfg.VidLT = 4
	err := Run(context.Background(), cfg)
	assert.True(t, errors.Is(err, config.ErrLengthScaleMismatch))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := tinyConfig(t, "VAE")
	cfg.Steps = 1000000
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, cfg)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNextBatchClosed(t *testing.T) {
	batches := make(chan *dataset.VideoBatch)
	close(batches)
	_, err := nextBatch(context.Background(), batches, nil)
	assert.Error(t, err)
}

func TestComputeWorkers(t *testing.T) {
	assert.Equal(t, 1, computeWorkers(1e-9))
	assert.GreaterOrEqual(t, computeWorkers(1), 1)
}

func TestVstack(t *testing.T) {
	got := vstack([]mat.Matrix{
		mat.NewDense(1, 2, []float64{1, 2}),
		mat.NewDense(2, 2, []float64{3, 4, 5, 6}),
	})
	assert.True(t, mat.Equal(got, mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})))
}
