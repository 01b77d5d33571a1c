package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, "elbo: svgpvae_titsias\nsteps: 10\ninducing_points: 5\nclip_qs: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "SVGPVAE_Titsias", cfg.ELBO)
	assert.Equal(t, 10, cfg.Steps)
	assert.Equal(t, 5, cfg.InducingPoints)
	assert.True(t, cfg.ClipQs)
	assert.Equal(t, 500, cfg.PrintEvery)
	assert.Equal(t, 30, cfg.TMax)
	assert.Equal(t, 1e-9, cfg.Jitter)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "steps: 10\ntrain_root_a: /data\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train_root_a")
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Steps, cfg.Steps)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "ball.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "GPVAE_Pearce", cfg.ELBO)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestValidateLengthScaleMismatch(t *testing.T) {
	cfg := Default()
	cfg.VidLT = 5
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrLengthScaleMismatch), "got %v", err)

	cfg.GPJoint = true
	assert.NoError(t, cfg.Validate())

	cfg.GPJoint = false
	cfg.ELBO = "VAE"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"elbo":             func(c *Config) { c.ELBO = "GPVAE_Casale" },
		"steps":            func(c *Config) { c.Steps = 0 },
		"kernel":           func(c *Config) { c.Kernel = "matern" },
		"compute_fraction": func(c *Config) { c.ComputeFraction = 1.5 },
		"np_context_ratio": func(c *Config) { c.NPContextRatio = 0 },
		"inducing_points": func(c *Config) {
			c.ELBO = "SVGPVAE_Hensman"
			c.InducingPoints = 0
		},
		"ip range": func(c *Config) {
			c.ELBO = "SVGPVAE_Hensman"
			c.IPMin, c.IPMax = 10, 2
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelLengthScale(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2.0, cfg.ModelLengthScale())
	cfg.GPJoint, cfg.GPInit = true, 4
	assert.Equal(t, 4.0, cfg.ModelLengthScale())
	cfg.ELBO = "VAE"
	assert.Equal(t, 0.001, cfg.ModelLengthScale())
}

func TestReadDefersValidationToOverrides(t *testing.T) {
	path := writeConfig(t, "model_lt: 3\nvid_lt: 2\n")
	_, err := Load(path)
	assert.True(t, errors.Is(err, ErrLengthScaleMismatch), "got %v", err)

	cfg, err := Read(path)
	require.NoError(t, err)
	joint := true
	cfg.ApplyOverrides(Overrides{GPJoint: &joint})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3.0, cfg.ModelLT)
	assert.Equal(t, Default().GPInit, cfg.ModelLengthScale())
}

func TestTestBatchDirFollowsBaseDir(t *testing.T) {
	cfg := Default()
	base := "runs"
	cfg.ApplyOverrides(Overrides{BaseDir: &base})
	assert.Equal(t, "runs", cfg.TestBatchDir())

	cache := "data"
	cfg.ApplyOverrides(Overrides{CacheDir: &cache})
	assert.Equal(t, "data", cfg.TestBatchDir())
	assert.Equal(t, "runs", cfg.BaseDir)
}

func TestApplyOverridesOnlySetFields(t *testing.T) {
	cfg := Default()
	steps := 7
	joint := true
	cfg.ApplyOverrides(Overrides{Steps: &steps, GPJoint: &joint})
	assert.Equal(t, 7, cfg.Steps)
	assert.True(t, cfg.GPJoint)
	assert.Equal(t, "GPVAE_Pearce", cfg.ELBO)

	off := false
	cfg.ApplyOverrides(Overrides{GPJoint: &off})
	assert.False(t, cfg.GPJoint)
}
