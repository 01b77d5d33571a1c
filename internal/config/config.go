// Package config loads the run configuration of a moving-ball experiment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrLengthScaleMismatch is returned when the model and data length-scales
// differ while the GP hyper-parameters are frozen.
var ErrLengthScaleMismatch = errors.New("config: model length-scale differs from data length-scale")

// vaeLengthScale makes the GP prior collapse to independent standard normals.
const vaeLengthScale = 0.001

var variants = []string{"GPVAE_Pearce", "VAE", "NP", "SVGPVAE_Hensman", "SVGPVAE_Titsias"}

// Config captures the runtime knobs for a training run.
type Config struct {
	ELBO       string  `yaml:"elbo"`
	Steps      int     `yaml:"steps"`
	PrintEvery int     `yaml:"print_every"`
	Beta0      float64 `yaml:"beta0"`
	ModelLT    float64 `yaml:"model_lt"`
	VidLT      float64 `yaml:"vid_lt"`

	BaseDir  string `yaml:"base_dir"`
	ExpID    string `yaml:"exp_id"`
	CacheDir string `yaml:"cache_dir"` // empty means BaseDir
	Save     bool   `yaml:"save"`

	ComputeFraction float64 `yaml:"compute_fraction"`
	NumWorkers      int     `yaml:"num_workers"`
	Seed            int64   `yaml:"seed"`

	TMax        int     `yaml:"tmax"`
	BatchSize   int     `yaml:"batch_size"`
	FrameSize   int     `yaml:"frame_size"`
	Radius      float64 `yaml:"radius"`
	TestBatches int     `yaml:"test_batches"`

	HiddenUnits  int     `yaml:"hidden_units"`
	LearningRate float64 `yaml:"learning_rate"`
	ClipQs       bool    `yaml:"clip_qs"`
	ClipGrad     bool    `yaml:"clip_grad"`

	Kernel         string  `yaml:"kernel"`
	InducingPoints int     `yaml:"inducing_points"`
	GPJoint        bool    `yaml:"gp_joint"`
	IPJoint        bool    `yaml:"ip_joint"`
	IPMin          float64 `yaml:"ip_min"`
	IPMax          float64 `yaml:"ip_max"`
	Jitter         float64 `yaml:"jitter"`
	GPInit         float64 `yaml:"gp_init"`
	NPContextRatio float64 `yaml:"np_context_ratio"`

	SquaresCircles bool `yaml:"squares_circles"`
}

// Default returns the settings of the reference experiment.
func Default() *Config {
	return &Config{
		ELBO:            "GPVAE_Pearce",
		Steps:           25000,
		PrintEvery:      500,
		Beta0:           1,
		ModelLT:         2,
		VidLT:           2,
		BaseDir:         ".",
		ExpID:           "debug",
		ComputeFraction: 0.5,
		TMax:            30,
		BatchSize:       35,
		FrameSize:       32,
		Radius:          3,
		TestBatches:     10,
		HiddenUnits:     500,
		LearningRate:    1e-3,
		Kernel:          "rbf",
		InducingPoints:  15,
		IPMin:           1,
		IPMax:           30,
		Jitter:          1e-9,
		GPInit:          2,
		NPContextRatio:  0.5,
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes a YAML file on top of Default without validating, so that
// overrides can be applied first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// TestBatchDir is where the cached test batches live: CacheDir, or BaseDir
// when unset.
func (c *Config) TestBatchDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return c.BaseDir
}

// Parse decodes YAML on top of Default without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Overrides captures CLI supplied values. Nil fields leave the config alone.
type Overrides struct {
	ELBO           *string
	Steps          *int
	PrintEvery     *int
	Beta0          *float64
	ModelLT        *float64
	VidLT          *float64
	BaseDir        *string
	CacheDir       *string
	ExpID          *string
	ComputeFrac    *float64
	Seed           *int64
	TMax           *int
	InducingPoints *int
	GPJoint        *bool
	IPJoint        *bool
	ClipQs         *bool
	ClipGrad       *bool
	Save           *bool
	SquaresCircles *bool
	IPMin          *float64
	IPMax          *float64
	Jitter         *float64
	GPInit         *float64
	NumWorkers     *int
}

// ApplyOverrides updates c with every non-nil override.
func (c *Config) ApplyOverrides(o Overrides) {
	setString(&c.ELBO, o.ELBO)
	setInt(&c.Steps, o.Steps)
	setInt(&c.PrintEvery, o.PrintEvery)
	setFloat(&c.Beta0, o.Beta0)
	setFloat(&c.ModelLT, o.ModelLT)
	setFloat(&c.VidLT, o.VidLT)
	setString(&c.BaseDir, o.BaseDir)
	setString(&c.CacheDir, o.CacheDir)
	setString(&c.ExpID, o.ExpID)
	setFloat(&c.ComputeFraction, o.ComputeFrac)
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	setInt(&c.TMax, o.TMax)
	setInt(&c.InducingPoints, o.InducingPoints)
	setBool(&c.GPJoint, o.GPJoint)
	setBool(&c.IPJoint, o.IPJoint)
	setBool(&c.ClipQs, o.ClipQs)
	setBool(&c.ClipGrad, o.ClipGrad)
	setBool(&c.Save, o.Save)
	setBool(&c.SquaresCircles, o.SquaresCircles)
	setFloat(&c.IPMin, o.IPMin)
	setFloat(&c.IPMax, o.IPMax)
	setFloat(&c.Jitter, o.Jitter)
	setFloat(&c.GPInit, o.GPInit)
	setInt(&c.NumWorkers, o.NumWorkers)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable and normalises the variant name.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	name, ok := canonicalVariant(c.ELBO)
	if !ok {
		return fmt.Errorf("elbo must be one of %s (got %q)", strings.Join(variants, ", "), c.ELBO)
	}
	c.ELBO = name
	switch {
	case c.Steps <= 0:
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	case c.PrintEvery <= 0:
		return fmt.Errorf("print_every must be > 0 (got %d)", c.PrintEvery)
	case c.Beta0 < 0:
		return fmt.Errorf("beta0 must be >= 0 (got %g)", c.Beta0)
	case c.ModelLT <= 0 || c.VidLT <= 0:
		return fmt.Errorf("length-scales must be > 0 (model_lt=%g vid_lt=%g)", c.ModelLT, c.VidLT)
	case c.TMax <= 0:
		return fmt.Errorf("tmax must be > 0 (got %d)", c.TMax)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	case c.FrameSize <= 0:
		return fmt.Errorf("frame_size must be > 0 (got %d)", c.FrameSize)
	case c.Radius <= 0:
		return fmt.Errorf("radius must be > 0 (got %g)", c.Radius)
	case c.TestBatches <= 0:
		return fmt.Errorf("test_batches must be > 0 (got %d)", c.TestBatches)
	case c.HiddenUnits <= 0:
		return fmt.Errorf("hidden_units must be > 0 (got %d)", c.HiddenUnits)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	case c.ComputeFraction <= 0 || c.ComputeFraction > 1:
		return fmt.Errorf("compute_fraction must be in (0, 1] (got %g)", c.ComputeFraction)
	case c.NPContextRatio <= 0 || c.NPContextRatio > 1:
		return fmt.Errorf("np_context_ratio must be in (0, 1] (got %g)", c.NPContextRatio)
	case c.Jitter < 0:
		return fmt.Errorf("jitter must be >= 0 (got %g)", c.Jitter)
	case c.GPJoint && c.GPInit <= 0:
		return fmt.Errorf("gp_init must be > 0 (got %g)", c.GPInit)
	}
	if strings.HasPrefix(c.ELBO, "SVGPVAE") {
		if c.InducingPoints <= 0 {
			return fmt.Errorf("inducing_points must be > 0 (got %d)", c.InducingPoints)
		}
		if c.IPMax < c.IPMin {
			return fmt.Errorf("ip_max must be >= ip_min (got %g < %g)", c.IPMax, c.IPMin)
		}
	}
	switch strings.ToLower(c.Kernel) {
	case "rbf", "cauchy":
	default:
		return fmt.Errorf("kernel must be rbf or cauchy (got %q)", c.Kernel)
	}
	if c.ModelLT != c.VidLT && !c.GPJoint && c.ELBO != "VAE" {
		return fmt.Errorf("%w: model_lt=%g vid_lt=%g (enable gp_joint or use VAE)", ErrLengthScaleMismatch, c.ModelLT, c.VidLT)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	return nil
}

// ModelLengthScale is the initial GP length-scale of the model: 0.001 for
// VAE, gp_init when the GP is optimised jointly and model_lt otherwise.
func (c *Config) ModelLengthScale() float64 {
	switch {
	case c.ELBO == "VAE":
		return vaeLengthScale
	case c.GPJoint:
		return c.GPInit
	default:
		return c.ModelLT
	}
}

func canonicalVariant(name string) (string, bool) {
	for _, v := range variants {
		if strings.EqualFold(v, name) {
			return v, true
		}
	}
	return "", false
}
