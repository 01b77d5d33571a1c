// Package trainer runs the moving-ball experiment: it trains a model on a
// stream of generated videos, reports held-out diagnostics and stores the
// final evaluation.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"strings"
	"time"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/config"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/elbo"
	"gpvae-ball/internal/gp"
	"gpvae-ball/internal/metrics"
	"gpvae-ball/internal/model"
)

// latentDim is the dimension of the ball position.
const latentDim = 2

// Run executes the training workload described by cfg.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	params := videoParams(cfg)

	tests, cached, err := dataset.LoadOrCreateTestBatches(cfg.TestBatchDir(), params, cfg.TestBatches)
	if err != nil {
		return fmt.Errorf("test batches: %w", err)
	}
	log.Printf("test_batches=%d cached=%t cache=%s", len(tests), cached, dataset.CacheName(params.LengthScale, params.TMax))

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}
	trainable := model.Trainable(builder)
	for _, p := range trainable {
		log.Printf("param %s", p)
	}
	log.Printf("elbo=%s trainable_params=%d values=%d", builder.Variant(), len(trainable), model.CountParams(trainable))

	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = computeWorkers(cfg.ComputeFraction)
	}
	genCtx, stopGen := context.WithCancel(ctx)
	defer stopGen()
	batches, genErr, err := dataset.StartGenerator(genCtx, dataset.GeneratorOptions{
		Params:     params,
		Seed:       cfg.Seed,
		NumWorkers: workers,
	})
	if err != nil {
		return err
	}

	clip := 0.0
	if cfg.ClipGrad {
		clip = model.DefaultGradClip
	}
	opt := model.NewAdam(cfg.LearningRate, clip)
	var window metrics.Window

	for step := 1; step <= cfg.Steps; step++ {
		startData := time.Now()
		batch, err := nextBatch(ctx, batches, genErr)
		if err != nil {
			return err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		tp := autodiff.NewTape()
		bundle, err := builder.Build(tp, batch, cfg.Beta0)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if err := tp.Backward(bundle.Loss); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		opt.Step(trainable)
		computeTime := time.Since(startCompute)

		window.Record(params.Batch, dataTime, computeTime, bundle.ELBO)

		if step%cfg.PrintEvery == 0 {
			snap := window.Snapshot()
			log.Printf("step=%d videos_per_sec=%.1f data_ms=%.2f compute_ms=%.2f train_elbo=%.4f",
				step,
				snap.VideosPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.MeanELBO,
			)
			if err := report(step, builder, tests[0]); err != nil {
				return err
			}
		}
	}
	stopGen()

	if cfg.Save {
		return finish(cfg, builder, tests, time.Now())
	}
	return nil
}

func videoParams(cfg *config.Config) dataset.Params {
	return dataset.Params{
		Batch:       cfg.BatchSize,
		TMax:        cfg.TMax,
		Px:          cfg.FrameSize,
		Py:          cfg.FrameSize,
		Radius:      cfg.Radius,
		LengthScale: cfg.VidLT,
	}
}

func newBuilder(cfg *config.Config) (elbo.Builder, error) {
	variant, err := elbo.ParseVariant(cfg.ELBO)
	if err != nil {
		return nil, err
	}
	kernel, err := gp.NewKernel(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	vae, err := model.NewVAE(model.VAEOptions{
		FrameSize:    cfg.FrameSize * cfg.FrameSize,
		Latent:       latentDim,
		Hidden:       cfg.HiddenUnits,
		Seed:         cfg.Seed,
		ClipVariance: cfg.ClipQs,
	})
	if err != nil {
		return nil, err
	}
	return elbo.New(elbo.Options{
		Variant:      variant,
		VAE:          vae,
		Kernel:       kernel,
		LengthScale:  cfg.ModelLengthScale(),
		GPJoint:      cfg.GPJoint,
		NumInducing:  cfg.InducingPoints,
		InducingMin:  cfg.IPMin,
		InducingMax:  cfg.IPMax,
		IPJoint:      cfg.IPJoint,
		Jitter:       cfg.Jitter,
		ContextRatio: cfg.NPContextRatio,
		Seed:         cfg.Seed,
	})
}

// computeWorkers gives the generator pool a share of the CPUs.
func computeWorkers(fraction float64) int {
	n := int(math.Round(fraction * float64(runtime.NumCPU())))
	if n < 1 {
		return 1
	}
	return n
}

func nextBatch(ctx context.Context, batches <-chan *dataset.VideoBatch, errs <-chan error) (*dataset.VideoBatch, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return nil, err
			}
			if !ok {
				errs = nil
			}
		case b, ok := <-batches:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, errors.New("generator closed")
			}
			return b, nil
		}
	}
}

// report evaluates the model on one held-out batch at beta 1 and logs the
// objective, its parts and the ranges of the inference and posterior
// moments.
func report(step int, builder elbo.Builder, test *dataset.VideoBatch) error {
	out, err := builder.Build(autodiff.NewTape(), test, 1)
	if err != nil {
		return fmt.Errorf("evaluate step %d: %w", step, err)
	}
	log.Printf("step=%d test_elbo=%.4f recon=%.4f kl=%.4f", step, out.ELBO, out.Recon, out.KL)
	if v := builder.Variant(); v.Sparse() && out.Sparse != nil {
		s := out.Sparse
		bound := "l3"
		if v == elbo.SVGPVAETitsias {
			bound = "l2"
		}
		log.Printf("step=%d %s_elbo=%.4f ce=%.4f", step, bound, s.Bound, s.CE)
		if v == elbo.SVGPVAEHensman {
			log.Printf("step=%d l3_recon=%.4f l3_kl=%.4f", step, s.L3Recon, s.L3KL)
		}
	}
	for _, p := range builder.Params() {
		if p.Trainable && strings.HasPrefix(p.Name, "l_GP_") {
			log.Printf("step=%d %s=%.4f", step, p.Name, math.Exp(p.Value.At(0, 0)))
		}
	}
	qvLo, qvHi := metrics.Range(out.QVar)
	qmLo, qmHi := metrics.Range(out.QMean)
	pvLo, pvHi := metrics.Range(out.PVar)
	pmLo, pmHi := metrics.Range(out.PMean)
	log.Printf("step=%d q_v=[%.4g, %.4g] q_m=[%.4g, %.4g] p_v=[%.4g, %.4g] p_m=[%.4g, %.4g]",
		step, qvLo, qvHi, qmLo, qmHi, pvLo, pvHi, pmLo, pmHi)
	return nil
}
