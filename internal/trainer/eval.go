package trainer

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/checkpoint"
	"gpvae-ball/internal/config"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/elbo"
	"gpvae-ball/internal/metrics"
	"gpvae-ball/internal/plot"
)

// plotVideos is the number of test videos drawn in the final figure.
const plotVideos = 10

// evaluation is the outcome of one test batch.
type evaluation struct {
	batch *dataset.VideoBatch
	out   *elbo.Bundle
	rot   *metrics.Rotation
	// se is the rotated squared error divided by the batch size.
	se float64
}

func evaluate(builder elbo.Builder, test *dataset.VideoBatch) (*evaluation, error) {
	out, err := builder.Build(autodiff.NewTape(), test, 1)
	if err != nil {
		return nil, err
	}
	rot, err := metrics.RotationMSE(out.PMean, test.Paths(), out.PVar)
	if err != nil {
		return nil, err
	}
	return &evaluation{
		batch: test,
		out:   out,
		rot:   rot,
		se:    rot.SSE / float64(test.Params().Batch),
	}, nil
}

// finish creates the checkpoint folder, plots the first test batch and
// stores the evaluation over every test batch together with the parameters.
func finish(cfg *config.Config, builder elbo.Builder, tests []*dataset.VideoBatch, now time.Time) error {
	dir, err := checkpoint.MakeFolder(cfg.BaseDir, cfg.ExpID, checkpoint.Extra(cfg), now)
	if err != nil {
		return err
	}
	log.Printf("checkpoint_dir=%s", dir)

	evals := make([]*evaluation, len(tests))
	for i, test := range tests {
		ev, err := evaluate(builder, test)
		if err != nil {
			return fmt.Errorf("evaluate test batch %d: %w", i, err)
		}
		evals[i] = ev
	}

	figure := filepath.Join(dir, fmt.Sprintf("%06d.pdf", cfg.Steps))
	if err := plot.SaveLatents(figure, clips(evals[0], plotVideos), plot.LatentsOptions{
		Px:             cfg.FrameSize,
		Py:             cfg.FrameSize,
		SquaresCircles: cfg.SquaresCircles,
	}); err != nil {
		return err
	}

	results := collect(evals)
	mean, std := metrics.MeanStd(results.SE)
	log.Printf("mean_se=%.6f std_se=%.6f se=%v", mean, std, results.SE)

	if err := checkpoint.SaveResults(dir, results); err != nil {
		return err
	}
	return checkpoint.SaveParams(dir, builder.Params())
}

// clips selects the first n videos of an evaluation for plotting.
func clips(ev *evaluation, n int) []plot.Clip {
	p := ev.batch.Params()
	if n > p.Batch {
		n = p.Batch
	}
	out := make([]plot.Clip, n)
	for i := range out {
		r0, r1 := i*p.TMax, (i+1)*p.TMax
		out[i] = plot.Clip{
			Truth:     ev.batch.Video(i),
			Recon:     ev.out.Pred.Slice(r0, r1, 0, p.FrameSize()),
			TruePath:  ev.batch.Path(i),
			ReconPath: ev.rot.Paths.Slice(r0, r1, 0, 2),
		}
	}
	return out
}

func collect(evals []*evaluation) checkpoint.Results {
	var paths, covs, targets, recon, frames []mat.Matrix
	se := make([]float64, len(evals))
	for i, ev := range evals {
		paths = append(paths, ev.rot.Paths)
		covs = append(covs, ev.rot.CovRows())
		targets = append(targets, ev.batch.Paths())
		recon = append(recon, ev.out.Pred)
		frames = append(frames, ev.batch.Frames())
		se[i] = ev.se
	}
	return checkpoint.Results{
		Paths:        vstack(paths),
		TargetPaths:  vstack(targets),
		ReconFrames:  vstack(recon),
		TargetFrames: vstack(frames),
		PathCov:      vstack(covs),
		SE:           se,
	}
}

func vstack(parts []mat.Matrix) *mat.Dense {
	rows, cols := 0, 0
	for _, p := range parts {
		r, c := p.Dims()
		rows += r
		cols = c
	}
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, p := range parts {
		r, _ := p.Dims()
		out.Slice(at, at+r, 0, cols).(*mat.Dense).Copy(p)
		at += r
	}
	return out
}
