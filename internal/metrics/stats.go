// Package metrics aggregates training throughput and evaluates recovered
// latent paths against the ground truth.
package metrics

import "time"

// Window accumulates timing stats across multiple steps.
type Window struct {
	videos   int
	data     time.Duration
	compute  time.Duration
	steps    int
	elboSum  float64
	lastELBO float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(videos int, dataTime, computeTime time.Duration, elbo float64) {
	w.videos += videos
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.elboSum += elbo
	w.lastELBO = elbo
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.VideosPerSec = float64(w.videos) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanELBO = w.elboSum / float64(w.steps)
	}
	snap.LastELBO = w.lastELBO

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	VideosPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanELBO     float64
	LastELBO     float64
}
