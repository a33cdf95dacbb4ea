package metrics

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// Window accumulates timing stats across multiple train steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	losses  []float64
}

// Record adds one step: dataTime is spent gathering the batch, computeTime
// in the forward, backward and optimizer passes.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.losses = append(w.losses, loss)
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if steps := len(w.losses); steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(steps)
		snap.MeanLoss = floats.Sum(w.losses) / float64(steps)
		snap.LastLoss = w.losses[steps-1]
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.losses = w.losses[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanLoss     float64
	LastLoss     float64
}
