package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// EpochRecord summarizes one finished epoch.
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	EvalLoss  float64
	Duration  time.Duration
}

// History is the per-epoch record of a run.
type History struct {
	Epochs []EpochRecord
}

// Add appends an epoch. trainLosses are the step losses of the epoch.
func (h *History) Add(epoch int, trainLosses []float64, evalLoss float64, d time.Duration) EpochRecord {
	rec := EpochRecord{Epoch: epoch, EvalLoss: evalLoss, Duration: d, TrainLoss: math.NaN()}
	if len(trainLosses) > 0 {
		rec.TrainLoss = floats.Sum(trainLosses) / float64(len(trainLosses))
	}
	h.Epochs = append(h.Epochs, rec)
	return rec
}

// Last returns the most recent epoch, if any.
func (h *History) Last() (EpochRecord, bool) {
	if len(h.Epochs) == 0 {
		return EpochRecord{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// BestEval returns the epoch with the lowest finite eval loss.
func (h *History) BestEval() (EpochRecord, bool) {
	vals := make([]float64, 0, len(h.Epochs))
	recs := make([]EpochRecord, 0, len(h.Epochs))
	for _, r := range h.Epochs {
		if math.IsNaN(r.EvalLoss) || math.IsInf(r.EvalLoss, 0) {
			continue
		}
		vals = append(vals, r.EvalLoss)
		recs = append(recs, r)
	}
	if len(vals) == 0 {
		return EpochRecord{}, false
	}
	return recs[floats.MinIdx(vals)], true
}
