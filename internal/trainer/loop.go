package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"iceberg-inception/internal/checkpoint"
	"iceberg-inception/internal/dataset"
	"iceberg-inception/internal/metrics"
	"iceberg-inception/internal/model"
	"iceberg-inception/internal/nn"
	"iceberg-inception/internal/optim"
)

// ErrNonFiniteLoss aborts a run whose training loss became NaN or Inf.
var ErrNonFiniteLoss = errors.New("trainer: non-finite training loss")

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Dataset   *dataset.Dataset
	Topology  model.Topology
	Optimizer optim.Settings

	Epochs    int
	BatchSize int

	// EvalSize examples starting at the epoch index are scored after every
	// epoch. With EvalFixedStart the slice always starts at 0.
	EvalSize       int
	EvalFixedStart bool

	NumWorkers int
	Seed       int64
	LogEvery   int

	CheckpointPath string
	PlotPath       string

	// Out receives one line per epoch. Defaults to stdout.
	Out io.Writer
}

// Result summarizes a finished run. BestEpoch is the 1-based epoch with
// the lowest finite eval loss, or 0 when every eval was empty.
type Result struct {
	RunID     string
	FinalLoss float64
	BestEpoch int
	History   metrics.History
	Params    int
}

// Run trains a freshly initialized network on cfg.Dataset and writes the
// final parameters to cfg.CheckpointPath. A cancelled context stops the
// run between batches without writing a checkpoint.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Dataset == nil || cfg.Dataset.N == 0 {
		return nil, errors.New("trainer: dataset is empty")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.CheckpointPath == "" {
		return nil, errors.New("trainer: checkpoint path must be set")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = nn.DefaultWorkers()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	ds := cfg.Dataset
	if ds.Height != cfg.Topology.InputHeight || ds.Width != cfg.Topology.InputWidth || ds.Channels != cfg.Topology.InputChannels {
		return nil, fmt.Errorf("%w: dataset images are %dx%dx%d, topology expects %dx%dx%d",
			model.ErrInputShape, ds.Height, ds.Width, ds.Channels,
			cfg.Topology.InputHeight, cfg.Topology.InputWidth, cfg.Topology.InputChannels)
	}

	net, err := model.New(cfg.Topology, cfg.Seed, cfg.NumWorkers)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	opt, err := optim.New(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:  checkpoint.NewRunID(),
		Params: nn.CountValues(nn.Trainable(net.Params())),
	}
	log.Printf("run=%s params=%d examples=%d epochs=%d batch_size=%d workers=%d",
		res.RunID, res.Params, ds.N, cfg.Epochs, cfg.BatchSize, cfg.NumWorkers)
	for _, line := range net.Summary() {
		log.Printf("layer %s", line)
	}

	var window metrics.Window
	step := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		started := time.Now()
		sampler, err := dataset.NewEpochSampler(ds, cfg.BatchSize, epoch)
		if err != nil {
			return nil, err
		}
		losses := make([]float64, 0, sampler.NumBatches())
		for {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("epoch %d: %w", epoch+1, err)
			}
			startData := time.Now()
			if !sampler.Next() {
				break
			}
			batch := toModelBatch(ds, sampler.Batch())
			dataTime := time.Since(startData)

			startCompute := time.Now()
			loss, err := net.TrainStep(batch, opt)
			if err != nil {
				return nil, fmt.Errorf("epoch %d step %d: %w", epoch+1, step+1, err)
			}
			computeTime := time.Since(startCompute)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, fmt.Errorf("%w at epoch %d step %d: %v", ErrNonFiniteLoss, epoch+1, step+1, loss)
			}
			step++
			losses = append(losses, loss)
			window.Record(batch.Size(), dataTime, computeTime, loss)

			if cfg.LogEvery > 0 && step%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
					step,
					snap.ImagesPerSec,
					snap.AvgDataMS,
					snap.AvgComputeMS,
					snap.MeanLoss,
				)
			}
		}

		start := epoch
		if cfg.EvalFixedStart {
			start = 0
		}
		evalLoss, err := Evaluate(net, ds, ds.Slice(start, start+cfg.EvalSize), cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("epoch %d eval: %w", epoch+1, err)
		}
		res.History.Add(epoch+1, losses, evalLoss, time.Since(started))
		fmt.Fprintf(cfg.Out, "Epoch: %d/%d......Loss: %v\n", epoch+1, cfg.Epochs, evalLoss)
	}
	if last, ok := res.History.Last(); ok {
		res.FinalLoss = last.EvalLoss
	}
	if best, ok := res.History.BestEval(); ok {
		res.BestEpoch = best.Epoch
		log.Printf("run=%s best_epoch=%d best_eval_loss=%v", res.RunID, best.Epoch, best.EvalLoss)
	}

	if err := checkpoint.Save(cfg.CheckpointPath, net, checkpoint.Header{
		RunID:     res.RunID,
		Epochs:    cfg.Epochs,
		FinalLoss: res.FinalLoss,
	}); err != nil {
		return nil, err
	}
	log.Printf("run=%s checkpoint=%s final_loss=%v", res.RunID, cfg.CheckpointPath, res.FinalLoss)

	if cfg.PlotPath != "" {
		if err := metrics.WriteLossPlot(cfg.PlotPath, &res.History); err != nil {
			return nil, err
		}
		log.Printf("run=%s plot=%s", res.RunID, cfg.PlotPath)
	}
	return res, nil
}

// Evaluate returns the mean loss of b in inference mode, scoring at most
// chunk examples per forward pass. An empty batch yields NaN.
func Evaluate(m model.Model, ds *dataset.Dataset, b dataset.Batch, chunk int) (float64, error) {
	if b.Size == 0 {
		return math.NaN(), nil
	}
	if chunk <= 0 {
		chunk = b.Size
	}
	per := ds.ExampleSize()
	total := 0.0
	for lo := 0; lo < b.Size; lo += chunk {
		hi := min(lo+chunk, b.Size)
		loss, err := m.Loss(toModelBatch(ds, dataset.Batch{
			Images: b.Images[lo*per : hi*per],
			Labels: b.Labels[lo:hi],
			Size:   hi - lo,
		}))
		if err != nil {
			return 0, err
		}
		total += loss * float64(hi-lo)
	}
	return total / float64(b.Size), nil
}

func toModelBatch(ds *dataset.Dataset, b dataset.Batch) model.Batch {
	return model.Batch{
		Images: nn.FromData(b.Images, b.Size, ds.Height, ds.Width, ds.Channels),
		Labels: b.Labels,
	}
}
