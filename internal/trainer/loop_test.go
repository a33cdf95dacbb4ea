package trainer

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"iceberg-inception/internal/checkpoint"
	"iceberg-inception/internal/dataset"
	"iceberg-inception/internal/model"
	"iceberg-inception/internal/optim"
)

func tinyTopology() model.Topology {
	return model.Topology{
		InputHeight:   6,
		InputWidth:    6,
		InputChannels: 3,
		Stems:         []model.StemConfig{{Filters: 4, Kernel: 2, PoolWindow: 3, PoolStride: 2}},
		Blocks:        []model.InceptionConfig{model.UniformInception(2)},
	}
}

func tinyDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	images := make([]float32, n*6*6*3)
	for i := range images {
		images[i] = float32(rng.NormFloat64())
	}
	labels := make([]float32, n)
	for i := range labels {
		labels[i] = float32(i % 2)
	}
	ds, err := dataset.New(images, labels, 6, 6, 3)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func tinyRunConfig(t *testing.T, ds *dataset.Dataset, epochs int) (RunConfig, *bytes.Buffer) {
	out := &bytes.Buffer{}
	dir := t.TempDir()
	return RunConfig{
		Dataset:        ds,
		Topology:       tinyTopology(),
		Optimizer:      optim.DefaultSettings(),
		Epochs:         epochs,
		BatchSize:      2,
		EvalSize:       600,
		NumWorkers:     2,
		Seed:           1,
		LogEvery:       1,
		CheckpointPath: filepath.Join(dir, "model_save", "CK"),
		Out:            out,
	}, out
}

func TestRunReportsEpochsAndSaves(t *testing.T) {
	cfg, out := tinyRunConfig(t, tinyDataset(t, 4), 2)
	cfg.PlotPath = filepath.Join(filepath.Dir(cfg.CheckpointPath), "loss.svg")
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 epoch lines, got %q", out.String())
	}
	for i, prefix := range []string{"Epoch: 1/2......Loss: ", "Epoch: 2/2......Loss: "} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Fatalf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if math.IsNaN(res.FinalLoss) || res.FinalLoss <= 0 {
		t.Fatalf("unexpected final loss %v", res.FinalLoss)
	}
	if len(res.History.Epochs) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(res.History.Epochs))
	}

	net, err := model.New(cfg.Topology, 5, 1)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	hdr, err := checkpoint.Restore(cfg.CheckpointPath, net)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if hdr.RunID != res.RunID || hdr.Epochs != 2 {
		t.Fatalf("unexpected header %+v", hdr)
	}
	ds := cfg.Dataset
	loss, err := Evaluate(net, ds, ds.Slice(1, 601), 2)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(loss-res.FinalLoss) > 1e-9 {
		t.Fatalf("reloaded loss %v differs from reported %v", loss, res.FinalLoss)
	}
	if _, err := os.Stat(cfg.PlotPath); err != nil {
		t.Fatalf("plot not written: %v", err)
	}
}

func TestRunEvalSliceDrifts(t *testing.T) {
	cfg, out := tinyRunConfig(t, tinyDataset(t, 3), 4)
	cfg.LogEvery = 0
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if want := "Epoch: 4/4......Loss: NaN"; lines[3] != want {
		t.Fatalf("expected %q once the slice start passes the end, got %q", want, lines[3])
	}
	if strings.HasSuffix(lines[2], "NaN") {
		t.Fatalf("epoch 3 should still score one example: %q", lines[2])
	}
	if !math.IsNaN(res.FinalLoss) {
		t.Fatalf("final loss should be the last epoch's NaN, got %v", res.FinalLoss)
	}
	if res.BestEpoch < 1 || res.BestEpoch > 3 {
		t.Fatalf("best epoch %d should be one of the scored epochs", res.BestEpoch)
	}
	best := res.History.Epochs[res.BestEpoch-1].EvalLoss
	for _, rec := range res.History.Epochs[:3] {
		if rec.EvalLoss < best {
			t.Fatalf("epoch %d eval %v beats reported best %v", rec.Epoch, rec.EvalLoss, best)
		}
	}
}

func TestRunFixedEvalStart(t *testing.T) {
	cfg, out := tinyRunConfig(t, tinyDataset(t, 3), 4)
	cfg.EvalFixedStart = true
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(out.String(), "NaN") {
		t.Fatalf("fixed eval start should never be empty: %q", out.String())
	}
}

func TestRunCancelledWritesNothing(t *testing.T) {
	cfg, out := tinyRunConfig(t, tinyDataset(t, 4), 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no epoch lines, got %q", out.String())
	}
	if _, err := os.Stat(cfg.CheckpointPath); !os.IsNotExist(err) {
		t.Fatalf("expected no checkpoint, stat err=%v", err)
	}
}

func TestRunStopsOnNonFiniteLoss(t *testing.T) {
	ds := tinyDataset(t, 4)
	for i := range ds.Images {
		ds.Images[i] = float32(math.NaN())
	}
	cfg, _ := tinyRunConfig(t, ds, 1)
	if _, err := Run(context.Background(), cfg); !errors.Is(err, ErrNonFiniteLoss) {
		t.Fatalf("expected ErrNonFiniteLoss, got %v", err)
	}
}

func TestRunRejectsShapeMismatch(t *testing.T) {
	cfg, _ := tinyRunConfig(t, tinyDataset(t, 4), 1)
	cfg.Topology.InputHeight = 7
	if _, err := Run(context.Background(), cfg); !errors.Is(err, model.ErrInputShape) {
		t.Fatalf("expected ErrInputShape, got %v", err)
	}
}

func TestEvaluateChunksMatchSinglePass(t *testing.T) {
	ds := tinyDataset(t, 5)
	net, err := model.New(tinyTopology(), 3, 1)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	all := ds.Slice(0, 5)
	whole, err := Evaluate(net, ds, all, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	chunked, err := Evaluate(net, ds, all, 2)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(whole-chunked) > 1e-6 {
		t.Fatalf("chunked loss %v differs from single pass %v", chunked, whole)
	}
	if loss, _ := Evaluate(net, ds, ds.Slice(9, 12), 2); !math.IsNaN(loss) {
		t.Fatalf("expected NaN for an empty slice, got %v", loss)
	}
}
