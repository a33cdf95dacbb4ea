package checkpoint

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"iceberg-inception/internal/model"
	"iceberg-inception/internal/nn"
	"iceberg-inception/internal/optim"
)

func newOptimizer(t *testing.T, lr float64) *optim.Adam {
	t.Helper()
	s := optim.DefaultSettings()
	s.LearningRate = lr
	opt, err := optim.NewAMSGrad(s)
	if err != nil {
		t.Fatalf("NewAMSGrad: %v", err)
	}
	return opt
}

func testTopology() model.Topology {
	return model.Topology{
		InputHeight:   6,
		InputWidth:    6,
		InputChannels: 2,
		Stems:         []model.StemConfig{{Filters: 3, Kernel: 2, PoolWindow: 3, PoolStride: 2}},
		Blocks:        []model.InceptionConfig{model.UniformInception(2)},
	}
}

func testBatch(n int) model.Batch {
	rng := rand.New(rand.NewSource(11))
	x := nn.NewTensor(n, 6, 6, 2)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	labels := make([]float32, n)
	for i := range labels {
		labels[i] = float32(i % 2)
	}
	return model.Batch{Images: x, Labels: labels}
}

func TestSaveRestoreReproducesInference(t *testing.T) {
	net, err := model.New(testTopology(), 1, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := testBatch(4)
	opt := newOptimizer(t, 1e-3)
	for i := 0; i < 3; i++ {
		if _, err := net.TrainStep(batch, opt); err != nil {
			t.Fatalf("TrainStep: %v", err)
		}
	}
	want, err := net.Probabilities(batch.Images)
	if err != nil {
		t.Fatalf("Probabilities: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model_save", "CK")
	if err := Save(path, net, Header{Epochs: 3, FinalLoss: 0.5}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, err := model.New(testTopology(), 99, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hdr, err := Restore(path, fresh)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if hdr.Epochs != 3 || hdr.FinalLoss != 0.5 || hdr.RunID == "" {
		t.Fatalf("unexpected header %+v", hdr)
	}
	got, err := fresh.Probabilities(batch.Images)
	if err != nil {
		t.Fatalf("Probabilities: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prediction %d differs after reload: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	net, err := model.New(testTopology(), 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "CK")
	for i := 0; i < 2; i++ {
		if err := Save(path, net, Header{RunID: "run"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "CK" {
		t.Fatalf("expected only CK in %s, got %v", dir, entries)
	}
}

func TestCheckpointIncludesRunningStatistics(t *testing.T) {
	net, err := model.New(testTopology(), 3, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "CK")
	if err := Save(path, net, Header{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	idx := slices.IndexFunc(f.Params, func(p Tensor) bool { return p.Name == "global_pool/bn/moving_variance" })
	if idx < 0 {
		t.Fatal("moving variance missing from checkpoint")
	}
	for _, v := range f.Params[idx].Values {
		if v != 1 {
			t.Fatalf("expected initial moving variance 1, got %v", v)
		}
	}
}

func TestRestoreRejectsOtherTopology(t *testing.T) {
	net, err := model.New(testTopology(), 4, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "CK")
	if err := Save(path, net, Header{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	other := testTopology()
	other.Blocks[0].PoolProj = 5
	wider, err := model.New(other, 4, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Restore(path, wider); !errors.Is(err, ErrTopologyMismatch) {
		t.Fatalf("expected ErrTopologyMismatch, got %v", err)
	}
}
