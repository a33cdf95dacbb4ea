package checkpoint

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"iceberg-inception/internal/model"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

var (
	// ErrTopologyMismatch indicates a checkpoint was written by a network of
	// a different shape.
	ErrTopologyMismatch = errors.New("checkpoint: topology mismatch")
	// ErrVersion indicates an unsupported format version.
	ErrVersion = errors.New("checkpoint: unsupported format version")
)

// Header describes the run that produced a checkpoint.
type Header struct {
	Version   int
	RunID     string
	Topology  model.Topology
	Epochs    int
	FinalLoss float64
	SavedAt   time.Time
}

// Tensor is one named parameter.
type Tensor struct {
	Name   string
	Shape  []int
	Values []float32
}

// File is the decoded content of a checkpoint.
type File struct {
	Header
	Params []Tensor
}

// NewRunID returns a fresh identifier for a training run.
func NewRunID() string { return uuid.NewString() }

// Save writes every parameter of net, running statistics included, to
// path. The file is written next to path and renamed into place, so a
// reader never sees a partial checkpoint.
func Save(path string, net *model.Network, hdr Header) error {
	hdr.Version = FormatVersion
	hdr.Topology = net.Topology
	if hdr.RunID == "" {
		hdr.RunID = NewRunID()
	}
	if hdr.SavedAt.IsZero() {
		hdr.SavedAt = time.Now().UTC()
	}
	f := File{Header: hdr}
	for _, p := range net.Params() {
		f.Params = append(f.Params, Tensor{
			Name:   p.Name,
			Shape:  append([]int(nil), p.Shape...),
			Values: append([]float32(nil), p.Value...),
		})
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&f); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load decodes the checkpoint at path.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer fh.Close()

	var f File
	if err := gob.NewDecoder(fh).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}
	return &f, nil
}

// Restore copies the checkpointed values into net. net must have been
// built from the same topology.
func (f *File) Restore(net *model.Network) error {
	if !sameTopology(f.Topology, net.Topology) {
		return fmt.Errorf("%w: checkpoint %+v, network %+v", ErrTopologyMismatch, f.Topology, net.Topology)
	}
	params := net.Params()
	if len(params) != len(f.Params) {
		return fmt.Errorf("%w: %d params in checkpoint, %d in network", ErrTopologyMismatch, len(f.Params), len(params))
	}
	for i, p := range params {
		saved := f.Params[i]
		if saved.Name != p.Name || !slices.Equal(saved.Shape, p.Shape) || len(saved.Values) != len(p.Value) {
			return fmt.Errorf("%w: param %d is %s%v, network has %s%v", ErrTopologyMismatch, i, saved.Name, saved.Shape, p.Name, p.Shape)
		}
	}
	for i, p := range params {
		copy(p.Value, f.Params[i].Values)
	}
	return nil
}

// Restore loads path and copies its values into net.
func Restore(path string, net *model.Network) (*Header, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := f.Restore(net); err != nil {
		return nil, err
	}
	return &f.Header, nil
}

func sameTopology(a, b model.Topology) bool {
	return a.InputHeight == b.InputHeight &&
		a.InputWidth == b.InputWidth &&
		a.InputChannels == b.InputChannels &&
		slices.Equal(a.Stems, b.Stems) &&
		slices.Equal(a.Blocks, b.Blocks)
}
