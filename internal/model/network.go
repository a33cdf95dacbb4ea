package model

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"iceberg-inception/internal/nn"
	"iceberg-inception/internal/optim"
)

// ErrInputShape is returned when a batch does not match the topology.
var ErrInputShape = errors.New("model: batch does not match network input")

// Network owns every layer of the classifier. It is built once from a
// Topology and passed explicitly to the training loop.
type Network struct {
	Topology Topology

	layers    nn.Sequential
	params    []*nn.Param
	updateOps []nn.Updater
}

// New builds the network described by topo. Weights are drawn from a
// variance-scaling initializer seeded with seed; workers bounds the
// per-layer kernel parallelism.
func New(topo Topology, seed int64, workers int) (*Network, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	vs := nn.DefaultInitializer()
	ch := topo.InputChannels

	var layers nn.Sequential
	for i, s := range topo.Stems {
		name := fmt.Sprintf("conv_block_%d", i+1)
		layers = append(layers, nn.Sequential{
			nn.NewConv2D(name+"/conv", nn.ConvConfig{
				InChannels: ch,
				Filters:    s.Filters,
				KernelH:    s.Kernel,
				KernelW:    s.Kernel,
				Stride:     1,
				ReLU:       true,
			}, vs, rng, workers),
			nn.NewMaxPool2D(s.PoolWindow, s.PoolStride, workers),
			nn.NewBatchNorm(name+"/bn", s.Filters),
		})
		ch = s.Filters
	}
	for i, b := range topo.Blocks {
		layers = append(layers, NewInceptionBlock(fmt.Sprintf("inception_block_%d", i+1), ch, b, vs, rng, workers))
		ch = b.OutChannels()
	}
	layers = append(layers,
		&nn.GlobalAvgPool{},
		nn.NewBatchNorm("global_pool/bn", ch),
		nn.NewDense("logits/dense", ch, 1, vs, rng),
	)

	n := &Network{Topology: topo, layers: layers}
	n.params = layers.Params()
	n.updateOps = layers.Updaters()
	return n, nil
}

// Params returns every parameter in a fixed order, running statistics
// included.
func (n *Network) Params() []*nn.Param { return n.params }

// UpdateOps returns the layers whose statistics are refreshed outside of
// gradient descent.
func (n *Network) UpdateOps() []nn.Updater { return n.updateOps }

// Forward returns the N x 1 logits for x.
func (n *Network) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	return n.layers.Forward(x, train)
}

// Probabilities returns sigmoid(logit) for every example, in inference mode.
func (n *Network) Probabilities(x *nn.Tensor) ([]float32, error) {
	if err := n.checkImages(x); err != nil {
		return nil, err
	}
	logits := n.Forward(x, false)
	probs := make([]float32, len(logits.Data))
	for i, l := range logits.Data {
		probs[i] = Sigmoid(l)
	}
	return probs, nil
}

// TrainStep runs one optimization step on batch and returns the loss of
// the forward pass that produced the gradients. Staged batch-norm
// statistics are committed before opt.Step touches the weights.
func (n *Network) TrainStep(batch Batch, opt optim.Optimizer) (float64, error) {
	if err := n.checkBatch(batch); err != nil {
		return 0, err
	}
	nn.ZeroGrads(n.params)
	logits := n.Forward(batch.Images, true)
	loss, grad := BCEWithLogits(logits.Data, batch.Labels)
	n.layers.Backward(nn.FromData(grad, logits.Shape...))

	for _, op := range n.updateOps {
		op.ApplyUpdates()
	}
	if err := opt.Step(n.params); err != nil {
		return loss, fmt.Errorf("optimizer step: %w", err)
	}
	return loss, nil
}

// Loss evaluates the mean cross-entropy of batch in inference mode.
func (n *Network) Loss(batch Batch) (float64, error) {
	if err := n.checkBatch(batch); err != nil {
		return 0, err
	}
	logits := n.Forward(batch.Images, false)
	loss, _ := BCEWithLogits(logits.Data, batch.Labels)
	return loss, nil
}

// OutputShape returns the logits shape for a batch of n examples.
func (n *Network) OutputShape(batch int) []int {
	t := n.Topology
	return outShape(n.layers, []int{batch, t.InputHeight, t.InputWidth, t.InputChannels})
}

// Summary describes each top-level stage with its output shape for a
// batch of one.
func (n *Network) Summary() []string {
	shape := []int{1, n.Topology.InputHeight, n.Topology.InputWidth, n.Topology.InputChannels}
	var out []string
	for _, l := range n.layers {
		shape = outShape(l, shape)
		out = append(out, fmt.Sprintf("%-28s %v", describe(l), shape))
	}
	return out
}

func (n *Network) checkBatch(b Batch) error {
	if err := n.checkImages(b.Images); err != nil {
		return err
	}
	if b.Images.Shape[0] != len(b.Labels) {
		return fmt.Errorf("%w: %d images, %d labels", ErrInputShape, b.Images.Shape[0], len(b.Labels))
	}
	return nil
}

func (n *Network) checkImages(x *nn.Tensor) error {
	t := n.Topology
	if x == nil || len(x.Shape) != 4 || x.Shape[1] != t.InputHeight || x.Shape[2] != t.InputWidth || x.Shape[3] != t.InputChannels {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return fmt.Errorf("%w: got %v, want [N %d %d %d]", ErrInputShape, shape, t.InputHeight, t.InputWidth, t.InputChannels)
	}
	return nil
}

type shaper interface {
	OutShape(in []int) []int
}

func outShape(l nn.Layer, in []int) []int {
	switch v := l.(type) {
	case nn.Sequential:
		for _, sub := range v {
			in = outShape(sub, in)
		}
		return in
	case shaper:
		return v.OutShape(in)
	case *nn.GlobalAvgPool:
		return []int{in[0], 1, 1, in[3]}
	case *nn.Dense:
		return []int{in[0], v.Out}
	}
	return in
}

func describe(l nn.Layer) string {
	switch v := l.(type) {
	case nn.Sequential:
		if len(v) > 0 {
			if c, ok := v[0].(*nn.Conv2D); ok {
				return strings.TrimSuffix(c.Name, "/conv")
			}
		}
		return "sequential"
	case *InceptionBlock:
		return v.Name
	case *nn.GlobalAvgPool:
		return "global_pool"
	case *nn.BatchNorm:
		return v.Name
	case *nn.Dense:
		return v.Name
	}
	return fmt.Sprintf("%T", l)
}
