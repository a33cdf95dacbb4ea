package model

import (
	"math/rand"

	"iceberg-inception/internal/nn"
)

// InceptionBlock runs four branches over the same input and concatenates
// them along channels in the order D, A, B, C before a final batch-norm.
// Every branch uses stride 1 and same padding, so height and width pass
// through unchanged.
type InceptionBlock struct {
	Name   string
	Config InceptionConfig

	branchA nn.Sequential
	branchB nn.Sequential
	branchC nn.Sequential
	branchD nn.Sequential
	norm    *nn.BatchNorm
}

// NewInceptionBlock builds a block reading in channels.
func NewInceptionBlock(name string, in int, cfg InceptionConfig, vs nn.VarianceScaling, rng *rand.Rand, workers int) *InceptionBlock {
	conv := func(suffix string, cin, filters, kernel int) *nn.Conv2D {
		return nn.NewConv2D(name+"/"+suffix, nn.ConvConfig{
			InChannels: cin,
			Filters:    filters,
			KernelH:    kernel,
			KernelW:    kernel,
			Stride:     1,
			ReLU:       true,
		}, vs, rng, workers)
	}
	return &InceptionBlock{
		Name:   name,
		Config: cfg,
		branchD: nn.Sequential{
			conv("direct_1x1", in, cfg.Direct, 1),
		},
		branchA: nn.Sequential{
			conv("reduce_3x3", in, cfg.Reduce3x3, 1),
			conv("conv_3x3", cfg.Reduce3x3, cfg.Conv3x3, 3),
		},
		branchB: nn.Sequential{
			conv("reduce_2x2", in, cfg.Reduce2x2, 1),
			conv("conv_2x2", cfg.Reduce2x2, cfg.Conv2x2, 2),
		},
		branchC: nn.Sequential{
			nn.NewMaxPool2D(2, 1, workers),
			nn.NewBatchNorm(name+"/pool_bn", in),
			conv("pool_proj", in, cfg.PoolProj, 1),
		},
		norm: nn.NewBatchNorm(name+"/bn", cfg.OutChannels()),
	}
}

func (b *InceptionBlock) widths() []int {
	return []int{b.Config.Direct, b.Config.Conv3x3, b.Config.Conv2x2, b.Config.PoolProj}
}

func (b *InceptionBlock) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	out := nn.ConcatChannels(
		b.branchD.Forward(x, train),
		b.branchA.Forward(x, train),
		b.branchB.Forward(x, train),
		b.branchC.Forward(x, train),
	)
	return b.norm.Forward(out, train)
}

func (b *InceptionBlock) Backward(dy *nn.Tensor) *nn.Tensor {
	parts := nn.SplitChannels(b.norm.Backward(dy), b.widths()...)
	dx := b.branchD.Backward(parts[0])
	nn.AddInPlace(dx, b.branchA.Backward(parts[1]))
	nn.AddInPlace(dx, b.branchB.Backward(parts[2]))
	nn.AddInPlace(dx, b.branchC.Backward(parts[3]))
	return dx
}

func (b *InceptionBlock) Params() []*nn.Param {
	var out []*nn.Param
	for _, branch := range []nn.Sequential{b.branchD, b.branchA, b.branchB, b.branchC} {
		out = append(out, branch.Params()...)
	}
	return append(out, b.norm.Params()...)
}

// Updaters returns the batch-norm layers of the block.
func (b *InceptionBlock) Updaters() []nn.Updater {
	return append(b.branchC.Updaters(), b.norm)
}

// OutShape returns the output shape for an NHWC input shape.
func (b *InceptionBlock) OutShape(in []int) []int {
	return []int{in[0], in[1], in[2], b.Config.OutChannels()}
}
