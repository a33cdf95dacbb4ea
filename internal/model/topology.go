package model

import (
	"errors"
	"fmt"
)

// StemConfig is one convolution -> max-pool -> batch-norm stage.
type StemConfig struct {
	Filters    int `yaml:"filters"`
	Kernel     int `yaml:"kernel"`
	PoolWindow int `yaml:"pool_window"`
	PoolStride int `yaml:"pool_stride"`
}

// InceptionConfig holds the six branch widths of an inception block.
//
//	A: 1x1 Reduce3x3 -> 3x3 Conv3x3
//	B: 1x1 Reduce2x2 -> 2x2 Conv2x2
//	C: 2x2 max-pool -> batch-norm -> 1x1 PoolProj
//	D: 1x1 Direct
type InceptionConfig struct {
	Reduce3x3 int `yaml:"reduce_3x3"`
	Reduce2x2 int `yaml:"reduce_2x2"`
	Direct    int `yaml:"direct"`
	Conv3x3   int `yaml:"conv_3x3"`
	Conv2x2   int `yaml:"conv_2x2"`
	PoolProj  int `yaml:"pool_proj"`
}

// UniformInception sets every branch width to width.
func UniformInception(width int) InceptionConfig {
	return InceptionConfig{
		Reduce3x3: width,
		Reduce2x2: width,
		Direct:    width,
		Conv3x3:   width,
		Conv2x2:   width,
		PoolProj:  width,
	}
}

// OutChannels is the channel count of the concatenated block output.
func (c InceptionConfig) OutChannels() int {
	return c.Direct + c.Conv3x3 + c.Conv2x2 + c.PoolProj
}

// Validate requires every width to be positive.
func (c InceptionConfig) Validate() error {
	for name, v := range map[string]int{
		"reduce_3x3": c.Reduce3x3,
		"reduce_2x2": c.Reduce2x2,
		"direct":     c.Direct,
		"conv_3x3":   c.Conv3x3,
		"conv_2x2":   c.Conv2x2,
		"pool_proj":  c.PoolProj,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", name, v)
		}
	}
	return nil
}

// Topology describes the network: the input shape, the stem stages and the
// inception blocks that follow them. The head is fixed: global average
// pooling, batch-norm and a single logit.
type Topology struct {
	InputHeight   int               `yaml:"input_height"`
	InputWidth    int               `yaml:"input_width"`
	InputChannels int               `yaml:"input_channels"`
	Stems         []StemConfig      `yaml:"stems"`
	Blocks        []InceptionConfig `yaml:"inception_blocks"`
}

// DefaultTopology is the 75x75x3 network with two 2x2 stems of 32 and 64
// filters and two inception blocks of width 32 and 64.
func DefaultTopology() Topology {
	return Topology{
		InputHeight:   75,
		InputWidth:    75,
		InputChannels: 3,
		Stems: []StemConfig{
			{Filters: 32, Kernel: 2, PoolWindow: 3, PoolStride: 2},
			{Filters: 64, Kernel: 2, PoolWindow: 3, PoolStride: 2},
		},
		Blocks: []InceptionConfig{UniformInception(32), UniformInception(64)},
	}
}

// Validate checks that the topology can be built.
func (t Topology) Validate() error {
	if t.InputHeight <= 0 || t.InputWidth <= 0 || t.InputChannels <= 0 {
		return fmt.Errorf("topology: input shape must be positive (got %dx%dx%d)", t.InputHeight, t.InputWidth, t.InputChannels)
	}
	if len(t.Stems) == 0 && len(t.Blocks) == 0 {
		return errors.New("topology: at least one stem or inception block is required")
	}
	for i, s := range t.Stems {
		if s.Filters <= 0 || s.Kernel <= 0 || s.PoolWindow <= 0 || s.PoolStride <= 0 {
			return fmt.Errorf("topology: stem %d: filters, kernel, pool_window and pool_stride must be > 0", i)
		}
	}
	for i, b := range t.Blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("topology: inception block %d: %w", i, err)
		}
	}
	return nil
}

// FeatureChannels returns the channel count entering the head.
func (t Topology) FeatureChannels() int {
	ch := t.InputChannels
	for _, s := range t.Stems {
		ch = s.Filters
	}
	for _, b := range t.Blocks {
		ch = b.OutChannels()
	}
	return ch
}
