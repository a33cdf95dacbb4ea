package dataset

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch indicates images and labels disagree on the example count
// or the image buffer does not match its declared shape.
var ErrShapeMismatch = errors.New("dataset: shape mismatch")

// Dataset holds N examples of Height x Width x Channels images (row-major,
// channels last) and one 0/1 label per example.
type Dataset struct {
	Images   []float32
	Labels   []float32
	N        int
	Height   int
	Width    int
	Channels int
}

// Batch is a set of examples copied out of a Dataset. Indices records the
// dataset position of each example.
type Batch struct {
	Indices []int
	Images  []float32
	Labels  []float32
	Size    int
}

// New wraps images and labels without copying them.
func New(images, labels []float32, height, width, channels int) (*Dataset, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: image shape %dx%dx%d", ErrShapeMismatch, height, width, channels)
	}
	per := height * width * channels
	if len(images)%per != 0 {
		return nil, fmt.Errorf("%w: %d image values are not a multiple of %d", ErrShapeMismatch, len(images), per)
	}
	n := len(images) / per
	if n != len(labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrShapeMismatch, n, len(labels))
	}
	return &Dataset{
		Images:   images,
		Labels:   labels,
		N:        n,
		Height:   height,
		Width:    width,
		Channels: channels,
	}, nil
}

// ExampleSize returns the number of values in one image.
func (d *Dataset) ExampleSize() int { return d.Height * d.Width * d.Channels }

// Gather copies the examples at indices into a new batch.
func (d *Dataset) Gather(indices []int) Batch {
	per := d.ExampleSize()
	b := Batch{
		Indices: make([]int, len(indices)),
		Images:  make([]float32, len(indices)*per),
		Labels:  make([]float32, len(indices)),
		Size:    len(indices),
	}
	copy(b.Indices, indices)
	for i, idx := range indices {
		copy(b.Images[i*per:(i+1)*per], d.Images[idx*per:(idx+1)*per])
		b.Labels[i] = d.Labels[idx]
	}
	return b
}

// Slice returns the examples in [start, end). Both bounds are clamped to
// the dataset, so a start past the end yields an empty batch.
func (d *Dataset) Slice(start, end int) Batch {
	start = clamp(start, 0, d.N)
	end = clamp(end, start, d.N)
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return d.Gather(indices)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
