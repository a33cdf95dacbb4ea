// Package nn is a small CPU engine for NHWC convolutional networks. Layers
// cache what they need during Forward and produce parameter gradients in
// Backward; optimizers consume the resulting Params.
package nn

import "fmt"

// Tensor is a dense row-major float32 array. Feature maps use the
// batch x height x width x channels layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, Volume(shape))}
}

// FromData wraps data without copying. It panics when the volume of shape
// does not match len(data).
func FromData(data []float32, shape ...int) *Tensor {
	if Volume(shape) != len(data) {
		panic(fmt.Sprintf("nn: shape %v does not match %d values", shape, len(data)))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Volume returns the number of elements described by shape.
func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dims4 returns the NHWC dimensions of a rank-4 tensor.
func (t *Tensor) Dims4() (n, h, w, c int) {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("nn: expected rank 4 tensor, got shape %v", t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// ConcatChannels joins rank-4 tensors along the channel axis. All inputs
// must share batch, height and width.
func ConcatChannels(parts ...*Tensor) *Tensor {
	n, h, w, _ := parts[0].Dims4()
	total := 0
	for _, p := range parts {
		pn, ph, pw, pc := p.Dims4()
		if pn != n || ph != h || pw != w {
			panic(fmt.Sprintf("nn: concat shape %v incompatible with %v", p.Shape, parts[0].Shape))
		}
		total += pc
	}
	out := NewTensor(n, h, w, total)
	pixels := n * h * w
	offset := 0
	for _, p := range parts {
		c := p.Shape[3]
		for i := 0; i < pixels; i++ {
			copy(out.Data[i*total+offset:i*total+offset+c], p.Data[i*c:(i+1)*c])
		}
		offset += c
	}
	return out
}

// SplitChannels is the inverse of ConcatChannels.
func SplitChannels(t *Tensor, widths ...int) []*Tensor {
	n, h, w, c := t.Dims4()
	sum := 0
	for _, wd := range widths {
		sum += wd
	}
	if sum != c {
		panic(fmt.Sprintf("nn: split widths %v do not sum to %d channels", widths, c))
	}
	pixels := n * h * w
	parts := make([]*Tensor, len(widths))
	offset := 0
	for k, wd := range widths {
		p := NewTensor(n, h, w, wd)
		for i := 0; i < pixels; i++ {
			copy(p.Data[i*wd:(i+1)*wd], t.Data[i*c+offset:i*c+offset+wd])
		}
		parts[k] = p
		offset += wd
	}
	return parts
}

// AddInPlace accumulates src into dst.
func AddInPlace(dst, src *Tensor) {
	if len(dst.Data) != len(src.Data) {
		panic(fmt.Sprintf("nn: add shape %v to %v", src.Shape, dst.Shape))
	}
	for i, v := range src.Data {
		dst.Data[i] += v
	}
}
