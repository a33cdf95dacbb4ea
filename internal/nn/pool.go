package nn

import "fmt"

// MaxPool2D takes the maximum over a Window x Window patch with "same"
// padding. Padded positions never win.
type MaxPool2D struct {
	Window  int
	Stride  int
	Workers int

	inShape []int
	argmax  []int32
}

// NewMaxPool2D returns a max-pool layer; stride defaults to the window.
func NewMaxPool2D(window, stride, workers int) *MaxPool2D {
	if stride <= 0 {
		stride = window
	}
	return &MaxPool2D{Window: window, Stride: stride, Workers: workers}
}

func (m *MaxPool2D) Params() []*Param { return nil }

func (m *MaxPool2D) String() string {
	return fmt.Sprintf("maxpool %dx%d/%d", m.Window, m.Window, m.Stride)
}

// OutShape returns the output shape for an NHWC input shape.
func (m *MaxPool2D) OutShape(in []int) []int {
	h, _ := SamePadding(in[1], m.Window, m.Stride)
	w, _ := SamePadding(in[2], m.Window, m.Stride)
	return []int{in[0], h, w, in[3]}
}

func (m *MaxPool2D) Forward(x *Tensor, train bool) *Tensor {
	n, h, w, ch := x.Dims4()
	outH, padTop := SamePadding(h, m.Window, m.Stride)
	outW, padLeft := SamePadding(w, m.Window, m.Stride)
	y := NewTensor(n, outH, outW, ch)
	if cap(m.argmax) < len(y.Data) {
		m.argmax = make([]int32, len(y.Data))
	}
	m.argmax = m.argmax[:len(y.Data)]
	m.inShape = append(m.inShape[:0], x.Shape...)

	ForEach(n, workerCount(m.Workers, n), func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			inBase := i * h * w * ch
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					ob := ((i*outH+oh)*outW + ow) * ch
					best := y.Data[ob : ob+ch]
					idx := m.argmax[ob : ob+ch]
					for j := range idx {
						idx[j] = -1
					}
					for kh := 0; kh < m.Window; kh++ {
						ih := oh*m.Stride + kh - padTop
						if ih < 0 || ih >= h {
							continue
						}
						for kw := 0; kw < m.Window; kw++ {
							iw := ow*m.Stride + kw - padLeft
							if iw < 0 || iw >= w {
								continue
							}
							ib := inBase + (ih*w+iw)*ch
							for j, v := range x.Data[ib : ib+ch] {
								if idx[j] < 0 || v > best[j] {
									best[j] = v
									idx[j] = int32(ib + j)
								}
							}
						}
					}
				}
			}
		}
	})
	return y
}

func (m *MaxPool2D) Backward(dy *Tensor) *Tensor {
	dx := NewTensor(m.inShape...)
	for o, src := range m.argmax {
		dx.Data[src] += dy.Data[o]
	}
	return dx
}

// GlobalAvgPool averages every channel over the spatial extent and returns
// an N x 1 x 1 x C tensor.
type GlobalAvgPool struct {
	inShape []int
}

func (g *GlobalAvgPool) Params() []*Param { return nil }

func (g *GlobalAvgPool) Forward(x *Tensor, train bool) *Tensor {
	n, h, w, ch := x.Dims4()
	g.inShape = append(g.inShape[:0], x.Shape...)
	y := NewTensor(n, 1, 1, ch)
	area := h * w
	inv := 1 / float64(area)
	sums := make([]float64, ch)
	for i := 0; i < n; i++ {
		clear(sums)
		img := x.Data[i*area*ch : (i+1)*area*ch]
		for p := 0; p < area; p++ {
			for j, v := range img[p*ch : (p+1)*ch] {
				sums[j] += float64(v)
			}
		}
		for j, s := range sums {
			y.Data[i*ch+j] = float32(s * inv)
		}
	}
	return y
}

func (g *GlobalAvgPool) Backward(dy *Tensor) *Tensor {
	n, h, w, ch := g.inShape[0], g.inShape[1], g.inShape[2], g.inShape[3]
	dx := NewTensor(g.inShape...)
	area := h * w
	inv := 1 / float32(area)
	for i := 0; i < n; i++ {
		grad := dy.Data[i*ch : (i+1)*ch]
		img := dx.Data[i*area*ch : (i+1)*area*ch]
		for p := 0; p < area; p++ {
			for j, v := range grad {
				img[p*ch+j] = v * inv
			}
		}
	}
	return dx
}
