package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvConfig describes a 2-D convolution with "same" padding.
type ConvConfig struct {
	InChannels int
	Filters    int
	KernelH    int
	KernelW    int
	Stride     int
	ReLU       bool
}

// SamePadding returns the output extent and the leading pad for an input
// extent under "same" padding. Any odd remainder is padded at the end, so
// even kernels with stride 1 pad only on the trailing side.
func SamePadding(in, kernel, stride int) (out, before int) {
	out = (in + stride - 1) / stride
	total := (out-1)*stride + kernel - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// Conv2D is an NHWC convolution lowered to GEMM through im2col. The kernel
// is stored as [KernelH, KernelW, InChannels, Filters].
type Conv2D struct {
	ConvConfig
	Name    string
	W, B    *Param
	Workers int

	x               *Tensor
	y               *Tensor
	inH, inW        int
	outH, outW      int
	padTop, padLeft int

	cols  [][]float32
	dcols [][]float32
	dW    [][]float32
	dB    [][]float32
}

// NewConv2D builds a convolution with weights drawn from vs and zero bias.
func NewConv2D(name string, cfg ConvConfig, vs VarianceScaling, rng *rand.Rand, workers int) *Conv2D {
	if cfg.Stride <= 0 {
		cfg.Stride = 1
	}
	if cfg.KernelW <= 0 {
		cfg.KernelW = cfg.KernelH
	}
	c := &Conv2D{
		ConvConfig: cfg,
		Name:       name,
		Workers:    workers,
		W:          newParam(name+"/kernel", cfg.KernelH, cfg.KernelW, cfg.InChannels, cfg.Filters),
		B:          newParam(name+"/bias", cfg.Filters),
	}
	area := cfg.KernelH * cfg.KernelW
	vs.Fill(c.W.Value, area*cfg.InChannels, area*cfg.Filters, rng)
	return c
}

func (c *Conv2D) Params() []*Param { return []*Param{c.W, c.B} }

func (c *Conv2D) String() string {
	return fmt.Sprintf("conv %s %dx%d/%d %d->%d relu=%t", c.Name, c.KernelH, c.KernelW, c.Stride, c.InChannels, c.Filters, c.ReLU)
}

// OutShape returns the output shape for an NHWC input shape.
func (c *Conv2D) OutShape(in []int) []int {
	h, _ := SamePadding(in[1], c.KernelH, c.Stride)
	w, _ := SamePadding(in[2], c.KernelW, c.Stride)
	return []int{in[0], h, w, c.Filters}
}

func (c *Conv2D) pointwise() bool {
	return c.KernelH == 1 && c.KernelW == 1 && c.Stride == 1
}

func (c *Conv2D) Forward(x *Tensor, train bool) *Tensor {
	n, h, w, ch := x.Dims4()
	if ch != c.InChannels {
		panic(fmt.Sprintf("nn: %s expects %d input channels, got %d", c.Name, c.InChannels, ch))
	}
	c.inH, c.inW = h, w
	c.outH, c.padTop = SamePadding(h, c.KernelH, c.Stride)
	c.outW, c.padLeft = SamePadding(w, c.KernelW, c.Stride)
	p := c.outH * c.outW
	k := c.KernelH * c.KernelW * ch
	f := c.Filters

	y := NewTensor(n, c.outH, c.outW, f)
	workers := workerCount(c.Workers, n)
	c.cols = growScratch(c.cols, workers, p*k, !c.pointwise())
	wm := blas32.General{Rows: k, Cols: f, Stride: f, Data: c.W.Value}

	ForEach(n, workers, func(worker, lo, hi int) {
		for i := lo; i < hi; i++ {
			col := c.im2col(x, i, c.cols[worker])
			out := y.Data[i*p*f : (i+1)*p*f]
			for j := 0; j < p; j++ {
				copy(out[j*f:(j+1)*f], c.B.Value)
			}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
				blas32.General{Rows: p, Cols: k, Stride: k, Data: col}, wm,
				1, blas32.General{Rows: p, Cols: f, Stride: f, Data: out})
			if c.ReLU {
				for j, v := range out {
					if v < 0 {
						out[j] = 0
					}
				}
			}
		}
	})
	c.x, c.y = x, y
	return y
}

func (c *Conv2D) Backward(dy *Tensor) *Tensor {
	x := c.x
	n, h, w, ch := x.Dims4()
	p := c.outH * c.outW
	k := c.KernelH * c.KernelW * ch
	f := c.Filters

	dz := dy
	if c.ReLU {
		dz = NewTensor(dy.Shape...)
		for j, v := range dy.Data {
			if c.y.Data[j] > 0 {
				dz.Data[j] = v
			}
		}
	}
	dx := NewTensor(x.Shape...)
	workers := workerCount(c.Workers, n)
	c.cols = growScratch(c.cols, workers, p*k, !c.pointwise())
	c.dcols = growScratch(c.dcols, workers, p*k, !c.pointwise())
	c.dW = growScratch(c.dW, workers, k*f, true)
	c.dB = growScratch(c.dB, workers, f, true)
	for wk := 0; wk < workers; wk++ {
		clear(c.dW[wk][:k*f])
		clear(c.dB[wk][:f])
	}
	wm := blas32.General{Rows: k, Cols: f, Stride: f, Data: c.W.Value}

	ForEach(n, workers, func(worker, lo, hi int) {
		dW := blas32.General{Rows: k, Cols: f, Stride: f, Data: c.dW[worker][:k*f]}
		dB := c.dB[worker][:f]
		for i := lo; i < hi; i++ {
			col := c.im2col(x, i, c.cols[worker])
			g := dz.Data[i*p*f : (i+1)*p*f]
			gm := blas32.General{Rows: p, Cols: f, Stride: f, Data: g}
			blas32.Gemm(blas.Trans, blas.NoTrans, 1,
				blas32.General{Rows: p, Cols: k, Stride: k, Data: col}, gm, 1, dW)
			for j := 0; j < p; j++ {
				row := g[j*f : (j+1)*f]
				for o, v := range row {
					dB[o] += v
				}
			}
			dimg := dx.Data[i*h*w*ch : (i+1)*h*w*ch]
			if c.pointwise() {
				blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm, wm,
					0, blas32.General{Rows: p, Cols: k, Stride: k, Data: dimg})
				continue
			}
			dcol := c.dcols[worker][:p*k]
			blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm, wm,
				0, blas32.General{Rows: p, Cols: k, Stride: k, Data: dcol})
			c.col2im(dcol, dimg, ch)
		}
	})

	for wk := 0; wk < workers; wk++ {
		for j, v := range c.dW[wk][:k*f] {
			c.W.Grad[j] += v
		}
		for j, v := range c.dB[wk][:f] {
			c.B.Grad[j] += v
		}
	}
	return dx
}

// im2col lays out the receptive field of every output pixel of example i
// as one row of col. Pointwise convolutions read the input directly.
func (c *Conv2D) im2col(x *Tensor, i int, col []float32) []float32 {
	h, w, ch := c.inH, c.inW, c.InChannels
	img := x.Data[i*h*w*ch : (i+1)*h*w*ch]
	if c.pointwise() {
		return img
	}
	k := c.KernelH * c.KernelW * ch
	for oh := 0; oh < c.outH; oh++ {
		for ow := 0; ow < c.outW; ow++ {
			row := col[(oh*c.outW+ow)*k : (oh*c.outW+ow+1)*k]
			for kh := 0; kh < c.KernelH; kh++ {
				ih := oh*c.Stride + kh - c.padTop
				for kw := 0; kw < c.KernelW; kw++ {
					iw := ow*c.Stride + kw - c.padLeft
					dst := row[(kh*c.KernelW+kw)*ch : (kh*c.KernelW+kw+1)*ch]
					if ih < 0 || ih >= h || iw < 0 || iw >= w {
						clear(dst)
						continue
					}
					copy(dst, img[(ih*w+iw)*ch:(ih*w+iw+1)*ch])
				}
			}
		}
	}
	return col[:c.outH*c.outW*k]
}

// col2im scatters column gradients back onto the image gradient.
func (c *Conv2D) col2im(dcol, dimg []float32, ch int) {
	h, w := c.inH, c.inW
	k := c.KernelH * c.KernelW * ch
	for oh := 0; oh < c.outH; oh++ {
		for ow := 0; ow < c.outW; ow++ {
			row := dcol[(oh*c.outW+ow)*k : (oh*c.outW+ow+1)*k]
			for kh := 0; kh < c.KernelH; kh++ {
				ih := oh*c.Stride + kh - c.padTop
				if ih < 0 || ih >= h {
					continue
				}
				for kw := 0; kw < c.KernelW; kw++ {
					iw := ow*c.Stride + kw - c.padLeft
					if iw < 0 || iw >= w {
						continue
					}
					src := row[(kh*c.KernelW+kw)*ch : (kh*c.KernelW+kw+1)*ch]
					dst := dimg[(ih*w+iw)*ch : (ih*w+iw+1)*ch]
					for j, v := range src {
						dst[j] += v
					}
				}
			}
		}
	}
}

// growScratch makes sure bufs holds workers buffers of at least size
// elements. When need is false the buffers are left unallocated.
func growScratch(bufs [][]float32, workers, size int, need bool) [][]float32 {
	for len(bufs) < workers {
		bufs = append(bufs, nil)
	}
	if !need {
		return bufs
	}
	for i := 0; i < workers; i++ {
		if cap(bufs[i]) < size {
			bufs[i] = make([]float32, size)
		}
		bufs[i] = bufs[i][:size]
	}
	return bufs
}
