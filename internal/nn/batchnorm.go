package nn

import (
	"fmt"
	"math"
)

const (
	DefaultMomentum = 0.99
	DefaultEpsilon  = 1e-3
)

// BatchNorm normalizes over every axis except the last. In training mode
// it uses the statistics of the current batch and stages them for the
// moving averages; the moving averages only change in ApplyUpdates. In
// inference mode it uses the moving averages.
//
// The staged variance of a rank-4 input is unbiased (m/(m-1)); a rank-2
// input stages the biased batch variance.
type BatchNorm struct {
	Name     string
	Momentum float64
	Epsilon  float64

	Gamma      *Param
	Beta       *Param
	MovingMean *Param
	MovingVar  *Param

	shape   []int
	xhat    []float32
	invStd  []float64
	trained bool

	pending    bool
	stagedMean []float64
	stagedVar  []float64
}

// NewBatchNorm returns a layer with unit scale, zero shift, zero moving
// mean and unit moving variance.
func NewBatchNorm(name string, channels int) *BatchNorm {
	b := &BatchNorm{
		Name:       name,
		Momentum:   DefaultMomentum,
		Epsilon:    DefaultEpsilon,
		Gamma:      newParam(name+"/gamma", channels),
		Beta:       newParam(name+"/beta", channels),
		MovingMean: newState(name+"/moving_mean", channels),
		MovingVar:  newState(name+"/moving_variance", channels),
		stagedMean: make([]float64, channels),
		stagedVar:  make([]float64, channels),
		invStd:     make([]float64, channels),
	}
	for i := range b.Gamma.Value {
		b.Gamma.Value[i] = 1
		b.MovingVar.Value[i] = 1
	}
	return b
}

func (b *BatchNorm) Params() []*Param {
	return []*Param{b.Gamma, b.Beta, b.MovingMean, b.MovingVar}
}

func (b *BatchNorm) String() string {
	return fmt.Sprintf("batchnorm %s %d", b.Name, len(b.Gamma.Value))
}

// Pending reports whether a training pass staged statistics that have not
// been applied yet.
func (b *BatchNorm) Pending() bool { return b.pending }

func (b *BatchNorm) Forward(x *Tensor, train bool) *Tensor {
	ch := x.Shape[len(x.Shape)-1]
	if ch != len(b.Gamma.Value) {
		panic(fmt.Sprintf("nn: %s expects %d channels, got %d", b.Name, len(b.Gamma.Value), ch))
	}
	m := len(x.Data) / ch
	b.shape = append(b.shape[:0], x.Shape...)
	b.trained = train
	if cap(b.xhat) < len(x.Data) {
		b.xhat = make([]float32, len(x.Data))
	}
	b.xhat = b.xhat[:len(x.Data)]

	mean := make([]float64, ch)
	if train {
		variance := make([]float64, ch)
		for p := 0; p < m; p++ {
			for j, v := range x.Data[p*ch : (p+1)*ch] {
				mean[j] += float64(v)
			}
		}
		for j := range mean {
			mean[j] /= float64(m)
		}
		for p := 0; p < m; p++ {
			for j, v := range x.Data[p*ch : (p+1)*ch] {
				d := float64(v) - mean[j]
				variance[j] += d * d
			}
		}
		for j := range variance {
			variance[j] /= float64(m)
			b.invStd[j] = 1 / math.Sqrt(variance[j]+b.Epsilon)
			b.stagedMean[j] = mean[j]
			b.stagedVar[j] = variance[j]
			if m > 1 && len(x.Shape) > 2 {
				b.stagedVar[j] *= float64(m) / float64(m-1)
			}
		}
		b.pending = true
	} else {
		for j := range mean {
			mean[j] = float64(b.MovingMean.Value[j])
			b.invStd[j] = 1 / math.Sqrt(float64(b.MovingVar.Value[j])+b.Epsilon)
		}
	}

	y := NewTensor(x.Shape...)
	for p := 0; p < m; p++ {
		off := p * ch
		for j := 0; j < ch; j++ {
			xh := float32((float64(x.Data[off+j]) - mean[j]) * b.invStd[j])
			b.xhat[off+j] = xh
			y.Data[off+j] = b.Gamma.Value[j]*xh + b.Beta.Value[j]
		}
	}
	return y
}

func (b *BatchNorm) Backward(dy *Tensor) *Tensor {
	ch := len(b.Gamma.Value)
	m := len(dy.Data) / ch
	sumDy := make([]float64, ch)
	sumDyXhat := make([]float64, ch)
	for p := 0; p < m; p++ {
		off := p * ch
		for j := 0; j < ch; j++ {
			g := float64(dy.Data[off+j])
			sumDy[j] += g
			sumDyXhat[j] += g * float64(b.xhat[off+j])
		}
	}
	for j := 0; j < ch; j++ {
		b.Gamma.Grad[j] += float32(sumDyXhat[j])
		b.Beta.Grad[j] += float32(sumDy[j])
	}

	dx := NewTensor(b.shape...)
	for p := 0; p < m; p++ {
		off := p * ch
		for j := 0; j < ch; j++ {
			scale := float64(b.Gamma.Value[j]) * b.invStd[j]
			g := float64(dy.Data[off+j])
			if b.trained {
				g = g - sumDy[j]/float64(m) - float64(b.xhat[off+j])*sumDyXhat[j]/float64(m)
			}
			dx.Data[off+j] = float32(scale * g)
		}
	}
	return dx
}

// ApplyUpdates folds the staged batch statistics into the moving averages.
func (b *BatchNorm) ApplyUpdates() {
	if !b.pending {
		return
	}
	decay := 1 - b.Momentum
	for j := range b.MovingMean.Value {
		mm := float64(b.MovingMean.Value[j])
		mv := float64(b.MovingVar.Value[j])
		b.MovingMean.Value[j] = float32(mm - (mm-b.stagedMean[j])*decay)
		b.MovingVar.Value[j] = float32(mv - (mv-b.stagedVar[j])*decay)
	}
	b.pending = false
}
