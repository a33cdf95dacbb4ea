package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Dense is a fully connected layer. Inputs of any rank are flattened to
// batch x features.
type Dense struct {
	Name    string
	In, Out int
	W, B    *Param

	x *Tensor
}

// NewDense builds a dense layer with weights drawn from vs and zero bias.
func NewDense(name string, in, out int, vs VarianceScaling, rng *rand.Rand) *Dense {
	d := &Dense{
		Name: name,
		In:   in,
		Out:  out,
		W:    newParam(name+"/kernel", in, out),
		B:    newParam(name+"/bias", out),
	}
	vs.Fill(d.W.Value, in, out, rng)
	return d
}

func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }

func (d *Dense) String() string {
	return fmt.Sprintf("dense %s %d->%d", d.Name, d.In, d.Out)
}

func (d *Dense) Forward(x *Tensor, train bool) *Tensor {
	n := x.Shape[0]
	if len(x.Data) != n*d.In {
		panic(fmt.Sprintf("nn: %s expects %d features, got shape %v", d.Name, d.In, x.Shape))
	}
	d.x = x
	y := NewTensor(n, d.Out)
	for i := 0; i < n; i++ {
		copy(y.Data[i*d.Out:(i+1)*d.Out], d.B.Value)
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: n, Cols: d.In, Stride: d.In, Data: x.Data},
		blas32.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: d.W.Value},
		1, blas32.General{Rows: n, Cols: d.Out, Stride: d.Out, Data: y.Data})
	return y
}

func (d *Dense) Backward(dy *Tensor) *Tensor {
	n := d.x.Shape[0]
	xm := blas32.General{Rows: n, Cols: d.In, Stride: d.In, Data: d.x.Data}
	gm := blas32.General{Rows: n, Cols: d.Out, Stride: d.Out, Data: dy.Data}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, xm, gm,
		1, blas32.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: d.W.Grad})
	for i := 0; i < n; i++ {
		for o, v := range dy.Data[i*d.Out : (i+1)*d.Out] {
			d.B.Grad[o] += v
		}
	}
	dx := NewTensor(d.x.Shape...)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm,
		blas32.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: d.W.Value},
		0, blas32.General{Rows: n, Cols: d.In, Stride: d.In, Data: dx.Data})
	return dx
}
