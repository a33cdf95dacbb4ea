package nn

// Param is a named parameter buffer. Trainable params carry a gradient of
// the same length; running statistics are stored as non-trainable params
// so they are serialized with the rest of the model.
type Param struct {
	Name      string
	Shape     []int
	Value     []float32
	Grad      []float32
	Trainable bool
}

func newParam(name string, shape ...int) *Param {
	n := Volume(shape)
	return &Param{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Value:     make([]float32, n),
		Grad:      make([]float32, n),
		Trainable: true,
	}
}

func newState(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float32, Volume(shape)),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of every trainable param.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		if p.Trainable {
			p.ZeroGrad()
		}
	}
}

// Trainable filters params down to the ones updated by gradient descent.
func Trainable(params []*Param) []*Param {
	out := make([]*Param, 0, len(params))
	for _, p := range params {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

// CountValues returns the total number of scalars across params.
func CountValues(params []*Param) int {
	n := 0
	for _, p := range params {
		n += len(p.Value)
	}
	return n
}
