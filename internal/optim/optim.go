// Package optim holds first-order optimizers that update nn params from
// their accumulated gradients.
package optim

import (
	"errors"
	"fmt"
	"math"

	"iceberg-inception/internal/nn"
)

// Optimizer applies one update to params using their current gradients.
// Non-trainable params are ignored.
type Optimizer interface {
	Step(params []*nn.Param) error
}

// Settings configures Adam and AMSGrad.
type Settings struct {
	LearningRate float64 `yaml:"learning_rate"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	Epsilon      float64 `yaml:"epsilon"`
	AMSGrad      bool    `yaml:"amsgrad"`
}

// DefaultSettings returns AMSGrad with learning rate 1e-3.
func DefaultSettings() Settings {
	return Settings{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.99,
		Epsilon:      1e-8,
		AMSGrad:      true,
	}
}

// Validate checks the hyperparameters.
func (s Settings) Validate() error {
	if !(s.LearningRate > 0) || math.IsInf(s.LearningRate, 0) {
		return fmt.Errorf("optim: learning rate must be > 0 (got %v)", s.LearningRate)
	}
	if s.Beta1 < 0 || s.Beta1 >= 1 {
		return fmt.Errorf("optim: beta1 must be in [0, 1) (got %v)", s.Beta1)
	}
	if s.Beta2 < 0 || s.Beta2 >= 1 {
		return fmt.Errorf("optim: beta2 must be in [0, 1) (got %v)", s.Beta2)
	}
	if !(s.Epsilon > 0) {
		return fmt.Errorf("optim: epsilon must be > 0 (got %v)", s.Epsilon)
	}
	return nil
}

// Adam is the Adam optimizer. With AMSGrad set it divides by the running
// maximum of the second moment instead of the moment itself, so the
// per-parameter denominator never shrinks.
type Adam struct {
	Settings
	t     int
	slots map[string]*slot
}

type slot struct {
	m, v, vhat []float32
}

// ErrGradientShape is returned when a gradient does not match its value.
var ErrGradientShape = errors.New("optim: gradient length does not match parameter")

// New returns an optimizer for s. It fails on invalid settings.
func New(s Settings) (*Adam, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Adam{Settings: s, slots: make(map[string]*slot)}, nil
}

// NewAMSGrad returns New(s) with the AMSGrad variant switched on.
func NewAMSGrad(s Settings) (*Adam, error) {
	s.AMSGrad = true
	return New(s)
}

// Iterations returns the number of steps taken.
func (a *Adam) Iterations() int { return a.t }

func (a *Adam) Step(params []*nn.Param) error {
	a.t++
	t := float64(a.t)
	lrT := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	eps := a.Epsilon

	for _, p := range params {
		if !p.Trainable {
			continue
		}
		if len(p.Grad) != len(p.Value) {
			return fmt.Errorf("%w: %s", ErrGradientShape, p.Name)
		}
		s := a.slot(p)
		for i, g := range p.Grad {
			s.m[i] = b1*s.m[i] + (1-b1)*g
			s.v[i] = b2*s.v[i] + (1-b2)*g*g
			denom := s.v[i]
			if a.AMSGrad {
				if s.v[i] > s.vhat[i] {
					s.vhat[i] = s.v[i]
				}
				denom = s.vhat[i]
			}
			p.Value[i] -= float32(lrT * float64(s.m[i]) / (math.Sqrt(float64(denom)) + eps))
		}
	}
	return nil
}

func (a *Adam) slot(p *nn.Param) *slot {
	s, ok := a.slots[p.Name]
	if ok && len(s.m) == len(p.Value) {
		return s
	}
	n := len(p.Value)
	s = &slot{m: make([]float32, n), v: make([]float32, n)}
	if a.AMSGrad {
		s.vhat = make([]float32, n)
	}
	a.slots[p.Name] = s
	return s
}
