package nn

// Layer is one differentiable stage. Forward caches whatever Backward
// needs, so a Backward call always refers to the most recent Forward.
// Backward accumulates into the Grad of the layer params and returns the
// gradient with respect to the Forward input.
type Layer interface {
	Forward(x *Tensor, train bool) *Tensor
	Backward(dy *Tensor) *Tensor
	Params() []*Param
}

// Updater is implemented by layers holding statistics that are refreshed
// outside of gradient descent. ApplyUpdates commits whatever the last
// training-mode Forward staged.
type Updater interface {
	ApplyUpdates()
}

// Sequential chains layers.
type Sequential []Layer

func (s Sequential) Forward(x *Tensor, train bool) *Tensor {
	for _, l := range s {
		x = l.Forward(x, train)
	}
	return x
}

func (s Sequential) Backward(dy *Tensor) *Tensor {
	for i := len(s) - 1; i >= 0; i-- {
		dy = s[i].Backward(dy)
	}
	return dy
}

func (s Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s {
		out = append(out, l.Params()...)
	}
	return out
}

// Updaters returns every Updater reachable through s.
func (s Sequential) Updaters() []Updater {
	var out []Updater
	for _, l := range s {
		out = append(out, CollectUpdaters(l)...)
	}
	return out
}

// updaterSource is implemented by composite layers that own Updaters.
type updaterSource interface {
	Updaters() []Updater
}

// CollectUpdaters returns the Updaters owned by l, including l itself.
func CollectUpdaters(l Layer) []Updater {
	var out []Updater
	if u, ok := l.(Updater); ok {
		out = append(out, u)
	}
	if src, ok := l.(updaterSource); ok {
		out = append(out, src.Updaters()...)
	}
	return out
}
