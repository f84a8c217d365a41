package nn

import (
	"math"

	"github.com/cwbudde/algo-codec/tensor"
)

// LeakyReLU is the pointwise activation max(x, slope*x).
type LeakyReLU struct {
	slope float64

	lastIn *tensor.Tensor
}

// NewLeakyReLU creates a leaky rectifier; the backbone uses slope 0.2.
func NewLeakyReLU(slope float64) *LeakyReLU {
	return &LeakyReLU{slope: slope}
}

// Process applies the activation.
func (l *LeakyReLU) Process(x *tensor.Tensor) *tensor.Tensor {
	l.lastIn = x
	return l.apply(x)
}

func (l *LeakyReLU) apply(x *tensor.Tensor) *tensor.Tensor {
	return x.Apply(func(v float64) float64 {
		if v < 0 {
			return l.slope * v
		}
		return v
	})
}

// Backward scales gradients by the activation slope at the cached input.
func (l *LeakyReLU) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if l.lastIn == nil {
		panic("nn: activation Backward called before Process")
	}
	out := grad.Clone()
	in := l.lastIn.Data()
	data := out.Data()
	for i := range data {
		if in[i] < 0 {
			data[i] *= l.slope
		}
	}
	return out
}

// Delay returns 0; pointwise blocks introduce no delay.
func (l *LeakyReLU) Delay() int { return 0 }

// Ratio returns (1, 1).
func (l *LeakyReLU) Ratio() (int, int) { return 1, 1 }

// NewState returns nil; pointwise blocks carry no stream state.
func (l *LeakyReLU) NewState(batch int) State { return nil }

// ProcessStream applies the activation to one chunk.
func (l *LeakyReLU) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	return l.apply(x)
}

// Tanh is the pointwise hyperbolic tangent.
type Tanh struct {
	lastOut *tensor.Tensor
}

// NewTanh creates a tanh activation.
func NewTanh() *Tanh { return &Tanh{} }

// Process applies tanh.
func (t *Tanh) Process(x *tensor.Tensor) *tensor.Tensor {
	out := x.Apply(math.Tanh)
	t.lastOut = out
	return out
}

// Backward scales gradients by 1 - tanh(x)^2 using the cached output.
func (t *Tanh) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if t.lastOut == nil {
		panic("nn: activation Backward called before Process")
	}
	out := grad.Clone()
	y := t.lastOut.Data()
	data := out.Data()
	for i := range data {
		data[i] *= 1 - y[i]*y[i]
	}
	return out
}

// Delay returns 0.
func (t *Tanh) Delay() int { return 0 }

// Ratio returns (1, 1).
func (t *Tanh) Ratio() (int, int) { return 1, 1 }

// NewState returns nil.
func (t *Tanh) NewState(batch int) State { return nil }

// ProcessStream applies tanh to one chunk.
func (t *Tanh) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	return x.Apply(math.Tanh)
}
