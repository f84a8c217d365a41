// Package discriminator implements the adversarial critics used once
// training enters its adversarial phase. Each critic is a strided
// convolutional net returning its intermediate feature maps alongside a
// final score map; the multiscale wrapper runs several critics on
// progressively downsampled audio.
package discriminator

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-codec/nn"
	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by constructors.
var (
	ErrInvalidLayers = errors.New("discriminator: layer count must be positive")
	ErrInvalidScales = errors.New("discriminator: scale count must be positive")
)

// ConvNet is one critic: a stack of strided convolutions with LeakyReLU
// activations, closed by a 1x1 convolution producing the score map.
// Channel width starts at capacity and doubles per layer.
type ConvNet struct {
	convs []*nn.Conv1d
	final *nn.Conv1d
	act   *nn.LeakyReLU
}

type config struct {
	capacity int
	layers   int
	kernel   int
	stride   int
}

// Option configures a ConvNet.
type Option func(*config)

// WithCapacity sets the channel width of the first layer. Defaults to 16.
func WithCapacity(c int) Option { return func(cfg *config) { cfg.capacity = c } }

// WithLayers sets the number of strided layers. Defaults to 4.
func WithLayers(n int) Option { return func(cfg *config) { cfg.layers = n } }

// WithKernel sets the kernel size of the strided layers. Defaults to 15.
func WithKernel(k int) Option { return func(cfg *config) { cfg.kernel = k } }

// WithStride sets the stride of every layer. Defaults to 4.
func WithStride(s int) Option { return func(cfg *config) { cfg.stride = s } }

// NewConvNet creates a critic over inChannels input channels.
func NewConvNet(rng *rand.Rand, inChannels int, opts ...Option) (*ConvNet, error) {
	cfg := config{capacity: 16, layers: 4, kernel: 15, stride: 4}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.layers < 1 {
		return nil, ErrInvalidLayers
	}
	net := &ConvNet{act: nn.NewLeakyReLU(0.2)}
	in := inChannels
	out := cfg.capacity
	for i := 0; i < cfg.layers; i++ {
		conv, err := nn.NewConv1d(rng, in, out, cfg.kernel, nn.WithStride(cfg.stride))
		if err != nil {
			return nil, fmt.Errorf("discriminator: layer %d: %w", i, err)
		}
		net.convs = append(net.convs, conv)
		in = out
		out *= 2
	}
	final, err := nn.NewConv1d(rng, in, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("discriminator: score layer: %w", err)
	}
	net.final = final
	return net, nil
}

// Features runs the critic and returns the feature map after every
// convolution. The last entry is the score map.
func (c *ConvNet) Features(x *tensor.Tensor) []*tensor.Tensor {
	features := make([]*tensor.Tensor, 0, len(c.convs)+1)
	for _, conv := range c.convs {
		_, stride := conv.Ratio()
		x = conv.Process(cropToMultiple(x, stride))
		features = append(features, x)
		x = c.act.Process(x)
	}
	x = c.final.Process(x)
	features = append(features, x)
	return features
}

// Score runs the critic and returns only the flattened score map.
func (c *ConvNet) Score(x *tensor.Tensor) []float64 {
	features := c.Features(x)
	return flatten(features[len(features)-1])
}

// VisitParams exposes every convolution's parameters.
func (c *ConvNet) VisitParams(prefix string, visit func(name string, data []float64)) {
	for i, conv := range c.convs {
		conv.VisitParams(fmt.Sprintf("%s.%d", prefix, i), visit)
	}
	c.final.VisitParams(prefix+".score", visit)
}

// MultiScale runs independent critics on progressively halved audio.
type MultiScale struct {
	nets []*ConvNet
}

// NewMultiScale creates numScales critics over inChannels channels.
func NewMultiScale(rng *rand.Rand, numScales, inChannels int, opts ...Option) (*MultiScale, error) {
	if numScales < 1 {
		return nil, ErrInvalidScales
	}
	m := &MultiScale{}
	for i := 0; i < numScales; i++ {
		net, err := NewConvNet(rng, inChannels, opts...)
		if err != nil {
			return nil, fmt.Errorf("discriminator: scale %d: %w", i, err)
		}
		m.nets = append(m.nets, net)
	}
	return m, nil
}

// NumScales returns the number of critics.
func (m *MultiScale) NumScales() int { return len(m.nets) }

// Features returns one feature-map slice per scale. The input is
// average-pooled by two between scales.
func (m *MultiScale) Features(x *tensor.Tensor) [][]*tensor.Tensor {
	out := make([][]*tensor.Tensor, len(m.nets))
	for i, net := range m.nets {
		out[i] = net.Features(x)
		if i < len(m.nets)-1 {
			x = avgPool2(x)
		}
	}
	return out
}

// Scores returns the flattened score map of every scale.
func (m *MultiScale) Scores(x *tensor.Tensor) [][]float64 {
	features := m.Features(x)
	out := make([][]float64, len(features))
	for i, f := range features {
		out[i] = flatten(f[len(f)-1])
	}
	return out
}

// VisitParams exposes every critic's parameters.
func (m *MultiScale) VisitParams(prefix string, visit func(name string, data []float64)) {
	for i, net := range m.nets {
		net.VisitParams(fmt.Sprintf("%s.scale%d", prefix, i), visit)
	}
}

// avgPool2 halves the time axis by averaging adjacent pairs.
func avgPool2(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Batch(), x.Channels(), x.Length()/2)
	for b := 0; b < x.Batch(); b++ {
		for c := 0; c < x.Channels(); c++ {
			src := x.Row(b, c)
			dst := out.Row(b, c)
			for t := range dst {
				dst[t] = 0.5 * (src[2*t] + src[2*t+1])
			}
		}
	}
	return out
}

// cropToMultiple trims trailing samples so the length divides stride.
func cropToMultiple(x *tensor.Tensor, stride int) *tensor.Tensor {
	if r := x.Length() % stride; r != 0 {
		return x.CropTime(0, x.Length()-r)
	}
	return x
}

func flatten(x *tensor.Tensor) []float64 {
	out := make([]float64, 0, x.Batch()*x.Channels()*x.Length())
	for b := 0; b < x.Batch(); b++ {
		for c := 0; c < x.Channels(); c++ {
			out = append(out, x.Row(b, c)...)
		}
	}
	return out
}
