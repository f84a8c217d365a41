package nn

import (
	"fmt"
	"math"
	"math/rand"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-codec/tensor"
)

// Conv1d is a causal 1-D convolution. The input is left-padded by
// (kernel-1)*dilation zeros so no future samples are used; with stride s
// the input length must be a multiple of s and the output length is T/s.
//
// The reported delay is the kernel's group delay at the output rate,
// (kernel-1)*dilation / (2*stride).
type Conv1d struct {
	inCh, outCh int
	kernel      int
	stride      int
	dilation    int

	weight []float64 // (outCh, inCh, kernel), kernel innermost
	bias   []float64 // (outCh), nil when disabled

	lastPadded *tensor.Tensor // padded input of the last Process call
}

type convConfig struct {
	stride   int
	dilation int
	bias     bool
}

// ConvOption configures a Conv1d.
type ConvOption func(*convConfig)

// WithStride sets the downsampling stride. Defaults to 1.
func WithStride(s int) ConvOption {
	return func(c *convConfig) { c.stride = s }
}

// WithDilation sets the kernel dilation. Defaults to 1.
func WithDilation(d int) ConvOption {
	return func(c *convConfig) { c.dilation = d }
}

// WithoutBias disables the additive bias term.
func WithoutBias() ConvOption {
	return func(c *convConfig) { c.bias = false }
}

// NewConv1d creates a causal convolution with He-initialized weights
// drawn from rng.
func NewConv1d(rng *rand.Rand, inCh, outCh, kernel int, opts ...ConvOption) (*Conv1d, error) {
	if inCh <= 0 || outCh <= 0 {
		return nil, ErrInvalidChannels
	}
	if kernel <= 0 {
		return nil, ErrInvalidKernel
	}
	cfg := convConfig{stride: 1, dilation: 1, bias: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.stride <= 0 {
		return nil, ErrInvalidStride
	}
	if cfg.dilation <= 0 {
		return nil, ErrInvalidDilation
	}

	c := &Conv1d{
		inCh:     inCh,
		outCh:    outCh,
		kernel:   kernel,
		stride:   cfg.stride,
		dilation: cfg.dilation,
		weight:   make([]float64, outCh*inCh*kernel),
	}
	std := math.Sqrt(2 / float64(inCh*kernel))
	for i := range c.weight {
		c.weight[i] = rng.NormFloat64() * std
	}
	if cfg.bias {
		c.bias = make([]float64, outCh)
	}
	return c, nil
}

// Weight returns the kernel row for (outCh, inCh); mutations are visible.
func (c *Conv1d) Weight(co, ci int) []float64 {
	base := (co*c.inCh + ci) * c.kernel
	return c.weight[base : base+c.kernel]
}

// Bias returns the bias vector, or nil when disabled.
func (c *Conv1d) Bias() []float64 { return c.bias }

// Kernel returns the kernel size.
func (c *Conv1d) Kernel() int { return c.kernel }

// Stride returns the stride.
func (c *Conv1d) Stride() int { return c.stride }

// Delay returns the group delay at the output rate.
func (c *Conv1d) Delay() int {
	return (c.kernel - 1) * c.dilation / (2 * c.stride)
}

// Ratio returns (1, stride).
func (c *Conv1d) Ratio() (int, int) { return 1, c.stride }

// pad returns the causal left-padding in input samples.
func (c *Conv1d) pad() int { return (c.kernel - 1) * c.dilation }

// Process convolves a whole sequence of shape (B, inCh, T); T must be a
// multiple of the stride. The output has shape (B, outCh, T/stride).
func (c *Conv1d) Process(x *tensor.Tensor) *tensor.Tensor {
	padded := c.leftPad(x, nil)
	c.lastPadded = padded
	return c.run(padded, x.Length())
}

// VisitParams calls visit for every trainable parameter slice.
func (c *Conv1d) VisitParams(prefix string, visit func(name string, data []float64)) {
	visit(prefix+".weight", c.weight)
	if c.bias != nil {
		visit(prefix+".bias", c.bias)
	}
}

type convState struct {
	cache *tensor.Tensor // trailing (B, inCh, pad) context
}

// NewState allocates a zero history cache.
func (c *Conv1d) NewState(batch int) State {
	return &convState{cache: tensor.New(batch, c.inCh, c.pad())}
}

// ProcessStream convolves one chunk, using and updating the cached
// trailing context so chunked output matches whole-sequence output.
func (c *Conv1d) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	cs := st.(*convState)
	padded := c.leftPad(x, cs.cache)
	// Retain the trailing pad() samples as the next chunk's context.
	p := c.pad()
	if p > 0 {
		full := padded.Length()
		for b := 0; b < x.Batch(); b++ {
			for ci := 0; ci < c.inCh; ci++ {
				copy(cs.cache.Row(b, ci), padded.Row(b, ci)[full-p:full])
			}
		}
	}
	return c.run(padded, x.Length())
}

// leftPad prepends the history (or zeros) to x.
func (c *Conv1d) leftPad(x *tensor.Tensor, history *tensor.Tensor) *tensor.Tensor {
	if x.Channels() != c.inCh {
		panic(fmt.Sprintf("nn: conv expects %d input channels, got %d", c.inCh, x.Channels()))
	}
	if x.Length()%c.stride != 0 {
		panic(fmt.Sprintf("nn: conv input length %d not a multiple of stride %d", x.Length(), c.stride))
	}
	p := c.pad()
	out := tensor.New(x.Batch(), c.inCh, p+x.Length())
	for b := 0; b < x.Batch(); b++ {
		for ci := 0; ci < c.inCh; ci++ {
			row := out.Row(b, ci)
			if history != nil {
				copy(row[:p], history.Row(b, ci))
			}
			copy(row[p:], x.Row(b, ci))
		}
	}
	return out
}

// run correlates the padded input with the kernel.
func (c *Conv1d) run(padded *tensor.Tensor, inLen int) *tensor.Tensor {
	outLen := inLen / c.stride
	out := tensor.New(padded.Batch(), c.outCh, outLen)
	for b := 0; b < padded.Batch(); b++ {
		for co := 0; co < c.outCh; co++ {
			dst := out.Row(b, co)
			if c.bias != nil {
				for i := range dst {
					dst[i] = c.bias[co]
				}
			}
			for ci := 0; ci < c.inCh; ci++ {
				w := c.Weight(co, ci)
				src := padded.Row(b, ci)
				if c.dilation == 1 {
					for to := 0; to < outLen; to++ {
						dst[to] += vecmath.DotProduct(w, src[to*c.stride:to*c.stride+c.kernel])
					}
				} else {
					for to := 0; to < outLen; to++ {
						base := to * c.stride
						var acc float64
						for k := 0; k < c.kernel; k++ {
							acc += w[k] * src[base+k*c.dilation]
						}
						dst[to] += acc
					}
				}
			}
		}
	}
	return out
}

// Backward propagates output gradients to input gradients for the most
// recent Process call.
func (c *Conv1d) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if c.lastPadded == nil {
		panic("nn: conv Backward called before Process")
	}
	p := c.pad()
	inLen := c.lastPadded.Length() - p
	gradIn := tensor.New(grad.Batch(), c.inCh, inLen)
	for b := 0; b < grad.Batch(); b++ {
		for co := 0; co < c.outCh; co++ {
			g := grad.Row(b, co)
			for ci := 0; ci < c.inCh; ci++ {
				w := c.Weight(co, ci)
				dst := gradIn.Row(b, ci)
				for to := 0; to < grad.Length(); to++ {
					if g[to] == 0 {
						continue
					}
					base := to * c.stride
					for k := 0; k < c.kernel; k++ {
						// Index into the unpadded input.
						j := base + k*c.dilation - p
						if j >= 0 && j < inLen {
							dst[j] += w[k] * g[to]
						}
					}
				}
			}
		}
	}
	return gradIn
}
