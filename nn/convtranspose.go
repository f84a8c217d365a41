package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-codec/tensor"
)

// ConvTranspose1d is a causal transposed convolution used for
// upsampling. An input of length T produces an output of length
// T*stride; the trailing kernel tail that reaches beyond T*stride is
// carried into the next chunk when streaming, and dropped at the end of
// a whole-sequence call, so chunked and whole-sequence outputs agree
// exactly.
//
// The reported delay is (kernel-stride)/2 samples at the output rate.
type ConvTranspose1d struct {
	inCh, outCh int
	kernel      int
	stride      int

	weight []float64 // (outCh, inCh, kernel), kernel innermost
	bias   []float64

	lastInLen int
}

// NewConvTranspose1d creates a transposed convolution with
// He-initialized weights drawn from rng. kernel must be >= stride.
func NewConvTranspose1d(rng *rand.Rand, inCh, outCh, kernel, stride int) (*ConvTranspose1d, error) {
	if inCh <= 0 || outCh <= 0 {
		return nil, ErrInvalidChannels
	}
	if kernel <= 0 {
		return nil, ErrInvalidKernel
	}
	if stride <= 0 {
		return nil, ErrInvalidStride
	}
	if kernel < stride {
		return nil, fmt.Errorf("nn: transposed conv kernel %d smaller than stride %d", kernel, stride)
	}
	ct := &ConvTranspose1d{
		inCh:   inCh,
		outCh:  outCh,
		kernel: kernel,
		stride: stride,
		weight: make([]float64, outCh*inCh*kernel),
		bias:   make([]float64, outCh),
	}
	std := math.Sqrt(2 / float64(inCh*kernel))
	for i := range ct.weight {
		ct.weight[i] = rng.NormFloat64() * std
	}
	return ct, nil
}

// Weight returns the kernel row for (outCh, inCh); mutations are visible.
func (ct *ConvTranspose1d) Weight(co, ci int) []float64 {
	base := (co*ct.inCh + ci) * ct.kernel
	return ct.weight[base : base+ct.kernel]
}

// Bias returns the bias vector.
func (ct *ConvTranspose1d) Bias() []float64 { return ct.bias }

// Delay returns the group delay at the output rate.
func (ct *ConvTranspose1d) Delay() int { return (ct.kernel - ct.stride) / 2 }

// Ratio returns (stride, 1).
func (ct *ConvTranspose1d) Ratio() (int, int) { return ct.stride, 1 }

// tail returns the number of output samples carried between chunks.
func (ct *ConvTranspose1d) tail() int { return ct.kernel - ct.stride }

// VisitParams calls visit for every trainable parameter slice.
func (ct *ConvTranspose1d) VisitParams(prefix string, visit func(name string, data []float64)) {
	visit(prefix+".weight", ct.weight)
	visit(prefix+".bias", ct.bias)
}

// Process upsamples a whole sequence of shape (B, inCh, T) to
// (B, outCh, T*stride).
func (ct *ConvTranspose1d) Process(x *tensor.Tensor) *tensor.Tensor {
	ct.lastInLen = x.Length()
	out, _ := ct.run(x, nil)
	return out
}

type convTransposeState struct {
	carry *tensor.Tensor // (B, outCh, kernel-stride) overlap into the next chunk
}

// NewState allocates a zero carry buffer.
func (ct *ConvTranspose1d) NewState(batch int) State {
	return &convTransposeState{carry: tensor.New(batch, ct.outCh, ct.tail())}
}

// ProcessStream upsamples one chunk, folding in the carried overlap from
// the previous chunk and saving the new overlap.
func (ct *ConvTranspose1d) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	cs := st.(*convTransposeState)
	out, tail := ct.run(x, cs.carry)
	cs.carry = tail
	return out
}

// run computes the transposed convolution. carry, when non-nil, is added
// to the first kernel-stride output samples. The second return value is
// the overlap reaching past the output, for the next chunk.
func (ct *ConvTranspose1d) run(x *tensor.Tensor, carry *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	if x.Channels() != ct.inCh {
		panic(fmt.Sprintf("nn: transposed conv expects %d input channels, got %d", ct.inCh, x.Channels()))
	}
	outLen := x.Length() * ct.stride
	fullLen := outLen + ct.tail()
	full := tensor.New(x.Batch(), ct.outCh, fullLen)
	for b := 0; b < x.Batch(); b++ {
		for co := 0; co < ct.outCh; co++ {
			dst := full.Row(b, co)
			for ci := 0; ci < ct.inCh; ci++ {
				w := ct.Weight(co, ci)
				src := x.Row(b, ci)
				for t, v := range src {
					if v == 0 {
						continue
					}
					base := t * ct.stride
					for k := 0; k < ct.kernel; k++ {
						dst[base+k] += v * w[k]
					}
				}
			}
			for i := 0; i < outLen; i++ {
				dst[i] += ct.bias[co]
			}
		}
	}

	out := tensor.New(x.Batch(), ct.outCh, outLen)
	tail := tensor.New(x.Batch(), ct.outCh, ct.tail())
	for b := 0; b < x.Batch(); b++ {
		for co := 0; co < ct.outCh; co++ {
			row := full.Row(b, co)
			dst := out.Row(b, co)
			copy(dst, row[:outLen])
			if carry != nil {
				prev := carry.Row(b, co)
				for i := range prev {
					dst[i] += prev[i]
				}
			}
			copy(tail.Row(b, co), row[outLen:])
		}
	}
	return out, tail
}

// Backward propagates output gradients to input gradients for the most
// recent Process call. Gradients flowing into the dropped tail are not
// observed, consistent with the forward pass.
func (ct *ConvTranspose1d) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if ct.lastInLen == 0 {
		panic("nn: transposed conv Backward called before Process")
	}
	outLen := grad.Length()
	gradIn := tensor.New(grad.Batch(), ct.inCh, ct.lastInLen)
	for b := 0; b < grad.Batch(); b++ {
		for co := 0; co < ct.outCh; co++ {
			g := grad.Row(b, co)
			for ci := 0; ci < ct.inCh; ci++ {
				w := ct.Weight(co, ci)
				dst := gradIn.Row(b, ci)
				for t := 0; t < ct.lastInLen; t++ {
					base := t * ct.stride
					var acc float64
					for k := 0; k < ct.kernel; k++ {
						if base+k < outLen {
							acc += w[k] * g[base+k]
						}
					}
					dst[t] += acc
				}
			}
		}
	}
	return gradIn
}
