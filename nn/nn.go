// Package nn provides the causal, streaming-capable building blocks the
// codec's encoder and decoder are composed of: 1-D convolutions,
// transposed convolutions, activations, delay lines, and combinators for
// sequential and parallel composition.
//
// # Delay bookkeeping
//
// Every block reports a cumulative delay: the number of samples (at the
// block's output rate) by which its response is shifted relative to a
// zero-delay reference. Sequential composition accumulates delays,
// rescaling across resampling stages; parallel composition aligns
// branches with delay lines and reports the maximum. The top-level model
// uses the total delay to crop invalid borders before loss computation.
//
// # Streaming
//
// Each block can process a signal either whole (Process) or chunk by
// chunk (ProcessStream) with an explicit per-stream State that caches the
// trailing context required by the next chunk. Concatenating the outputs
// of chunked calls equals the whole-sequence output exactly, for any
// chunk boundaries that respect the block's stride. State instances must
// not be shared across concurrent streams; allocate one per stream.
//
// # Backward passes
//
// Blocks propagate output gradients back to input gradients for the most
// recent Process call (Backward). This supports the receptive-field
// probe; parameter gradients are out of scope. Process and Backward on
// the same block are not safe for concurrent use.
package nn

import (
	"errors"

	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by block constructors.
var (
	ErrInvalidKernel   = errors.New("nn: kernel size must be positive")
	ErrInvalidStride   = errors.New("nn: stride must be positive")
	ErrInvalidDilation = errors.New("nn: dilation must be positive")
	ErrInvalidChannels = errors.New("nn: channel count must be positive")
	ErrInvalidRatio    = errors.New("nn: upsampling ratio must be positive")
)

// Module is a composable network block operating on (B, C, T) tensors.
type Module interface {
	// Process runs the block over a whole sequence.
	Process(x *tensor.Tensor) *tensor.Tensor

	// Backward propagates gradients with respect to the output of the
	// most recent Process call back to gradients with respect to its
	// input. Only input gradients are computed.
	Backward(grad *tensor.Tensor) *tensor.Tensor

	// Delay returns the block's cumulative delay in samples at the
	// output rate.
	Delay() int

	// Ratio returns the output/input sample-rate ratio as a rational
	// (up, down). A stride-s convolution reports (1, s); an upsampling
	// stage with ratio r reports (r, 1).
	Ratio() (up, down int)
}

// State holds the per-stream cache of a single block (or block tree).
// Obtain one from NewState and thread it through ProcessStream calls;
// never share a State between concurrent streams.
type State any

// Streamer is a Module that supports chunked processing.
type Streamer interface {
	Module

	// NewState allocates a fresh stream cache for the given batch size.
	NewState(batch int) State

	// ProcessStream processes one chunk, reading and updating st.
	ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor
}

// Sequential composes blocks in order. Its cumulative delay accumulates
// the member delays, rescaled through resampling stages; its ratio is
// the product of member ratios.
type Sequential struct {
	mods  []Streamer
	delay int
	up    int
	down  int
}

// NewSequential builds a sequential composition of the given blocks.
func NewSequential(mods ...Streamer) *Sequential {
	s := &Sequential{mods: mods, up: 1, down: 1}
	d := 0
	for _, m := range mods {
		u, dn := m.Ratio()
		d = d * u / dn
		d += m.Delay()
		s.up *= u
		s.down *= dn
	}
	// Reduce the ratio so deep stacks don't overflow.
	g := gcd(s.up, s.down)
	s.up /= g
	s.down /= g
	s.delay = d
	return s
}

// Modules returns the composed blocks in order.
func (s *Sequential) Modules() []Streamer { return s.mods }

// Process applies every block in order.
func (s *Sequential) Process(x *tensor.Tensor) *tensor.Tensor {
	for _, m := range s.mods {
		x = m.Process(x)
	}
	return x
}

// Backward propagates gradients through the blocks in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) *tensor.Tensor {
	for i := len(s.mods) - 1; i >= 0; i-- {
		grad = s.mods[i].Backward(grad)
	}
	return grad
}

// Delay returns the cumulative delay at the output rate.
func (s *Sequential) Delay() int { return s.delay }

// Ratio returns the composed resampling ratio.
func (s *Sequential) Ratio() (int, int) { return s.up, s.down }

type sequentialState struct {
	sub []State
}

// NewState allocates stream caches for all member blocks.
func (s *Sequential) NewState(batch int) State {
	st := &sequentialState{sub: make([]State, len(s.mods))}
	for i, m := range s.mods {
		st.sub[i] = m.NewState(batch)
	}
	return st
}

// ProcessStream processes one chunk through every block in order.
func (s *Sequential) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	ss := st.(*sequentialState)
	for i, m := range s.mods {
		x = m.ProcessStream(ss.sub[i], x)
	}
	return x
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
