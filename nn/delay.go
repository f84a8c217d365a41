package nn

import (
	"github.com/cwbudde/algo-codec/tensor"
)

// DelayLine shifts a signal right by a fixed number of samples, reading
// zeros before the stream start. It is the alignment element inserted by
// AlignBranches on branches with less delay than their siblings.
type DelayLine struct {
	samples int
}

// NewDelayLine creates a delay of the given number of samples.
func NewDelayLine(samples int) *DelayLine {
	if samples < 0 {
		samples = 0
	}
	return &DelayLine{samples: samples}
}

// Delay returns the configured delay.
func (d *DelayLine) Delay() int { return d.samples }

// Ratio returns (1, 1).
func (d *DelayLine) Ratio() (int, int) { return 1, 1 }

// Process shifts the whole sequence right by the delay, zero-filling the
// head and dropping the tail.
func (d *DelayLine) Process(x *tensor.Tensor) *tensor.Tensor {
	if d.samples == 0 {
		return x
	}
	out := tensor.New(x.Batch(), x.Channels(), x.Length())
	n := x.Length() - d.samples
	if n <= 0 {
		return out
	}
	for b := 0; b < x.Batch(); b++ {
		for c := 0; c < x.Channels(); c++ {
			copy(out.Row(b, c)[d.samples:], x.Row(b, c)[:n])
		}
	}
	return out
}

// Backward shifts gradients left by the delay.
func (d *DelayLine) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.samples == 0 {
		return grad
	}
	out := tensor.New(grad.Batch(), grad.Channels(), grad.Length())
	n := grad.Length() - d.samples
	if n <= 0 {
		return out
	}
	for b := 0; b < grad.Batch(); b++ {
		for c := 0; c < grad.Channels(); c++ {
			copy(out.Row(b, c)[:n], grad.Row(b, c)[d.samples:])
		}
	}
	return out
}

type delayState struct {
	history *tensor.Tensor // last delay samples of the previous chunk
}

// NewState returns an empty history; the buffer is sized on first use,
// once the channel count is known.
func (d *DelayLine) NewState(batch int) State {
	return &delayState{}
}

// ProcessStream shifts one chunk, carrying the trailing samples into the
// next call so chunked output matches whole-sequence output.
func (d *DelayLine) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	if d.samples == 0 {
		return x
	}
	ds := st.(*delayState)
	if ds.history == nil {
		ds.history = tensor.New(x.Batch(), x.Channels(), d.samples)
	}
	joined := tensor.ConcatTime(ds.history, x)
	out := tensor.New(x.Batch(), x.Channels(), x.Length())
	for b := 0; b < x.Batch(); b++ {
		for c := 0; c < x.Channels(); c++ {
			row := joined.Row(b, c)
			copy(out.Row(b, c), row[:x.Length()])
			copy(ds.history.Row(b, c), row[x.Length():])
		}
	}
	return out
}
