// Package tensor provides a minimal (batch, channel, time) tensor over a
// flat float64 slice, with the time axis innermost.
//
// All model code in this module is shape-contract-driven: every operation
// documents the (B, C, T) shape it expects and produces. Channel rows are
// contiguous in memory, so per-channel processing can hand sub-slices
// directly to vectorized routines.
//
// The package intentionally stays small. It is not a general tensor
// library; it carries exactly the operations the codec needs.
package tensor

import (
	"fmt"
	"math/rand"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Tensor is a dense (batch, channel, time) array. Time is the innermost
// dimension; the row (b, c) occupies data[(b*C+c)*T : (b*C+c+1)*T].
type Tensor struct {
	data     []float64
	batch    int
	channels int
	length   int
}

// New returns a zero-filled tensor of shape (batch, channels, length).
// Panics if any dimension is negative.
func New(batch, channels, length int) *Tensor {
	if batch < 0 || channels < 0 || length < 0 {
		panic(fmt.Sprintf("tensor: invalid shape (%d, %d, %d)", batch, channels, length))
	}
	return &Tensor{
		data:     make([]float64, batch*channels*length),
		batch:    batch,
		channels: channels,
		length:   length,
	}
}

// FromSlice wraps an existing flat slice without copying.
// len(data) must equal batch*channels*length.
func FromSlice(data []float64, batch, channels, length int) *Tensor {
	if len(data) != batch*channels*length {
		panic(fmt.Sprintf("tensor: slice length %d does not match shape (%d, %d, %d)",
			len(data), batch, channels, length))
	}
	return &Tensor{data: data, batch: batch, channels: channels, length: length}
}

// Randn returns a tensor filled with draws from N(0, 1) using rng.
func Randn(rng *rand.Rand, batch, channels, length int) *Tensor {
	t := New(batch, channels, length)
	for i := range t.data {
		t.data[i] = rng.NormFloat64()
	}
	return t
}

// Batch returns the batch dimension.
func (t *Tensor) Batch() int { return t.batch }

// Channels returns the channel dimension.
func (t *Tensor) Channels() int { return t.channels }

// Length returns the time dimension.
func (t *Tensor) Length() int { return t.length }

// Data returns the underlying flat slice.
func (t *Tensor) Data() []float64 { return t.data }

// Row returns the contiguous time slice for (b, c).
// Mutations through the returned slice are visible in the tensor.
func (t *Tensor) Row(b, c int) []float64 {
	base := (b*t.channels + c) * t.length
	return t.data[base : base+t.length]
}

// At returns the sample at (b, c, i).
func (t *Tensor) At(b, c, i int) float64 {
	return t.data[(b*t.channels+c)*t.length+i]
}

// Set stores v at (b, c, i).
func (t *Tensor) Set(b, c, i int, v float64) {
	t.data[(b*t.channels+c)*t.length+i] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.batch, t.channels, t.length)
	copy(out.data, t.data)
	return out
}

// Zero sets all samples to 0.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// SameShape reports whether o has identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.batch == o.batch && t.channels == o.channels && t.length == o.length
}

// assertSameShape panics with a descriptive message on shape mismatch.
func (t *Tensor) assertSameShape(o *Tensor, op string) {
	if !t.SameShape(o) {
		panic(fmt.Sprintf("tensor: %s shape mismatch (%d, %d, %d) vs (%d, %d, %d)",
			op, t.batch, t.channels, t.length, o.batch, o.channels, o.length))
	}
}

// AddInPlace adds o element-wise into t.
func (t *Tensor) AddInPlace(o *Tensor) {
	t.assertSameShape(o, "add")
	vecmath.AddBlockInPlace(t.data, o.data)
}

// MulInPlace multiplies t element-wise by o.
func (t *Tensor) MulInPlace(o *Tensor) {
	t.assertSameShape(o, "mul")
	vecmath.MulBlockInPlace(t.data, o.data)
}

// Scale multiplies every sample by s and returns a new tensor.
func (t *Tensor) Scale(s float64) *Tensor {
	out := New(t.batch, t.channels, t.length)
	vecmath.ScaleBlock(out.data, t.data, s)
	return out
}

// Apply returns a new tensor with f applied to every sample.
func (t *Tensor) Apply(f func(float64) float64) *Tensor {
	out := New(t.batch, t.channels, t.length)
	for i, v := range t.data {
		out.data[i] = f(v)
	}
	return out
}

// ApplyInPlace applies f to every sample in place.
func (t *Tensor) ApplyInPlace(f func(float64) float64) {
	for i, v := range t.data {
		t.data[i] = f(v)
	}
}

// Sum returns the sum of all samples.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.data {
		s += v
	}
	return s
}

// Mean returns the arithmetic mean of all samples, or 0 for an empty tensor.
func (t *Tensor) Mean() float64 {
	if len(t.data) == 0 {
		return 0
	}
	return t.Sum() / float64(len(t.data))
}

// MaxAbs returns the largest absolute sample value.
func (t *Tensor) MaxAbs() float64 {
	var m float64
	for _, v := range t.data {
		if v > m {
			m = v
		} else if -v > m {
			m = -v
		}
	}
	return m
}

// CropTime returns a copy restricted to time indices [from, to).
// Panics if the range is out of bounds.
func (t *Tensor) CropTime(from, to int) *Tensor {
	if from < 0 || to > t.length || from > to {
		panic(fmt.Sprintf("tensor: crop [%d, %d) out of range for length %d", from, to, t.length))
	}
	out := New(t.batch, t.channels, to-from)
	for b := 0; b < t.batch; b++ {
		for c := 0; c < t.channels; c++ {
			copy(out.Row(b, c), t.Row(b, c)[from:to])
		}
	}
	return out
}

// ConcatTime concatenates a and b along the time axis.
// Batch and channel dimensions must match.
func ConcatTime(a, b *Tensor) *Tensor {
	if a.batch != b.batch || a.channels != b.channels {
		panic(fmt.Sprintf("tensor: concat shape mismatch (%d, %d) vs (%d, %d)",
			a.batch, a.channels, b.batch, b.channels))
	}
	out := New(a.batch, a.channels, a.length+b.length)
	for bi := 0; bi < a.batch; bi++ {
		for c := 0; c < a.channels; c++ {
			row := out.Row(bi, c)
			copy(row, a.Row(bi, c))
			copy(row[a.length:], b.Row(bi, c))
		}
	}
	return out
}

// SplitChannels splits t into two tensors along the channel axis at index c.
func (t *Tensor) SplitChannels(c int) (*Tensor, *Tensor) {
	if c < 0 || c > t.channels {
		panic(fmt.Sprintf("tensor: channel split at %d out of range for %d channels", c, t.channels))
	}
	lo := New(t.batch, c, t.length)
	hi := New(t.batch, t.channels-c, t.length)
	for b := 0; b < t.batch; b++ {
		for ch := 0; ch < c; ch++ {
			copy(lo.Row(b, ch), t.Row(b, ch))
		}
		for ch := c; ch < t.channels; ch++ {
			copy(hi.Row(b, ch-c), t.Row(b, ch))
		}
	}
	return lo, hi
}
