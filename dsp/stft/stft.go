// Package stft computes magnitude short-time Fourier transforms, at a
// single scale or across several scales with a constant overlap ratio.
// The multiscale form feeds the spectral reconstruction losses: small
// windows resolve transients, large windows resolve pitch.
package stft

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-codec/dsp/window"
)

// Errors returned by constructors.
var (
	ErrInvalidSize    = errors.New("stft: window size must be a positive power of two")
	ErrInvalidOverlap = errors.New("stft: overlap must be in [0, 1)")
	ErrNoScales       = errors.New("stft: at least one scale required")
)

// Transform computes the magnitude STFT at one scale.
type Transform struct {
	size int
	hop  int

	window []float64
	norm   float64
	plan   *algofft.Plan[complex128]

	frame []complex128
	re    []float64
	im    []float64
}

// New creates a transform with the given window size (a power of two)
// and overlap ratio. The hop is size*(1-overlap).
func New(size int, overlap float64) (*Transform, error) {
	if overlap < 0 || overlap >= 1 {
		return nil, ErrInvalidOverlap
	}
	hop := int(float64(size) * (1 - overlap))
	if hop < 1 {
		hop = 1
	}
	return NewWithHop(size, hop)
}

// NewWithHop creates a transform with an explicit hop size, used where
// the hop is tied to an external rate rather than an overlap ratio.
func NewWithHop(size, hop int) (*Transform, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, ErrInvalidSize
	}
	if hop < 1 {
		return nil, ErrInvalidOverlap
	}
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("stft: FFT plan: %w", err)
	}

	return &Transform{
		size:   size,
		hop:    hop,
		window: window.Hann(size, window.WithPeriodic()),
		norm:   1 / math.Sqrt(float64(size)),
		plan:   plan,
		frame:  make([]complex128, size),
		re:     make([]float64, size/2+1),
		im:     make([]float64, size/2+1),
	}, nil
}

// Size returns the window size.
func (t *Transform) Size() int { return t.size }

// Hop returns the hop size.
func (t *Transform) Hop() int { return t.hop }

// Bins returns the number of frequency bins per frame (size/2 + 1).
func (t *Transform) Bins() int { return t.size/2 + 1 }

// NumFrames returns the number of frames produced for an input of the
// given length.
func (t *Transform) NumFrames(length int) int { return 1 + length/t.hop }

// Magnitude computes the magnitude spectrogram of x as frames of
// size/2+1 bins. The signal is centered: each frame f covers
// x[f*hop-size/2 : f*hop+size/2] with reflected edges.
func (t *Transform) Magnitude(x []float64) [][]float64 {
	frames := t.NumFrames(len(x))
	out := make([][]float64, frames)
	half := t.size / 2
	for f := 0; f < frames; f++ {
		start := f*t.hop - half
		for n := 0; n < t.size; n++ {
			t.frame[n] = complex(t.window[n]*t.norm*sampleReflected(x, start+n), 0)
		}
		if err := t.plan.Forward(t.frame, t.frame); err != nil {
			panic(fmt.Sprintf("stft: forward FFT failed: %v", err))
		}
		bins := t.Bins()
		for i := 0; i < bins; i++ {
			t.re[i] = real(t.frame[i])
			t.im[i] = imag(t.frame[i])
		}
		mag := make([]float64, bins)
		vecmath.Magnitude(mag, t.re[:bins], t.im[:bins])
		out[f] = mag
	}
	return out
}

// sampleReflected indexes x with reflection at both edges.
func sampleReflected(x []float64, i int) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return x[0]
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return x[i]
}

// Multiscale computes magnitude STFTs at several window sizes with a
// shared overlap ratio.
type Multiscale struct {
	transforms []*Transform
}

// NewMultiscale creates transforms for every scale.
func NewMultiscale(scales []int, overlap float64) (*Multiscale, error) {
	if len(scales) == 0 {
		return nil, ErrNoScales
	}
	ms := &Multiscale{transforms: make([]*Transform, len(scales))}
	for i, s := range scales {
		t, err := New(s, overlap)
		if err != nil {
			return nil, fmt.Errorf("stft: scale %d: %w", s, err)
		}
		ms.transforms[i] = t
	}
	return ms, nil
}

// Scales returns the per-scale transforms.
func (m *Multiscale) Scales() []*Transform { return m.transforms }

// Magnitudes returns one magnitude spectrogram per scale.
func (m *Multiscale) Magnitudes(x []float64) [][][]float64 {
	out := make([][][]float64, len(m.transforms))
	for i, t := range m.transforms {
		out[i] = t.Magnitude(x)
	}
	return out
}
