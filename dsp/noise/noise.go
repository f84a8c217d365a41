// Package noise synthesizes stochastic excitation from coarse amplitude
// envelopes. Each envelope is treated as a zero-phase magnitude response,
// turned into a short time-domain impulse response, and convolved with
// uniform white noise, producing a signal whose spectral envelope follows
// the prediction. This models recording and synthesis noise that a
// deterministic decoder cannot reproduce.
package noise

import (
	"errors"
	"fmt"
	"math/rand"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-codec/dsp/window"
)

// Errors returned by NewSynthesizer.
var (
	ErrInvalidBands  = errors.New("noise: band count must be 2^k+1 for some k >= 1")
	ErrInvalidTarget = errors.New("noise: target size must be a power of two")
	ErrTargetTooFew  = errors.New("noise: target size must not be smaller than the impulse response")
)

// Synthesizer converts amplitude envelopes of a fixed band count into
// excitation segments of a fixed length.
type Synthesizer struct {
	bands  int // amplitude bins per envelope
	irLen  int // raw impulse response length, 2*(bands-1)
	target int // excitation samples per envelope

	window []float64 // Hann taper for the centered impulse response

	irPlan   *algofft.Plan[complex128]
	convPlan *algofft.Plan[complex128]

	rng *rand.Rand
}

// NewSynthesizer creates a synthesizer for envelopes of the given band
// count producing target samples each. bands-1 and target must be powers
// of two so the FFT sizes stay exact.
func NewSynthesizer(bands, target int, rng *rand.Rand) (*Synthesizer, error) {
	if bands < 2 || !isPowerOfTwo(bands-1) {
		return nil, ErrInvalidBands
	}
	if target < 1 || !isPowerOfTwo(target) {
		return nil, ErrInvalidTarget
	}
	irLen := 2 * (bands - 1)
	if target < irLen {
		return nil, ErrTargetTooFew
	}
	irPlan, err := algofft.NewPlan64(irLen)
	if err != nil {
		return nil, fmt.Errorf("noise: impulse response FFT plan: %w", err)
	}
	convPlan, err := algofft.NewPlan64(2 * target)
	if err != nil {
		return nil, fmt.Errorf("noise: convolution FFT plan: %w", err)
	}

	return &Synthesizer{
		bands:    bands,
		irLen:    irLen,
		target:   target,
		window:   window.Hann(irLen, window.WithPeriodic()),
		irPlan:   irPlan,
		convPlan: convPlan,
		rng:      rng,
	}, nil
}

// Bands returns the number of amplitude bins per envelope.
func (s *Synthesizer) Bands() int { return s.bands }

// Target returns the excitation length per envelope.
func (s *Synthesizer) Target() int { return s.target }

// ImpulseResponse converts a magnitude-only frequency response into a
// time-domain impulse response of target length: inverse FFT, circular
// roll to center, Hann taper, zero-pad, roll back.
func (s *Synthesizer) ImpulseResponse(amp []float64) []float64 {
	if len(amp) != s.bands {
		panic(fmt.Sprintf("noise: envelope has %d bins, expected %d", len(amp), s.bands))
	}

	// Hermitian spectrum of a real, zero-phase response.
	spec := make([]complex128, s.irLen)
	for i := 0; i < s.bands; i++ {
		spec[i] = complex(amp[i], 0)
	}
	for i := 1; i < s.bands-1; i++ {
		spec[s.irLen-i] = complex(amp[i], 0)
	}
	if err := s.irPlan.Inverse(spec, spec); err != nil {
		panic(fmt.Sprintf("noise: inverse FFT failed: %v", err))
	}

	half := s.irLen / 2
	ir := make([]float64, s.target)
	// Roll the response so its peak is centered, taper, then roll back
	// after zero-padding so the final response stays causal-aligned.
	for n := 0; n < s.irLen; n++ {
		centered := real(spec[(n+half)%s.irLen]) * s.window[n]
		ir[(n-half+s.target)%s.target] = centered
	}
	return ir
}

// Excite generates uniform noise in [-1, 1] and convolves it with the
// impulse response derived from amp. The result has target length.
func (s *Synthesizer) Excite(amp []float64) []float64 {
	ir := s.ImpulseResponse(amp)
	signal := make([]float64, s.target)
	for i := range signal {
		signal[i] = 2*s.rng.Float64() - 1
	}
	return s.Convolve(signal, ir)
}

// Convolve performs linear convolution of two target-length segments via
// FFT: the signal is padded right, the kernel left, both transformed,
// multiplied, and the second half of the inverse transform is returned,
// avoiding circular wrap-around.
func (s *Synthesizer) Convolve(signal, kernel []float64) []float64 {
	if len(signal) != s.target || len(kernel) != s.target {
		panic(fmt.Sprintf("noise: convolve expects %d-sample segments, got %d and %d",
			s.target, len(signal), len(kernel)))
	}
	n := 2 * s.target
	a := make([]complex128, n)
	b := make([]complex128, n)
	for i := 0; i < s.target; i++ {
		a[i] = complex(signal[i], 0)
		b[s.target+i] = complex(kernel[i], 0)
	}
	if err := s.convPlan.Forward(a, a); err != nil {
		panic(fmt.Sprintf("noise: forward FFT failed: %v", err))
	}
	if err := s.convPlan.Forward(b, b); err != nil {
		panic(fmt.Sprintf("noise: forward FFT failed: %v", err))
	}
	for i := range a {
		a[i] *= b[i]
	}
	if err := s.convPlan.Inverse(a, a); err != nil {
		panic(fmt.Sprintf("noise: inverse FFT failed: %v", err))
	}
	out := make([]float64, s.target)
	for i := range out {
		out[i] = real(a[s.target+i])
	}
	return out
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
