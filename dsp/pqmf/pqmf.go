// Package pqmf implements a near-perfect-reconstruction pseudo-QMF bank.
//
// The bank splits a mono waveform into n equal-width subbands, each
// downsampled by n, and reassembles them with a small, bounded
// reconstruction error. Filters are cosine modulations of a single
// Kaiser-windowed lowpass prototype whose cutoff is optimized at
// construction time for flat composite response.
//
// Analysis and synthesis are causal and streaming-capable: they are
// built on the same convolution primitives as the rest of the model and
// carry the same delay bookkeeping and per-stream cache contract.
package pqmf

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-codec/nn"
	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by New.
var (
	ErrInvalidBands       = errors.New("pqmf: band count must be at least 1")
	ErrInvalidAttenuation = errors.New("pqmf: attenuation must be positive")
)

const designFFTSize = 8192

// Bank is a polyphase pseudo-QMF filter bank.
type Bank struct {
	bands int
	taps  int

	prototype []float64

	analysis  *nn.Conv1d
	synthesis *nn.ConvTranspose1d

	groupDelay int
}

type config struct {
	attenuation float64
}

// Option configures a Bank.
type Option func(*config)

// WithAttenuation sets the prototype stopband attenuation in dB.
// Defaults to 100.
func WithAttenuation(db float64) Option {
	return func(c *config) { c.attenuation = db }
}

// New designs a bank with the given number of subbands. A band count of
// 1 yields an identity passthrough.
func New(bands int, opts ...Option) (*Bank, error) {
	if bands < 1 {
		return nil, ErrInvalidBands
	}
	cfg := config{attenuation: 100}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.attenuation <= 0 {
		return nil, ErrInvalidAttenuation
	}
	if bands == 1 {
		return &Bank{bands: 1, taps: 1}, nil
	}

	proto, err := designPrototype(bands, cfg.attenuation)
	if err != nil {
		return nil, err
	}
	taps := len(proto)

	// Cosine-modulate the prototype into the analysis filters; synthesis
	// filters are the time-reversed analysis filters.
	filters := modulate(proto, bands)

	// Fixed-weight convolution stages. The seed is irrelevant: every
	// weight is overwritten below.
	rng := rand.New(rand.NewSource(0))
	analysis, err := nn.NewConv1d(rng, 1, bands, taps, nn.WithStride(bands), nn.WithoutBias())
	if err != nil {
		return nil, fmt.Errorf("pqmf: analysis stage: %w", err)
	}
	synthesis, err := nn.NewConvTranspose1d(rng, bands, 1, taps, bands)
	if err != nil {
		return nil, fmt.Errorf("pqmf: synthesis stage: %w", err)
	}
	for k := 0; k < bands; k++ {
		wa := analysis.Weight(k, 0)
		ws := synthesis.Weight(0, k)
		for j := 0; j < taps; j++ {
			wa[j] = filters[k][taps-1-j]
			ws[j] = float64(bands) * filters[k][taps-1-j]
		}
	}
	for i := range synthesis.Bias() {
		synthesis.Bias()[i] = 0
	}

	b := &Bank{
		bands:     bands,
		taps:      taps,
		prototype: proto,
		analysis:  analysis,
		synthesis: synthesis,
	}
	b.calibrate()
	return b, nil
}

// calibrate measures the round-trip impulse response, records the group
// delay at its peak, and normalizes the synthesis gain to unity.
func (b *Bank) calibrate() {
	length := 4 * b.taps
	if r := length % b.bands; r != 0 {
		length += b.bands - r
	}
	x := tensor.New(1, 1, length)
	x.Set(0, 0, b.taps, 1)
	y := b.Synthesis(b.Analysis(x))

	peak := 0
	var gain float64
	row := y.Row(0, 0)
	for i, v := range row {
		if math.Abs(v) > math.Abs(gain) {
			gain = v
			peak = i
		}
	}
	b.groupDelay = peak - b.taps
	for k := 0; k < b.bands; k++ {
		w := b.synthesis.Weight(0, k)
		for j := range w {
			w[j] /= gain
		}
	}
}

// Bands returns the number of subbands.
func (b *Bank) Bands() int { return b.bands }

// Taps returns the prototype filter length.
func (b *Bank) Taps() int { return b.taps }

// GroupDelay returns the measured analysis+synthesis round-trip delay in
// full-rate samples.
func (b *Bank) GroupDelay() int { return b.groupDelay }

// AnalysisDelay returns the analysis delay in subband-rate samples.
func (b *Bank) AnalysisDelay() int {
	if b.bands == 1 {
		return 0
	}
	return b.analysis.Delay()
}

// SynthesisDelay returns the synthesis delay in full-rate samples.
func (b *Bank) SynthesisDelay() int {
	if b.bands == 1 {
		return 0
	}
	return b.synthesis.Delay()
}

// Analysis splits (B, 1, T) into (B, bands, T/bands). T must be a
// multiple of the band count.
func (b *Bank) Analysis(x *tensor.Tensor) *tensor.Tensor {
	if x.Channels() != 1 {
		panic(fmt.Sprintf("pqmf: analysis expects mono input, got %d channels", x.Channels()))
	}
	if b.bands == 1 {
		return x
	}
	return b.analysis.Process(x)
}

// Synthesis reassembles (B, bands, T) into (B, 1, T*bands).
func (b *Bank) Synthesis(x *tensor.Tensor) *tensor.Tensor {
	if b.bands == 1 {
		return x
	}
	if x.Channels() != b.bands {
		panic(fmt.Sprintf("pqmf: synthesis expects %d subbands, got %d channels", b.bands, x.Channels()))
	}
	return b.synthesis.Process(x)
}

// AnalysisBackward propagates subband gradients back to waveform
// gradients for the most recent Analysis call.
func (b *Bank) AnalysisBackward(grad *tensor.Tensor) *tensor.Tensor {
	if b.bands == 1 {
		return grad
	}
	return b.analysis.Backward(grad)
}

// SynthesisBackward propagates waveform gradients back to subband
// gradients for the most recent Synthesis call.
func (b *Bank) SynthesisBackward(grad *tensor.Tensor) *tensor.Tensor {
	if b.bands == 1 {
		return grad
	}
	return b.synthesis.Backward(grad)
}

// NewAnalysisState allocates a streaming cache for Analysis chunks.
func (b *Bank) NewAnalysisState(batch int) nn.State {
	if b.bands == 1 {
		return nil
	}
	return b.analysis.NewState(batch)
}

// AnalysisStream processes one chunk; the chunk length must be a
// multiple of the band count.
func (b *Bank) AnalysisStream(st nn.State, x *tensor.Tensor) *tensor.Tensor {
	if b.bands == 1 {
		return x
	}
	return b.analysis.ProcessStream(st, x)
}

// NewSynthesisState allocates a streaming cache for Synthesis chunks.
func (b *Bank) NewSynthesisState(batch int) nn.State {
	if b.bands == 1 {
		return nil
	}
	return b.synthesis.NewState(batch)
}

// SynthesisStream reassembles one chunk of subband signals.
func (b *Bank) SynthesisStream(st nn.State, x *tensor.Tensor) *tensor.Tensor {
	if b.bands == 1 {
		return x
	}
	return b.synthesis.ProcessStream(st, x)
}

// modulate derives the per-band filters from the prototype:
//
//	h_k[n] = 2 p[n] cos((pi/M)(k+0.5)(n-(N-1)/2) + (-1)^k pi/4)
func modulate(proto []float64, bands int) [][]float64 {
	taps := len(proto)
	center := float64(taps-1) / 2
	filters := make([][]float64, bands)
	for k := 0; k < bands; k++ {
		h := make([]float64, taps)
		phase := math.Pi / 4
		if k%2 == 1 {
			phase = -phase
		}
		for n := 0; n < taps; n++ {
			arg := math.Pi/float64(bands)*(float64(k)+0.5)*(float64(n)-center) + phase
			h[n] = 2 * proto[n] * math.Cos(arg)
		}
		filters[k] = h
	}
	return filters
}
