package codec

import (
	"errors"
	"fmt"
)

// BottleneckKind selects the latent regularization strategy.
type BottleneckKind int

const (
	// BottleneckVariational samples a Gaussian posterior with a KL
	// penalty.
	BottleneckVariational BottleneckKind = iota

	// BottleneckWasserstein keeps a deterministic latent with an MMD
	// penalty.
	BottleneckWasserstein

	// BottleneckDiscrete quantizes the latent with residual vector
	// quantization.
	BottleneckDiscrete
)

// String returns a human-readable name for the bottleneck kind.
func (k BottleneckKind) String() string {
	switch k {
	case BottleneckVariational:
		return "variational"
	case BottleneckWasserstein:
		return "wasserstein"
	case BottleneckDiscrete:
		return "discrete"
	default:
		return "unknown"
	}
}

// GANKind selects the adversarial objective.
type GANKind int

const (
	// GANHinge is the hinge objective.
	GANHinge GANKind = iota

	// GANLeastSquares is the least-squares objective.
	GANLeastSquares

	// GANNonSaturating is the clamped cross-entropy objective.
	GANNonSaturating
)

// Config holds every structural parameter of the model. Structure is
// fixed at construction; only weights, codebooks, and diagnostic
// buffers mutate afterwards.
type Config struct {
	SampleRate int

	// Bands is the multiband decomposition width; 1 disables it.
	Bands int

	// Capacity is the channel width of the first encoder layer;
	// it doubles at every downsampling stage.
	Capacity int

	// Ratios are the per-stage downsampling factors, encoder order.
	Ratios []int

	// Dilations are the residual-unit dilations applied per stage.
	Dilations []int

	LatentSize int

	Bottleneck BottleneckKind

	// Beta weights the KL term of the variational bottleneck.
	Beta float64

	// BetaWarmupSteps ramps beta linearly from zero over this many
	// training steps; 0 applies Beta immediately.
	BetaWarmupSteps int

	// BetaSchedule overrides the linear ramp when non-nil. See BetaLog,
	// BetaCyclic, and BetaCyclicAnnealed.
	BetaSchedule BetaSchedule

	// NumQuantizers and CodebookSize shape the discrete bottleneck.
	NumQuantizers int
	CodebookSize  int

	// LoudStride subsamples the loudness branch; the envelope is
	// repeated back to full rate.
	LoudStride int

	// UseNoise enables the stochastic excitation branch.
	UseNoise    bool
	NoiseRatios []int
	NoiseBands  int

	NumDiscriminators  int
	NumSkippedFeatures int
	GANLoss            GANKind

	// FeatureMatch adds the feature-matching term to the generator
	// loss once warmed up.
	FeatureMatch bool

	// ValidSignalCrop trims the receptive field from both signals
	// before reconstruction losses.
	ValidSignalCrop bool

	// WarmupSteps is the step count after which the adversarial phase
	// begins.
	WarmupSteps int

	// StftScales and StftOverlap shape the multiscale spectral loss.
	StftScales  []int
	StftOverlap float64

	// ProbeEpsilon is the gradient magnitude below which the receptive
	// field probe treats a sample as unreached.
	ProbeEpsilon float64

	// Seed initializes the model's random source.
	Seed int64
}

// DefaultConfig returns a 48 kHz full-band configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:         48000,
		Bands:              16,
		Capacity:           64,
		Ratios:             []int{4, 4, 4, 2},
		Dilations:          []int{1, 3, 9},
		LatentSize:         128,
		Bottleneck:         BottleneckVariational,
		Beta:               0.1,
		NumQuantizers:      16,
		CodebookSize:       1024,
		LoudStride:         1,
		UseNoise:           true,
		NoiseRatios:        []int{4, 4, 4},
		NoiseBands:         5,
		NumDiscriminators:  3,
		NumSkippedFeatures: 1,
		GANLoss:            GANHinge,
		FeatureMatch:       true,
		ValidSignalCrop:    true,
		WarmupSteps:        1000000,
		StftScales:         []int{2048, 1024, 512, 256, 128},
		StftOverlap:        0.75,
		ProbeEpsilon:       0,
		Seed:               1,
	}
}

// Errors returned by Config.Validate.
var (
	ErrInvalidSampleRate = errors.New("codec: sample rate must be positive")
	ErrInvalidBands      = errors.New("codec: band count must be at least 1")
	ErrInvalidCapacity   = errors.New("codec: capacity must be positive")
	ErrNoRatios          = errors.New("codec: at least one downsampling ratio required")
	ErrInvalidLatent     = errors.New("codec: latent size must be positive")
	ErrInvalidLoudStride = errors.New("codec: loudness stride must be positive")
	ErrInvalidNoise      = errors.New("codec: noise branch requires ratios and at least 2 bands")
)

// Validate checks structural consistency. Shape errors surface here,
// at construction, never as silent truncation later.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if c.Bands < 1 {
		return ErrInvalidBands
	}
	if c.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if len(c.Ratios) == 0 {
		return ErrNoRatios
	}
	for _, r := range c.Ratios {
		if r < 1 {
			return fmt.Errorf("codec: downsampling ratio %d out of range", r)
		}
	}
	if c.LatentSize < 1 {
		return ErrInvalidLatent
	}
	if c.LoudStride < 1 {
		return ErrInvalidLoudStride
	}
	if c.UseNoise && (len(c.NoiseRatios) == 0 || c.NoiseBands < 2) {
		return ErrInvalidNoise
	}
	if c.Bottleneck == BottleneckDiscrete {
		if c.NumQuantizers < 1 || c.CodebookSize < 2 {
			return errors.New("codec: discrete bottleneck requires quantizers and a codebook")
		}
	}
	if len(c.StftScales) == 0 {
		return errors.New("codec: at least one spectral loss scale required")
	}
	return nil
}

// DownsamplingRatio returns the total time compression from waveform to
// latent, including the multiband decomposition.
func (c Config) DownsamplingRatio() int {
	r := c.Bands
	for _, s := range c.Ratios {
		r *= s
	}
	return r
}
