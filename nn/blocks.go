package nn

import (
	"math/rand"
)

// NewResidualUnit builds the dilated residual unit used throughout the
// encoder and decoder backbones:
//
//	LeakyReLU -> dilated conv (kernel k) -> LeakyReLU -> 1x1 conv
//
// wrapped in a delay-aligned residual connection.
func NewResidualUnit(rng *rand.Rand, dim, kernel, dilation int) (*Residual, error) {
	conv, err := NewConv1d(rng, dim, dim, kernel, WithDilation(dilation))
	if err != nil {
		return nil, err
	}
	proj, err := NewConv1d(rng, dim, dim, 1)
	if err != nil {
		return nil, err
	}
	return NewResidual(NewSequential(
		NewLeakyReLU(0.2),
		conv,
		NewLeakyReLU(0.2),
		proj,
	)), nil
}

// NewResidualStack builds one residual unit per dilation, in sequence.
func NewResidualStack(rng *rand.Rand, dim, kernel int, dilations []int) (*Sequential, error) {
	mods := make([]Streamer, 0, len(dilations))
	for _, d := range dilations {
		unit, err := NewResidualUnit(rng, dim, kernel, d)
		if err != nil {
			return nil, err
		}
		mods = append(mods, unit)
	}
	return NewSequential(mods...), nil
}

// NewUpsampleLayer builds one decoder upsampling stage. For ratio > 1 it
// is a LeakyReLU followed by a transposed convolution with kernel
// 2*ratio and stride ratio; for ratio 1 a kernel-3 convolution keeps the
// rate unchanged.
func NewUpsampleLayer(rng *rand.Rand, inDim, outDim, ratio int) (*Sequential, error) {
	if ratio <= 0 {
		return nil, ErrInvalidRatio
	}
	if ratio > 1 {
		up, err := NewConvTranspose1d(rng, inDim, outDim, 2*ratio, ratio)
		if err != nil {
			return nil, err
		}
		return NewSequential(NewLeakyReLU(0.2), up), nil
	}
	conv, err := NewConv1d(rng, inDim, outDim, 3)
	if err != nil {
		return nil, err
	}
	return NewSequential(NewLeakyReLU(0.2), conv), nil
}
