package codec

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-codec/nn"
)

// newEncoder assembles the analysis backbone: an input convolution,
// then per downsampling stage a dilated residual stack followed by a
// strided convolution doubling the channel width, closed by a
// projection to the bottleneck's channel count. tanhOut bounds the raw
// latent, which the discrete bottleneck requires so codebook entries
// stay in a compact range.
func newEncoder(rng *rand.Rand, bands, capacity int, ratios, dilations []int, outChannels int, tanhOut bool) (*nn.Sequential, error) {
	var mods []nn.Streamer

	input, err := nn.NewConv1d(rng, bands, capacity, 7)
	if err != nil {
		return nil, fmt.Errorf("codec: encoder input: %w", err)
	}
	mods = append(mods, input)

	dim := capacity
	for i, r := range ratios {
		for _, d := range dilations {
			unit, err := nn.NewResidualUnit(rng, dim, 3, d)
			if err != nil {
				return nil, fmt.Errorf("codec: encoder stage %d dilation %d: %w", i, d, err)
			}
			mods = append(mods, unit)
		}
		down, err := nn.NewConv1d(rng, dim, 2*dim, 2*r+1, nn.WithStride(r))
		if err != nil {
			return nil, fmt.Errorf("codec: encoder stage %d downsample: %w", i, err)
		}
		mods = append(mods, nn.NewLeakyReLU(0.2), down)
		dim *= 2
	}

	proj, err := nn.NewConv1d(rng, dim, outChannels, 5)
	if err != nil {
		return nil, fmt.Errorf("codec: encoder projection: %w", err)
	}
	mods = append(mods, nn.NewLeakyReLU(0.2), proj)
	if tanhOut {
		mods = append(mods, nn.NewTanh())
	}
	return nn.NewSequential(mods...), nil
}

// ModSigmoid is the loudness gain curve 2*sigmoid(x)^2.3 + 1e-7: a
// steep, bounded response that sharpens loudness contrast while
// keeping gradients nonzero everywhere.
func ModSigmoid(x float64) float64 {
	return 2*math.Pow(sigmoid(x), 2.3) + 1e-7
}

// modSigmoidGrad is the derivative of ModSigmoid.
func modSigmoidGrad(x float64) float64 {
	s := sigmoid(x)
	return 2 * 2.3 * math.Pow(s, 2.3) * (1 - s)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
