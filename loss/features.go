package loss

import (
	"math"

	"github.com/cwbudde/algo-codec/tensor"
)

// FeatureDistance measures the distance between two feature maps of
// equal shape.
type FeatureDistance func(a, b *tensor.Tensor) float64

// MeanAbs is the mean absolute elementwise difference.
func MeanAbs(a, b *tensor.Tensor) float64 {
	if !a.SameShape(b) {
		panic("loss: feature distance requires equal shapes")
	}
	var sum float64
	var count int
	for bi := 0; bi < a.Batch(); bi++ {
		for c := 0; c < a.Channels(); c++ {
			ra, rb := a.Row(bi, c), b.Row(bi, c)
			for i := range ra {
				sum += math.Abs(ra[i] - rb[i])
				count++
			}
		}
	}
	return sum / float64(count)
}

// FeatureMatching compares discriminator feature maps of real and
// generated audio. featTrue and featFake hold one slice of maps per
// discriminator scale; the first numSkipped maps of every scale are
// ignored. Distances are averaged over the remaining maps per scale,
// then over scales.
func FeatureMatching(dist FeatureDistance, featTrue, featFake [][]*tensor.Tensor, numSkipped int) float64 {
	if len(featTrue) == 0 {
		return 0
	}
	var total float64
	for s := range featTrue {
		maps := featTrue[s][numSkipped:]
		fake := featFake[s][numSkipped:]
		var scale float64
		for i := range maps {
			scale += dist(maps[i], fake[i])
		}
		total += scale / float64(len(maps))
	}
	return total / float64(len(featTrue))
}
