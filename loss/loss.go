// Package loss implements the training objectives: multiscale spectral
// reconstruction distance, A-weighted loudness distance, adversarial
// objectives, and discriminator feature matching.
package loss

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-codec/dsp/stft"
	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by constructors.
var (
	ErrInvalidEpsilon    = errors.New("loss: epsilon must be positive")
	ErrInvalidSampleRate = errors.New("loss: sample rate must be positive")
	ErrInvalidHop        = errors.New("loss: hop must be positive")
)

// SpectralDistance measures the multiscale STFT distance between two
// waveforms: per scale, the normalized L2 magnitude distance plus the
// mean absolute log-magnitude distance.
type SpectralDistance struct {
	ms      *stft.Multiscale
	epsilon float64
}

// NewSpectralDistance creates a distance over the given window sizes
// with a shared overlap ratio. epsilon stabilizes the log term.
func NewSpectralDistance(scales []int, overlap, epsilon float64) (*SpectralDistance, error) {
	if epsilon <= 0 {
		return nil, ErrInvalidEpsilon
	}
	ms, err := stft.NewMultiscale(scales, overlap)
	if err != nil {
		return nil, fmt.Errorf("loss: %w", err)
	}
	return &SpectralDistance{ms: ms, epsilon: epsilon}, nil
}

// Distance returns the summed per-scale distance between x and y. The
// tensors must have the same shape; all batch elements and channels
// enter one joint norm per scale.
func (d *SpectralDistance) Distance(x, y *tensor.Tensor) float64 {
	if !x.SameShape(y) {
		panic("loss: spectral distance requires equal shapes")
	}
	var total float64
	for _, t := range d.ms.Scales() {
		var num, den, logSum float64
		var count int
		for b := 0; b < x.Batch(); b++ {
			for c := 0; c < x.Channels(); c++ {
				mx := t.Magnitude(x.Row(b, c))
				my := t.Magnitude(y.Row(b, c))
				for f := range mx {
					for i := range mx[f] {
						dv := mx[f][i] - my[f][i]
						num += dv * dv
						den += mx[f][i] * mx[f][i]
						logSum += math.Abs(math.Log(mx[f][i]+d.epsilon) - math.Log(my[f][i]+d.epsilon))
						count++
					}
				}
			}
		}
		if den > 0 {
			total += math.Sqrt(num) / math.Sqrt(den)
		}
		total += logSum / float64(count)
	}
	return total
}

// IEC 61672 analog prototype pole frequencies (Hz) for the A curve.
const (
	poleF1 = 20.598997
	poleF2 = 107.65265
	poleF4 = 737.86223
	poleF5 = 12194.217
)

// aWeightDB evaluates the A-weighting curve in dB at frequency f,
// normalized to 0 dB at 1 kHz, from the analog prototype
//
//	H_A(s) = K s^4 / ((s+w1)^2 (s+w2) (s+w4) (s+w5)^2)
func aWeightDB(f float64) float64 {
	return 20 * (math.Log10(aResponse(f)) - math.Log10(aResponse(1000)))
}

func aResponse(f float64) float64 {
	f2 := f * f
	num := poleF5 * poleF5 * f2 * f2
	den := (f2 + poleF1*poleF1) *
		math.Sqrt((f2+poleF2*poleF2)*(f2+poleF4*poleF4)) *
		(f2 + poleF5*poleF5)
	return num / den
}

// Loudness computes perceptual loudness curves: an STFT at a fixed
// window size, log magnitudes with A-weighting per bin, averaged over
// frequency.
type Loudness struct {
	transform *stft.Transform
	aWeight   []float64
}

const loudnessWindow = 2048

// NewLoudness creates a loudness meter for the given sample rate. hop
// is the analysis stride in samples, typically the total downsampling
// ratio of the model so loudness frames line up with latent steps.
func NewLoudness(sampleRate, hop int) (*Loudness, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if hop <= 0 {
		return nil, ErrInvalidHop
	}
	t, err := stft.NewWithHop(loudnessWindow, hop)
	if err != nil {
		return nil, fmt.Errorf("loss: %w", err)
	}
	bins := t.Bins()
	weights := make([]float64, bins)
	for i := range weights {
		f := float64(i)*float64(sampleRate)/2/float64(bins-1) + 1e-7
		weights[i] = aWeightDB(f)
	}
	return &Loudness{transform: t, aWeight: weights}, nil
}

// Curve returns the per-frame loudness of one waveform channel.
func (l *Loudness) Curve(x []float64) []float64 {
	mags := l.transform.Magnitude(x)
	out := make([]float64, len(mags))
	for f, mag := range mags {
		var sum float64
		for i, m := range mag {
			sum += math.Log(m+1e-7) + l.aWeight[i]
		}
		out[f] = sum / float64(len(mag))
	}
	return out
}

// Distance returns the mean squared loudness difference between two
// equally shaped signals, over all batch elements and channels.
func (l *Loudness) Distance(x, y *tensor.Tensor) float64 {
	if !x.SameShape(y) {
		panic("loss: loudness distance requires equal shapes")
	}
	var sum float64
	var count int
	for b := 0; b < x.Batch(); b++ {
		for c := 0; c < x.Channels(); c++ {
			lx := l.Curve(x.Row(b, c))
			ly := l.Curve(y.Row(b, c))
			for i := range lx {
				d := lx[i] - ly[i]
				sum += d * d
				count++
			}
		}
	}
	return sum / float64(count)
}
