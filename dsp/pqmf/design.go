package pqmf

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-codec/dsp/window"
)

// designPrototype builds the Kaiser-windowed lowpass prototype for a
// bank with the given band count. The filter length and window shape
// follow from the requested stopband attenuation; the cutoff is then
// tuned so the composite analysis response is maximally flat, which is
// what bounds the reconstruction error of the bank.
func designPrototype(bands int, attenuation float64) ([]float64, error) {
	beta := window.KaiserBeta(attenuation)
	transition := math.Pi / (4 * float64(bands))
	taps := int(math.Ceil((attenuation - 7.95) / (2.285 * transition)))
	if taps%2 == 0 {
		taps++
	}

	plan, err := algofft.NewPlan64(designFFTSize)
	if err != nil {
		return nil, fmt.Errorf("pqmf: design FFT plan: %w", err)
	}

	// The ideal cutoff sits near half the band edge pi/(2M). Scan a
	// bracket around it, then refine twice on a narrower bracket.
	nominal := math.Pi / (2 * float64(bands))
	lo, hi := 0.5*nominal, 1.5*nominal
	var best float64
	for pass := 0; pass < 3; pass++ {
		const steps = 64
		bestErr := math.Inf(1)
		for i := 0; i <= steps; i++ {
			wc := lo + (hi-lo)*float64(i)/steps
			proto := kaiserLowpass(taps, wc, beta)
			e := flatnessError(plan, proto, bands)
			if e < bestErr {
				bestErr = e
				best = wc
			}
		}
		span := (hi - lo) / steps
		lo, hi = best-2*span, best+2*span
	}
	return kaiserLowpass(taps, best, beta), nil
}

// kaiserLowpass returns a windowed-sinc lowpass with cutoff wc
// (radians/sample), normalized to unity DC gain.
func kaiserLowpass(taps int, wc, beta float64) []float64 {
	h := window.Kaiser(taps, beta)
	center := float64(taps-1) / 2
	var sum float64
	for n := 0; n < taps; n++ {
		t := float64(n) - center
		var s float64
		if t == 0 {
			s = wc / math.Pi
		} else {
			s = math.Sin(wc*t) / (math.Pi * t)
		}
		h[n] *= s
		sum += h[n]
	}
	for n := range h {
		h[n] /= sum
	}
	return h
}

// flatnessError measures the worst-case deviation of
// |P(w)|^2 + |P(pi/M - w)|^2 from its DC value over the first band,
// the quantity that governs amplitude distortion of the bank.
func flatnessError(plan *algofft.Plan[complex128], proto []float64, bands int) float64 {
	buf := make([]complex128, designFFTSize)
	for i, v := range proto {
		buf[i] = complex(v, 0)
	}
	if err := plan.Forward(buf, buf); err != nil {
		return math.Inf(1)
	}

	power := make([]float64, designFFTSize)
	for i, c := range buf {
		power[i] = real(c)*real(c) + imag(c)*imag(c)
	}

	shift := designFFTSize / (2 * bands) // pi/M in bins
	ref := power[0] + power[shift]
	var worst float64
	for j := 0; j <= shift; j++ {
		d := math.Abs(power[j] + power[shift-j] - ref)
		if d > worst {
			worst = d
		}
	}
	return worst
}
