package codec

import "math"

// BetaSchedule maps a training step to the KL weight. A nil schedule
// falls back to the linear ramp configured by Beta and BetaWarmupSteps.
type BetaSchedule func(step int) float64

// BetaLog ramps the weight from minBeta to maxBeta over warmup steps,
// interpolating in log space so early steps stay close to minBeta.
// Both bounds must be positive.
func BetaLog(warmup int, minBeta, maxBeta float64) BetaSchedule {
	return func(step int) float64 {
		if step > warmup {
			return maxBeta
		}
		t := float64(step) / float64(warmup)
		return math.Exp(t*(math.Log(maxBeta)-math.Log(minBeta)) + math.Log(minBeta))
	}
}

// BetaCyclic repeats a log-space ramp over cycles of the given size.
// Each cycle ramps over its first half and holds maxBeta for the rest.
func BetaCyclic(cycleSize int, minBeta, maxBeta float64) BetaSchedule {
	ramp := func(step int) float64 {
		return BetaLog(cycleSize/2, minBeta, maxBeta)(step)
	}
	return func(step int) float64 {
		return ramp(step % cycleSize)
	}
}

// BetaCyclicAnnealed cycles like BetaCyclic while raising the cycle
// floor along a global log-space ramp over warmup steps, so successive
// cycles dip less and less below maxBeta.
func BetaCyclicAnnealed(cycleSize, warmup int, minBeta, maxBeta float64) BetaSchedule {
	floor := BetaLog(warmup, minBeta, maxBeta)
	return func(step int) float64 {
		return BetaCyclic(cycleSize, floor(step), maxBeta)(step)
	}
}
