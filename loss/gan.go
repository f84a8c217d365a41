package loss

import "math"

// Objective is an adversarial loss: given the discriminator scores for
// real and generated audio it returns the discriminator loss and the
// generator loss.
type Objective func(scoreReal, scoreFake []float64) (lossDis, lossGen float64)

// Hinge is the hinge objective:
//
//	dis = mean(relu(1-real) + relu(1+fake)), gen = -mean(fake)
func Hinge(scoreReal, scoreFake []float64) (float64, float64) {
	var dis, gen float64
	for i := range scoreReal {
		dis += math.Max(0, 1-scoreReal[i]) + math.Max(0, 1+scoreFake[i])
		gen -= scoreFake[i]
	}
	n := float64(len(scoreReal))
	return dis / n, gen / n
}

// LeastSquares is the least-squares objective:
//
//	dis = mean((real-1)^2 + fake^2), gen = mean((fake-1)^2)
func LeastSquares(scoreReal, scoreFake []float64) (float64, float64) {
	var dis, gen float64
	for i := range scoreReal {
		r := scoreReal[i] - 1
		g := scoreFake[i] - 1
		dis += r*r + scoreFake[i]*scoreFake[i]
		gen += g * g
	}
	n := float64(len(scoreReal))
	return dis / n, gen / n
}

// NonSaturating is the cross-entropy objective with sigmoid
// probabilities clamped away from 0 and 1.
func NonSaturating(scoreReal, scoreFake []float64) (float64, float64) {
	var dis, gen float64
	for i := range scoreReal {
		pr := clampProb(sigmoid(scoreReal[i]))
		pf := clampProb(sigmoid(scoreFake[i]))
		dis -= math.Log(pr) + math.Log(1-pf)
		gen -= math.Log(pf)
	}
	n := float64(len(scoreReal))
	return dis / n, gen / n
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProb(p float64) float64 {
	return math.Min(math.Max(p, 1e-7), 1-1e-7)
}
