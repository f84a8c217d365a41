package codec

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-codec/tensor"
)

// probe window growth bounds
const (
	probeStartSize = 1 << 15
	probeMaxSize   = 1 << 22
)

// ErrProbeDiverged is returned when the gradient never vanishes at the
// probe window's edges, which indicates a non-causal leak somewhere in
// the pipeline. Cropping with an unbounded field would silently corrupt
// every loss, so this is fatal.
var ErrProbeDiverged = errors.New("codec: receptive field probe did not converge")

// MeasureReceptiveField probes the model's effective input window by
// injecting noise, backpropagating from the center output sample, and
// counting the input positions that receive gradient on each side. The
// window doubles until the field fits strictly inside it. The result is
// cached on the model and never recomputed.
func (m *Model) MeasureReceptiveField() (ReceptiveField, error) {
	if m.receptive.Valid() {
		return m.receptive, nil
	}

	// The probe runs the deterministic path: warmed-up gating and the
	// stochastic branches stay out of the measurement.
	savedWarm := m.warmedUp
	m.SetWarmedUp(false)
	defer m.SetWarmedUp(savedWarm)

	eps := m.cfg.ProbeEpsilon
	for size := probeStartSize; size <= probeMaxSize; size *= 2 {
		x := tensor.Randn(m.rng, 1, 1, size)

		mb := m.pqmf.Analysis(x)
		raw := m.encoder.Process(mb)
		z, _ := m.bn.Reparametrize(raw, false)
		mbY := m.decoder.Process(z)
		y := m.pqmf.Synthesis(mbY)

		gy := tensor.New(1, 1, y.Length())
		gy.Set(0, 0, size/2, 1)

		g := m.pqmf.SynthesisBackward(gy)
		g = m.decoder.Backward(g)
		g = m.bn.Backward(g)
		g = m.encoder.Backward(g)
		g = m.pqmf.AnalysisBackward(g)

		grad := g.Row(0, 0)
		half := size / 2
		if math.Abs(grad[0]) > eps || math.Abs(grad[size-1]) > eps {
			continue
		}
		var left, right int
		for i := 0; i < half; i++ {
			if math.Abs(grad[i]) > eps {
				left++
			}
		}
		for i := half; i < size; i++ {
			if math.Abs(grad[i]) > eps {
				right++
			}
		}
		m.receptive = ReceptiveField{Left: left, Right: right}
		m.log.WithField("left", left).WithField("right", right).Info("receptive field measured")
		return m.receptive, nil
	}
	return ReceptiveField{}, ErrProbeDiverged
}

// ReceptiveFieldCache returns the cached probe result; Valid() is false
// until MeasureReceptiveField has run.
func (m *Model) ReceptiveFieldCache() ReceptiveField { return m.receptive }

// SetReceptiveField restores a previously measured field, used when
// loading a checkpoint.
func (m *Model) SetReceptiveField(rf ReceptiveField) { m.receptive = rf }
