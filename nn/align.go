package nn

import (
	"fmt"

	"github.com/cwbudde/algo-codec/tensor"
)

// AlignBranches runs several branches on the same input and compensates
// their differing delays with delay lines, so all outputs are aligned to
// the slowest branch. The composed delay is the maximum branch delay.
// All branches must share the same resampling ratio.
type AlignBranches struct {
	branches []Streamer
	aligns   []*DelayLine
	delay    int
	up, down int
}

// NewAlignBranches builds the parallel composition.
func NewAlignBranches(branches ...Streamer) *AlignBranches {
	if len(branches) == 0 {
		panic("nn: align needs at least one branch")
	}
	a := &AlignBranches{branches: branches}
	a.up, a.down = branches[0].Ratio()
	max := 0
	for _, b := range branches {
		u, d := b.Ratio()
		if u != a.up || d != a.down {
			panic(fmt.Sprintf("nn: align branch ratio %d/%d differs from %d/%d", u, d, a.up, a.down))
		}
		if b.Delay() > max {
			max = b.Delay()
		}
	}
	a.delay = max
	a.aligns = make([]*DelayLine, len(branches))
	for i, b := range branches {
		a.aligns[i] = NewDelayLine(max - b.Delay())
	}
	return a
}

// Delay returns the aligned delay (the maximum across branches).
func (a *AlignBranches) Delay() int { return a.delay }

// Ratio returns the shared branch ratio.
func (a *AlignBranches) Ratio() (int, int) { return a.up, a.down }

// ProcessAll runs every branch on x and returns the aligned outputs.
func (a *AlignBranches) ProcessAll(x *tensor.Tensor) []*tensor.Tensor {
	outs := make([]*tensor.Tensor, len(a.branches))
	for i, b := range a.branches {
		outs[i] = a.aligns[i].Process(b.Process(x))
	}
	return outs
}

// BackwardAll propagates one gradient per aligned output back to a
// single summed input gradient.
func (a *AlignBranches) BackwardAll(grads []*tensor.Tensor) *tensor.Tensor {
	if len(grads) != len(a.branches) {
		panic(fmt.Sprintf("nn: align got %d gradients for %d branches", len(grads), len(a.branches)))
	}
	var sum *tensor.Tensor
	for i, b := range a.branches {
		g := b.Backward(a.aligns[i].Backward(grads[i]))
		if sum == nil {
			sum = g
		} else {
			sum.AddInPlace(g)
		}
	}
	return sum
}

type alignState struct {
	branch []State
	align  []State
}

// NewState allocates stream caches for all branches and alignment lines.
func (a *AlignBranches) NewState(batch int) State {
	st := &alignState{
		branch: make([]State, len(a.branches)),
		align:  make([]State, len(a.branches)),
	}
	for i, b := range a.branches {
		st.branch[i] = b.NewState(batch)
		st.align[i] = a.aligns[i].NewState(batch)
	}
	return st
}

// ProcessStreamAll processes one chunk through every branch.
func (a *AlignBranches) ProcessStreamAll(st State, x *tensor.Tensor) []*tensor.Tensor {
	as := st.(*alignState)
	outs := make([]*tensor.Tensor, len(a.branches))
	for i, b := range a.branches {
		outs[i] = a.aligns[i].ProcessStream(as.align[i], b.ProcessStream(as.branch[i], x))
	}
	return outs
}

// Residual adds a block's output to its delay-aligned input. The block
// must preserve the sample rate and channel count.
type Residual struct {
	mod   Streamer
	align *DelayLine
}

// NewResidual wraps mod in a residual connection.
func NewResidual(mod Streamer) *Residual {
	if u, d := mod.Ratio(); u != 1 || d != 1 {
		panic(fmt.Sprintf("nn: residual block must preserve rate, got ratio %d/%d", u, d))
	}
	return &Residual{mod: mod, align: NewDelayLine(mod.Delay())}
}

// Delay returns the wrapped block's delay.
func (r *Residual) Delay() int { return r.mod.Delay() }

// Ratio returns (1, 1).
func (r *Residual) Ratio() (int, int) { return 1, 1 }

// Process computes mod(x) + delay(x).
func (r *Residual) Process(x *tensor.Tensor) *tensor.Tensor {
	out := r.mod.Process(x)
	out.AddInPlace(r.align.Process(x))
	return out
}

// Backward splits the gradient between the block and the skip path.
func (r *Residual) Backward(grad *tensor.Tensor) *tensor.Tensor {
	out := r.mod.Backward(grad)
	out.AddInPlace(r.align.Backward(grad))
	return out
}

type residualState struct {
	mod   State
	align State
}

// NewState allocates stream caches for the block and the skip delay.
func (r *Residual) NewState(batch int) State {
	return &residualState{mod: r.mod.NewState(batch), align: r.align.NewState(batch)}
}

// ProcessStream computes the residual sum for one chunk.
func (r *Residual) ProcessStream(st State, x *tensor.Tensor) *tensor.Tensor {
	rs := st.(*residualState)
	out := r.mod.ProcessStream(rs.mod, x)
	out.AddInPlace(r.align.ProcessStream(rs.align, x))
	return out
}
