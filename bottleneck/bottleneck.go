// Package bottleneck implements the latent regularizers sitting between
// encoder and decoder. Three interchangeable variants share one
// contract: map raw encoder output to the latent fed to the decoder and
// report a scalar regularization term.
//
//   - Variational: Gaussian posterior per latent step, KL divergence to
//     a standard normal.
//   - Wasserstein: deterministic latent, maximum mean discrepancy to a
//     standard normal estimated with a Gaussian kernel.
//   - Discrete: cascaded residual vector quantization with smoothing
//     noise, commitment loss as the regularizer.
package bottleneck

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-codec/bottleneck/rvq"
	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by constructors.
var (
	ErrInvalidLatent = errors.New("bottleneck: latent size must be positive")
	ErrInvalidBeta   = errors.New("bottleneck: beta must be non-negative")
)

// Bottleneck maps raw encoder output to the decoder latent.
//
// EncoderChannels reports how many channels the encoder must produce;
// LatentSize how many the latent carries. Reparametrize consumes a
// (B, EncoderChannels, T) tensor and returns a (B, LatentSize, T)
// latent plus the scalar regularization for the batch.
type Bottleneck interface {
	Reparametrize(z *tensor.Tensor, train bool) (*tensor.Tensor, float64)
	Backward(grad *tensor.Tensor) *tensor.Tensor
	SetWarmedUp(state bool)
	WarmedUp() bool
	LatentSize() int
	EncoderChannels() int
}

// softplus is log(1+exp(x)) with overflow protection.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// Variational samples the latent from a diagonal Gaussian posterior and
// penalizes its KL divergence to a standard normal.
type Variational struct {
	latent   int
	beta     float64
	warmedUp bool
	rng      *rand.Rand
}

// NewVariational creates a variational bottleneck over latent channels,
// weighting the KL term by beta.
func NewVariational(rng *rand.Rand, latent int, beta float64) (*Variational, error) {
	if latent < 1 {
		return nil, ErrInvalidLatent
	}
	if beta < 0 {
		return nil, ErrInvalidBeta
	}
	return &Variational{latent: latent, beta: beta, rng: rng}, nil
}

// LatentSize returns the number of latent channels.
func (v *Variational) LatentSize() int { return v.latent }

// EncoderChannels returns 2*latent: mean and scale halves.
func (v *Variational) EncoderChannels() int { return 2 * v.latent }

// SetWarmedUp marks the start of the adversarial phase. A warmed-up
// bottleneck blocks gradients into the encoder so the posterior stops
// drifting once the discriminator joins.
func (v *Variational) SetWarmedUp(state bool) { v.warmedUp = state }

// WarmedUp reports the adversarial-phase flag.
func (v *Variational) WarmedUp() bool { return v.warmedUp }

// Beta returns the KL weight.
func (v *Variational) Beta() float64 { return v.beta }

// SetBeta updates the KL weight, used by warmup schedules.
func (v *Variational) SetBeta(beta float64) { v.beta = beta }

// Reparametrize splits z into mean and scale halves along channels,
// maps scale to a positive std via softplus, and samples
// mean + std*noise. The regularizer is beta times the KL divergence
// summed over channels and averaged over batch and time.
func (v *Variational) Reparametrize(z *tensor.Tensor, train bool) (*tensor.Tensor, float64) {
	if z.Channels() != 2*v.latent {
		panic(fmt.Sprintf("bottleneck: variational input has %d channels, expected %d",
			z.Channels(), 2*v.latent))
	}
	batch, steps := z.Batch(), z.Length()
	out := tensor.New(batch, v.latent, steps)

	var kl float64
	for b := 0; b < batch; b++ {
		for c := 0; c < v.latent; c++ {
			for t := 0; t < steps; t++ {
				mean := z.At(b, c, t)
				std := softplus(z.At(b, v.latent+c, t)) + 1e-4
				variance := std * std

				sample := mean
				if train {
					sample += std * v.rng.NormFloat64()
				}
				out.Set(b, c, t, sample)
				kl += mean*mean + variance - math.Log(variance) - 1
			}
		}
	}
	kl /= float64(batch * steps)
	return out, v.beta * kl
}

// Backward routes latent gradients to the mean channels. Once warmed
// up, gradients are blocked entirely.
func (v *Variational) Backward(grad *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(grad.Batch(), 2*v.latent, grad.Length())
	if v.warmedUp {
		return out
	}
	for b := 0; b < grad.Batch(); b++ {
		for c := 0; c < v.latent; c++ {
			copy(out.Row(b, c), grad.Row(b, c))
		}
	}
	return out
}

// Wasserstein keeps the latent deterministic and penalizes the maximum
// mean discrepancy between the batch latent vectors and samples from a
// standard normal.
type Wasserstein struct {
	latent   int
	warmedUp bool
	rng      *rand.Rand
}

// NewWasserstein creates a Wasserstein bottleneck over latent channels.
func NewWasserstein(rng *rand.Rand, latent int) (*Wasserstein, error) {
	if latent < 1 {
		return nil, ErrInvalidLatent
	}
	return &Wasserstein{latent: latent, rng: rng}, nil
}

// LatentSize returns the number of latent channels.
func (w *Wasserstein) LatentSize() int { return w.latent }

// EncoderChannels equals the latent size: no distributional split.
func (w *Wasserstein) EncoderChannels() int { return w.latent }

// SetWarmedUp marks the start of the adversarial phase.
func (w *Wasserstein) SetWarmedUp(state bool) { w.warmedUp = state }

// WarmedUp reports the adversarial-phase flag.
func (w *Wasserstein) WarmedUp() bool { return w.warmedUp }

// Reparametrize passes z through unchanged and returns the MMD between
// the batch's latent vectors, flattened over batch and time, and an
// equally sized draw from a standard normal.
func (w *Wasserstein) Reparametrize(z *tensor.Tensor, train bool) (*tensor.Tensor, float64) {
	if z.Channels() != w.latent {
		panic(fmt.Sprintf("bottleneck: wasserstein input has %d channels, expected %d",
			z.Channels(), w.latent))
	}
	batch, steps := z.Batch(), z.Length()
	n := batch * steps
	xs := make([][]float64, n)
	ys := make([][]float64, n)
	for b := 0; b < batch; b++ {
		for t := 0; t < steps; t++ {
			x := make([]float64, w.latent)
			y := make([]float64, w.latent)
			for c := 0; c < w.latent; c++ {
				x[c] = z.At(b, c, t)
				y[c] = w.rng.NormFloat64()
			}
			xs[b*steps+t] = x
			ys[b*steps+t] = y
		}
	}
	mmd := meanKernel(xs, xs) + meanKernel(ys, ys) - 2*meanKernel(xs, ys)
	return z.Clone(), mmd
}

// meanKernel averages the Gaussian kernel exp(-mean((a_i-b_j)^2)/dim)
// over all vector pairs.
func meanKernel(a, b [][]float64) float64 {
	dim := float64(len(a[0]))
	var sum float64
	for _, x := range a {
		for _, y := range b {
			var d float64
			for i := range x {
				diff := x[i] - y[i]
				d += diff * diff
			}
			sum += math.Exp(-d / dim / dim)
		}
	}
	return sum / float64(len(a)*len(b))
}

// Backward passes gradients through unchanged, or blocks them once
// warmed up.
func (w *Wasserstein) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if w.warmedUp {
		return tensor.New(grad.Batch(), grad.Channels(), grad.Length())
	}
	return grad.Clone()
}

// Discrete quantizes the latent with a residual vector quantizer and
// injects learnable smoothing noise afterwards. The regularizer is the
// batch-mean commitment loss. While disabled it passes the latent
// through untouched, which supports a pretraining phase before the
// codebooks take over.
type Discrete struct {
	latent   int
	rvq      *rvq.Quantizer
	noiseAmp []float64 // per-channel, positive via softplus
	enabled  bool
	warmedUp bool
	rng      *rand.Rand
}

// NewDiscrete creates a discrete bottleneck with numStages cascaded
// codebooks of the given size. Quantization starts disabled.
func NewDiscrete(rng *rand.Rand, latent, numStages, codebookSize int, opts ...rvq.Option) (*Discrete, error) {
	if latent < 1 {
		return nil, ErrInvalidLatent
	}
	q, err := rvq.NewQuantizer(rng, latent, numStages, codebookSize, opts...)
	if err != nil {
		return nil, err
	}
	return &Discrete{
		latent:   latent,
		rvq:      q,
		noiseAmp: make([]float64, latent),
		rng:      rng,
	}, nil
}

// LatentSize returns the number of latent channels.
func (d *Discrete) LatentSize() int { return d.latent }

// EncoderChannels equals the latent size.
func (d *Discrete) EncoderChannels() int { return d.latent }

// SetWarmedUp marks the start of the adversarial phase.
func (d *Discrete) SetWarmedUp(state bool) { d.warmedUp = state }

// WarmedUp reports the adversarial-phase flag.
func (d *Discrete) WarmedUp() bool { return d.warmedUp }

// SetEnabled switches quantization on or off.
func (d *Discrete) SetEnabled(state bool) { d.enabled = state }

// Enabled reports whether quantization is active.
func (d *Discrete) Enabled() bool { return d.enabled }

// Quantizer returns the underlying residual quantizer.
func (d *Discrete) Quantizer() *rvq.Quantizer { return d.rvq }

// Reparametrize quantizes z and adds smoothing noise with a learnable
// per-channel amplitude, softplus-mapped with a 1e-3 floor. Disabled,
// it returns z unchanged with zero regularization.
func (d *Discrete) Reparametrize(z *tensor.Tensor, train bool) (*tensor.Tensor, float64) {
	if z.Channels() != d.latent {
		panic(fmt.Sprintf("bottleneck: discrete input has %d channels, expected %d",
			z.Channels(), d.latent))
	}
	if !d.enabled {
		return z.Clone(), 0
	}
	q, losses := d.rvq.Quantize(z, train)
	if train {
		for b := 0; b < q.Batch(); b++ {
			for c := 0; c < d.latent; c++ {
				amp := softplus(d.noiseAmp[c]) + 1e-3
				row := q.Row(b, c)
				for t := range row {
					row[t] += amp * d.rng.NormFloat64()
				}
			}
		}
	}
	var commitment float64
	for _, l := range losses {
		commitment += l
	}
	commitment /= float64(len(losses))
	return q, commitment
}

// Backward treats quantization as a straight-through identity, or
// blocks gradients once warmed up.
func (d *Discrete) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.warmedUp {
		return tensor.New(grad.Batch(), grad.Channels(), grad.Length())
	}
	return grad.Clone()
}

// VisitParams exposes the smoothing-noise amplitude for checkpointing.
func (d *Discrete) VisitParams(prefix string, visit func(name string, data []float64)) {
	visit(prefix+".noise_amp", d.noiseAmp)
}

// VisitBuffers exposes the codebook state for checkpointing.
func (d *Discrete) VisitBuffers(prefix string, visit func(name string, data []float64)) {
	d.rvq.VisitBuffers(prefix+".rvq", visit)
}
