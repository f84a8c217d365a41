package codec

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-codec/dsp/noise"
	"github.com/cwbudde/algo-codec/nn"
	"github.com/cwbudde/algo-codec/tensor"
)

// Decoder is the synthesis backbone: an input convolution, one
// upsampling stage plus residual stack per ratio, and three aligned
// output branches. The waveform branch is tanh-bounded and multiplied
// by the loudness branch's gain envelope; once warmed up, the noise
// branch's stochastic excitation is added on top.
type Decoder struct {
	net   *nn.Sequential
	synth *nn.AlignBranches

	loudStride int
	useNoise   bool
	warmedUp   bool

	// cached pre-activations for the gradient pass
	lastWave *tensor.Tensor
	lastLoud *tensor.Tensor
}

func newDecoder(rng *rand.Rand, cfg Config, latent int) (*Decoder, error) {
	stages := len(cfg.Ratios)
	dim := cfg.Capacity << stages

	var mods []nn.Streamer
	input, err := nn.NewConv1d(rng, latent, dim, 7)
	if err != nil {
		return nil, fmt.Errorf("codec: decoder input: %w", err)
	}
	mods = append(mods, input)

	// Upsampling stages run the encoder's ratios in reverse.
	for i := stages - 1; i >= 0; i-- {
		r := cfg.Ratios[i]
		up, err := nn.NewUpsampleLayer(rng, dim, dim/2, r)
		if err != nil {
			return nil, fmt.Errorf("codec: decoder stage %d upsample: %w", i, err)
		}
		dim /= 2
		stack, err := nn.NewResidualStack(rng, dim, 3, cfg.Dilations)
		if err != nil {
			return nil, fmt.Errorf("codec: decoder stage %d stack: %w", i, err)
		}
		mods = append(mods, up, stack)
	}
	net := nn.NewSequential(mods...)

	waveGen, err := nn.NewConv1d(rng, dim, cfg.Bands, 7)
	if err != nil {
		return nil, fmt.Errorf("codec: waveform branch: %w", err)
	}
	loudGen, err := newLoudBranch(rng, dim, cfg.LoudStride)
	if err != nil {
		return nil, fmt.Errorf("codec: loudness branch: %w", err)
	}
	branches := []nn.Streamer{waveGen, loudGen}
	if cfg.UseNoise {
		noiseGen, err := newNoiseBranch(rng, dim, cfg.Bands, cfg.NoiseRatios, cfg.NoiseBands)
		if err != nil {
			return nil, fmt.Errorf("codec: noise branch: %w", err)
		}
		branches = append(branches, noiseGen)
	}

	return &Decoder{
		net:        net,
		synth:      nn.NewAlignBranches(branches...),
		loudStride: cfg.LoudStride,
		useNoise:   cfg.UseNoise,
	}, nil
}

// SetWarmedUp gates the noise branch into the output.
func (d *Decoder) SetWarmedUp(state bool) { d.warmedUp = state }

// Delay returns the cumulative decoder delay at the output rate.
func (d *Decoder) Delay() int {
	up, down := d.synth.Ratio()
	return d.net.Delay()*up/down + d.synth.Delay()
}

// Ratio returns the decoder's total upsampling factor.
func (d *Decoder) Ratio() (int, int) {
	nu, nd := d.net.Ratio()
	su, sd := d.synth.Ratio()
	return nu * su, nd * sd
}

// Process maps a latent (B, L, T) to subband audio (B, bands, T*prod).
func (d *Decoder) Process(z *tensor.Tensor) *tensor.Tensor {
	x := d.net.Process(z)
	outs := d.synth.ProcessAll(x)
	return d.combine(outs)
}

func (d *Decoder) combine(outs []*tensor.Tensor) *tensor.Tensor {
	wave, loud := outs[0], outs[1]
	d.lastWave = wave
	d.lastLoud = loud

	out := tensor.New(wave.Batch(), wave.Channels(), wave.Length())
	for b := 0; b < wave.Batch(); b++ {
		gain := loud.Row(b, 0)
		for c := 0; c < wave.Channels(); c++ {
			src := wave.Row(b, c)
			dst := out.Row(b, c)
			for t := range dst {
				dst[t] = math.Tanh(src[t]) * ModSigmoid(gain[t])
			}
		}
	}
	if d.useNoise && d.warmedUp {
		out.AddInPlace(outs[2])
	}
	return out
}

// Backward propagates output gradients to latent gradients for the
// most recent Process call. The stochastic noise branch does not carry
// gradient.
func (d *Decoder) Backward(grad *tensor.Tensor) *tensor.Tensor {
	wave, loud := d.lastWave, d.lastLoud
	gWave := tensor.New(wave.Batch(), wave.Channels(), wave.Length())
	gLoud := tensor.New(loud.Batch(), 1, loud.Length())
	for b := 0; b < wave.Batch(); b++ {
		gainIn := loud.Row(b, 0)
		gl := gLoud.Row(b, 0)
		for c := 0; c < wave.Channels(); c++ {
			src := wave.Row(b, c)
			g := grad.Row(b, c)
			gw := gWave.Row(b, c)
			for t := range g {
				th := math.Tanh(src[t])
				gw[t] = g[t] * ModSigmoid(gainIn[t]) * (1 - th*th)
				gl[t] += g[t] * th * modSigmoidGrad(gainIn[t])
			}
		}
	}
	grads := []*tensor.Tensor{gWave, gLoud}
	if d.useNoise {
		grads = append(grads, tensor.New(grad.Batch(), grad.Channels(), grad.Length()))
	}
	gx := d.synth.BackwardAll(grads)
	return d.net.Backward(gx)
}

type decoderState struct {
	net   nn.State
	synth nn.State
}

// NewState allocates streaming caches for one audio stream.
func (d *Decoder) NewState(batch int) nn.State {
	return &decoderState{net: d.net.NewState(batch), synth: d.synth.NewState(batch)}
}

// ProcessStream decodes one latent chunk.
func (d *Decoder) ProcessStream(st nn.State, z *tensor.Tensor) *tensor.Tensor {
	ds := st.(*decoderState)
	x := d.net.ProcessStream(ds.net, z)
	outs := d.synth.ProcessStreamAll(ds.synth, x)
	return d.combine(outs)
}

// VisitParams exposes backbone and branch parameters.
func (d *Decoder) VisitParams(prefix string, visit func(name string, data []float64)) {
	nn.VisitParams(d.net, prefix+".net", visit)
	nn.VisitParams(d.synth, prefix+".synth", visit)
}

// loudBranch predicts a subsampled loudness envelope and repeats each
// value loudStride times to return to the branch rate.
type loudBranch struct {
	conv   *nn.Conv1d
	stride int
}

func newLoudBranch(rng *rand.Rand, dim, stride int) (*loudBranch, error) {
	conv, err := nn.NewConv1d(rng, dim, 1, 2*stride+1, nn.WithStride(stride))
	if err != nil {
		return nil, err
	}
	return &loudBranch{conv: conv, stride: stride}, nil
}

func (l *loudBranch) Delay() int        { return l.conv.Delay() * l.stride }
func (l *loudBranch) Ratio() (int, int) { return 1, 1 }

func (l *loudBranch) Process(x *tensor.Tensor) *tensor.Tensor {
	return l.repeat(l.conv.Process(x))
}

func (l *loudBranch) repeat(y *tensor.Tensor) *tensor.Tensor {
	if l.stride == 1 {
		return y
	}
	out := tensor.New(y.Batch(), 1, y.Length()*l.stride)
	for b := 0; b < y.Batch(); b++ {
		src := y.Row(b, 0)
		dst := out.Row(b, 0)
		for t, v := range src {
			for k := 0; k < l.stride; k++ {
				dst[t*l.stride+k] = v
			}
		}
	}
	return out
}

func (l *loudBranch) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if l.stride > 1 {
		folded := tensor.New(grad.Batch(), 1, grad.Length()/l.stride)
		for b := 0; b < grad.Batch(); b++ {
			src := grad.Row(b, 0)
			dst := folded.Row(b, 0)
			for t := range dst {
				for k := 0; k < l.stride; k++ {
					dst[t] += src[t*l.stride+k]
				}
			}
		}
		grad = folded
	}
	return l.conv.Backward(grad)
}

func (l *loudBranch) NewState(batch int) nn.State { return l.conv.NewState(batch) }

func (l *loudBranch) ProcessStream(st nn.State, x *tensor.Tensor) *tensor.Tensor {
	return l.repeat(l.conv.ProcessStream(st, x))
}

// VisitParams exposes the envelope convolution's parameters.
func (l *loudBranch) VisitParams(prefix string, visit func(name string, data []float64)) {
	l.conv.VisitParams(prefix, visit)
}

// noiseBranch predicts coarse per-band amplitude envelopes and expands
// them into broadband excitation. A small strided convnet downsamples
// the backbone features; every coarse step then yields one excitation
// segment per band via the noise synthesizer.
type noiseBranch struct {
	net    *nn.Sequential
	synth  *noise.Synthesizer
	inCh   int
	bands  int
	nbands int
	target int
}

func newNoiseBranch(rng *rand.Rand, dim, bands int, ratios []int, noiseBands int) (*noiseBranch, error) {
	target := 1
	for _, r := range ratios {
		target *= r
	}
	var mods []nn.Streamer
	for i, r := range ratios {
		out := dim
		if i == len(ratios)-1 {
			out = bands * noiseBands
		}
		conv, err := nn.NewConv1d(rng, dim, out, 3, nn.WithStride(r))
		if err != nil {
			return nil, err
		}
		if i > 0 {
			mods = append(mods, nn.NewLeakyReLU(0.2))
		}
		mods = append(mods, conv)
	}
	synth, err := noise.NewSynthesizer(noiseBands, target, rng)
	if err != nil {
		return nil, err
	}
	return &noiseBranch{
		net:    nn.NewSequential(mods...),
		synth:  synth,
		inCh:   dim,
		bands:  bands,
		nbands: noiseBands,
		target: target,
	}, nil
}

// Delay converts the convnet delay back to the branch rate.
func (n *noiseBranch) Delay() int        { return n.net.Delay() * n.target }
func (n *noiseBranch) Ratio() (int, int) { return 1, 1 }

func (n *noiseBranch) Process(x *tensor.Tensor) *tensor.Tensor {
	return n.excite(n.net.Process(x))
}

// excite turns the coarse envelope tensor (B, bands*noiseBands, T')
// into excitation (B, bands, T'*target).
func (n *noiseBranch) excite(a *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(a.Batch(), n.bands, a.Length()*n.target)
	amp := make([]float64, n.nbands)
	for b := 0; b < a.Batch(); b++ {
		for k := 0; k < n.bands; k++ {
			dst := out.Row(b, k)
			for t := 0; t < a.Length(); t++ {
				for j := 0; j < n.nbands; j++ {
					amp[j] = ModSigmoid(a.At(b, k*n.nbands+j, t) - 5)
				}
				copy(dst[t*n.target:(t+1)*n.target], n.synth.Excite(amp))
			}
		}
	}
	return out
}

// Backward returns zero: the excitation is stochastic and carries no
// usable gradient toward the backbone.
func (n *noiseBranch) Backward(grad *tensor.Tensor) *tensor.Tensor {
	return tensor.New(grad.Batch(), n.inCh, grad.Length())
}

func (n *noiseBranch) NewState(batch int) nn.State { return n.net.NewState(batch) }

func (n *noiseBranch) ProcessStream(st nn.State, x *tensor.Tensor) *tensor.Tensor {
	return n.excite(n.net.ProcessStream(st, x))
}

// VisitParams exposes the envelope convnet's parameters.
func (n *noiseBranch) VisitParams(prefix string, visit func(name string, data []float64)) {
	nn.VisitParams(n.net, prefix, visit)
}
