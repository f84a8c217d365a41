// Package codec assembles the full autoencoder: multiband analysis, a
// causal convolutional encoder, an exchangeable latent bottleneck, a
// decoder with waveform, loudness, and noise branches, and multiband
// synthesis. The model exposes encode/decode/forward for inference,
// training and validation steps producing named metrics for an outer
// training loop, a gradient-based receptive field probe, and a
// versioned checkpoint format.
package codec

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-codec/bottleneck"
	"github.com/cwbudde/algo-codec/discriminator"
	"github.com/cwbudde/algo-codec/dsp/pqmf"
	"github.com/cwbudde/algo-codec/loss"
	"github.com/cwbudde/algo-codec/nn"
	"github.com/cwbudde/algo-codec/tensor"
)

// ReceptiveField is the probed effective input window, in full-rate
// samples on each side of an output sample.
type ReceptiveField struct {
	Left  int
	Right int
}

// Valid reports whether the field has been probed.
func (r ReceptiveField) Valid() bool { return r.Left > 0 || r.Right > 0 }

// Model is the complete audio autoencoder.
type Model struct {
	cfg Config
	log *logrus.Entry
	rng *rand.Rand

	pqmf    *pqmf.Bank
	encoder *nn.Sequential
	bn      bottleneck.Bottleneck
	decoder *Decoder
	disc    *discriminator.MultiScale

	spectral *loss.SpectralDistance
	loudness *loss.Loudness
	gan      loss.Objective
	featDist loss.FeatureDistance

	warmedUp  bool
	step      int
	receptive ReceptiveField

	stats *LatentStats
}

// NewModel builds a model from cfg. All shape checks happen here.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	log := logrus.WithField("component", "codec")

	bank, err := pqmf.New(cfg.Bands)
	if err != nil {
		return nil, fmt.Errorf("codec: filter bank: %w", err)
	}

	var bn bottleneck.Bottleneck
	switch cfg.Bottleneck {
	case BottleneckVariational:
		bn, err = bottleneck.NewVariational(rng, cfg.LatentSize, cfg.Beta)
	case BottleneckWasserstein:
		bn, err = bottleneck.NewWasserstein(rng, cfg.LatentSize)
	case BottleneckDiscrete:
		bn, err = bottleneck.NewDiscrete(rng, cfg.LatentSize, cfg.NumQuantizers, cfg.CodebookSize)
	default:
		err = errors.New("codec: unknown bottleneck kind")
	}
	if err != nil {
		return nil, err
	}

	encoder, err := newEncoder(rng, cfg.Bands, cfg.Capacity, cfg.Ratios, cfg.Dilations,
		bn.EncoderChannels(), cfg.Bottleneck == BottleneckDiscrete)
	if err != nil {
		return nil, err
	}
	decoder, err := newDecoder(rng, cfg, cfg.LatentSize)
	if err != nil {
		return nil, err
	}
	disc, err := discriminator.NewMultiScale(rng, cfg.NumDiscriminators, 1)
	if err != nil {
		return nil, err
	}
	spectral, err := loss.NewSpectralDistance(cfg.StftScales, cfg.StftOverlap, 1e-7)
	if err != nil {
		return nil, err
	}
	loud, err := loss.NewLoudness(cfg.SampleRate, cfg.DownsamplingRatio())
	if err != nil {
		return nil, err
	}

	var gan loss.Objective
	switch cfg.GANLoss {
	case GANHinge:
		gan = loss.Hinge
	case GANLeastSquares:
		gan = loss.LeastSquares
	case GANNonSaturating:
		gan = loss.NonSaturating
	default:
		return nil, errors.New("codec: unknown adversarial objective")
	}

	m := &Model{
		cfg:      cfg,
		log:      log,
		rng:      rng,
		pqmf:     bank,
		encoder:  encoder,
		bn:       bn,
		decoder:  decoder,
		disc:     disc,
		spectral: spectral,
		loudness: loud,
		gan:      gan,
		featDist: loss.MeanAbs,
		stats:    newLatentStats(cfg.LatentSize),
	}
	log.WithFields(logrus.Fields{
		"bands":      cfg.Bands,
		"latent":     cfg.LatentSize,
		"bottleneck": cfg.Bottleneck.String(),
		"ratio":      cfg.DownsamplingRatio(),
	}).Info("model constructed")
	return m, nil
}

// Config returns the construction parameters.
func (m *Model) Config() Config { return m.cfg }

// SetWarmedUp switches the adversarial phase on or off across all
// components. The transition to true is made once, by the trainer,
// after the configured warmup step count.
func (m *Model) SetWarmedUp(state bool) {
	if state != m.warmedUp {
		m.log.WithField("warmed_up", state).Info("phase transition")
	}
	m.warmedUp = state
	m.bn.SetWarmedUp(state)
	m.decoder.SetWarmedUp(state)
}

// WarmedUp reports the adversarial-phase flag.
func (m *Model) WarmedUp() bool { return m.warmedUp }

// Step returns the number of completed training steps.
func (m *Model) Step() int { return m.step }

// Encode maps waveform audio (B, 1, T) to the deterministic latent
// (B, L, T/ratio).
func (m *Model) Encode(x *tensor.Tensor) *tensor.Tensor {
	mb := m.pqmf.Analysis(x)
	raw := m.encoder.Process(mb)
	z, _ := m.bn.Reparametrize(raw, false)
	return z
}

// Decode maps a latent back to waveform audio (B, 1, T*ratio).
func (m *Model) Decode(z *tensor.Tensor) *tensor.Tensor {
	return m.pqmf.Synthesis(m.decoder.Process(z))
}

// Forward encodes and decodes in one call.
func (m *Model) Forward(x *tensor.Tensor) *tensor.Tensor {
	return m.Decode(m.Encode(x))
}

// beta returns the KL weight for the current step, either from the
// configured schedule or ramped linearly over BetaWarmupSteps.
func (m *Model) beta() float64 {
	if m.cfg.BetaSchedule != nil {
		return m.cfg.BetaSchedule(m.step)
	}
	if m.cfg.BetaWarmupSteps <= 0 || m.step >= m.cfg.BetaWarmupSteps {
		return m.cfg.Beta
	}
	return m.cfg.Beta * float64(m.step) / float64(m.cfg.BetaWarmupSteps)
}

// cropValid trims the receptive field from both ends of a subband
// tensor. The field is measured in full-rate samples, so it shrinks by
// the band count here.
func (m *Model) cropValid(x *tensor.Tensor) *tensor.Tensor {
	left := m.receptive.Left / m.cfg.Bands
	right := m.receptive.Right / m.cfg.Bands
	if left+right >= x.Length() {
		return x
	}
	return x.CropTime(left, x.Length()-right)
}

// TrainingStep runs one full forward pass on a batch of waveforms
// (B, 1, T) and returns the named scalar metrics the outer training
// loop optimizes and logs.
func (m *Model) TrainingStep(x *tensor.Tensor) map[string]float64 {
	m.step++
	if v, ok := m.bn.(*bottleneck.Variational); ok {
		v.SetBeta(m.beta())
	}

	mbX := m.pqmf.Analysis(x)
	raw := m.encoder.Process(mbX)
	z, reg := m.bn.Reparametrize(raw, true)
	mbY := m.decoder.Process(z)

	if m.cfg.ValidSignalCrop && m.receptive.Valid() {
		mbX = m.cropValid(mbX)
		mbY = m.cropValid(mbY)
	}

	distance := m.spectral.Distance(mbX, mbY)

	fx := m.pqmf.Synthesis(mbX)
	fy := m.pqmf.Synthesis(mbY)
	distance += m.spectral.Distance(fx, fy)

	loudDist := m.loudness.Distance(fx, fy)
	distance += loudDist

	var lossDis, lossAdv, predTrue, predFake, featureMatching float64
	if m.warmedUp {
		featTrue := m.disc.Features(fx)
		featFake := m.disc.Features(fy)
		featureMatching = loss.FeatureMatching(m.featDist, featTrue, featFake, m.cfg.NumSkippedFeatures)

		for s := range featTrue {
			scoreTrue := flattenScores(featTrue[s])
			scoreFake := flattenScores(featFake[s])
			dis, adv := m.gan(scoreTrue, scoreFake)
			lossDis += dis
			lossAdv += adv
			predTrue += mean(scoreTrue)
			predFake += mean(scoreFake)
		}
	}

	lossGen := distance + lossAdv + reg
	if m.cfg.FeatureMatch {
		lossGen += 10 * featureMatching
	}

	metrics := map[string]float64{
		"loss_dis":         lossDis,
		"loss_gen":         lossGen,
		"loud_dist":        loudDist,
		"regularization":   reg,
		"pred_true":        predTrue,
		"pred_fake":        predFake,
		"distance":         distance,
		"feature_matching": featureMatching,
	}
	m.log.WithFields(logrus.Fields{
		"step":     m.step,
		"loss_gen": lossGen,
		"loss_dis": lossDis,
		"distance": distance,
	}).Debug("training step")
	return metrics
}

// ValidationStep reconstructs a batch without sampling noise, records
// latents for the PCA diagnostics, and returns the validation metric.
func (m *Model) ValidationStep(x *tensor.Tensor) map[string]float64 {
	mbX := m.pqmf.Analysis(x)
	raw := m.encoder.Process(mbX)

	// The diagnostic records the posterior mean, not the sample.
	if _, ok := m.bn.(*bottleneck.Variational); ok {
		means, _ := raw.SplitChannels(m.cfg.LatentSize)
		m.stats.Collect(means)
	} else {
		m.stats.Collect(raw)
	}

	z, _ := m.bn.Reparametrize(raw, false)
	mbY := m.decoder.Process(z)

	fx := m.pqmf.Synthesis(mbX)
	fy := m.pqmf.Synthesis(mbY)
	distance := m.spectral.Distance(fx, fy)

	return map[string]float64{"validation": distance}
}

// OnValidationEnd recomputes the latent PCA diagnostics from the
// latents collected since the last call and returns the fidelity
// metrics (latent dimensions needed to explain each variance level).
func (m *Model) OnValidationEnd() map[string]float64 {
	metrics := m.stats.Finalize()
	for k, v := range metrics {
		m.log.WithField(k, v).Info("latent fidelity")
	}
	return metrics
}

func flattenScores(features []*tensor.Tensor) []float64 {
	score := features[len(features)-1]
	out := make([]float64, 0, score.Batch()*score.Length())
	for b := 0; b < score.Batch(); b++ {
		out = append(out, score.Row(b, 0)...)
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}
