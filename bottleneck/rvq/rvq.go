// Package rvq implements residual vector quantization. A cascade of
// codebooks quantizes a latent sequence stage by stage, each stage
// encoding the residual left by the previous one. Codebooks are seeded
// by k-means on the first batch and tracked with exponential moving
// averages afterwards.
package rvq

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-codec/tensor"
)

// Errors returned by constructors.
var (
	ErrInvalidDim       = errors.New("rvq: vector dimension must be positive")
	ErrInvalidCodebook  = errors.New("rvq: codebook size must be at least 2")
	ErrInvalidNumStages = errors.New("rvq: number of quantizer stages must be positive")
)

const (
	emaDecay     = 0.8
	emaEps       = 1e-5
	kmeansRounds = 10
)

// Layer is a single vector-quantization stage with one codebook.
type Layer struct {
	dim  int
	size int

	codebook    []float64 // (size, dim) row-major
	clusterSize []float64 // EMA assignment counts per code
	embedAvg    []float64 // EMA sum of assigned vectors, (size, dim)

	initialized bool
	rng         *rand.Rand
}

// NewLayer creates an uninitialized stage. The codebook is seeded by
// k-means on the first quantized batch.
func NewLayer(rng *rand.Rand, dim, codebookSize int) (*Layer, error) {
	if dim < 1 {
		return nil, ErrInvalidDim
	}
	if codebookSize < 2 {
		return nil, ErrInvalidCodebook
	}
	return &Layer{
		dim:         dim,
		size:        codebookSize,
		codebook:    make([]float64, codebookSize*dim),
		clusterSize: make([]float64, codebookSize),
		embedAvg:    make([]float64, codebookSize*dim),
		rng:         rng,
	}, nil
}

// Dim returns the vector dimension.
func (l *Layer) Dim() int { return l.dim }

// CodebookSize returns the number of codes.
func (l *Layer) CodebookSize() int { return l.size }

// Code returns the vector of code e as a live slice.
func (l *Layer) Code(e int) []float64 {
	return l.codebook[e*l.dim : (e+1)*l.dim]
}

// Nearest returns the index of the code closest to v in Euclidean
// distance.
func (l *Layer) Nearest(v []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for e := 0; e < l.size; e++ {
		c := l.Code(e)
		var d float64
		for i, vi := range v {
			diff := vi - c[i]
			d += diff * diff
		}
		if d < bestDist {
			bestDist = d
			best = e
		}
	}
	return best
}

// quantizeVectors assigns each row of vecs to its nearest code and,
// when train is set, folds the batch into the EMA codebook statistics.
// Lazily runs k-means on the first batch seen.
func (l *Layer) quantizeVectors(vecs [][]float64, train bool) []int {
	if !l.initialized {
		l.kmeansInit(vecs)
	}
	codes := make([]int, len(vecs))
	for i, v := range vecs {
		codes[i] = l.Nearest(v)
	}
	if train {
		l.emaUpdate(vecs, codes)
	}
	return codes
}

// kmeansInit seeds the codebook from the given vectors: random distinct
// starting points, then a few rounds of Lloyd iteration.
func (l *Layer) kmeansInit(vecs [][]float64) {
	for e := 0; e < l.size; e++ {
		src := vecs[l.rng.Intn(len(vecs))]
		copy(l.Code(e), src)
	}
	counts := make([]float64, l.size)
	sums := make([]float64, l.size*l.dim)
	for round := 0; round < kmeansRounds; round++ {
		for i := range counts {
			counts[i] = 0
		}
		for i := range sums {
			sums[i] = 0
		}
		for _, v := range vecs {
			e := l.Nearest(v)
			counts[e]++
			vecmath.AddBlockInPlace(sums[e*l.dim:(e+1)*l.dim], v)
		}
		for e := 0; e < l.size; e++ {
			if counts[e] == 0 {
				// Re-seed empty clusters from a random vector.
				copy(l.Code(e), vecs[l.rng.Intn(len(vecs))])
				continue
			}
			vecmath.ScaleBlock(l.Code(e), sums[e*l.dim:(e+1)*l.dim], 1/counts[e])
		}
	}
	copy(l.embedAvg, l.codebook)
	for e := 0; e < l.size; e++ {
		l.clusterSize[e] = counts[e]
	}
	l.initialized = true
}

// emaUpdate folds one batch of assignments into the moving codebook
// statistics and rebuilds the codebook with Laplace smoothing.
func (l *Layer) emaUpdate(vecs [][]float64, codes []int) {
	counts := make([]float64, l.size)
	sums := make([]float64, l.size*l.dim)
	for i, v := range vecs {
		e := codes[i]
		counts[e]++
		vecmath.AddBlockInPlace(sums[e*l.dim:(e+1)*l.dim], v)
	}
	var total float64
	for e := 0; e < l.size; e++ {
		l.clusterSize[e] = emaDecay*l.clusterSize[e] + (1-emaDecay)*counts[e]
		total += l.clusterSize[e]
		row := l.embedAvg[e*l.dim : (e+1)*l.dim]
		sum := sums[e*l.dim : (e+1)*l.dim]
		for i := range row {
			row[i] = emaDecay*row[i] + (1-emaDecay)*sum[i]
		}
	}
	for e := 0; e < l.size; e++ {
		n := (l.clusterSize[e] + emaEps) / (total + float64(l.size)*emaEps) * total
		vecmath.ScaleBlock(l.Code(e), l.embedAvg[e*l.dim:(e+1)*l.dim], 1/n)
	}
}

// Quantizer cascades several layers, each quantizing the residual left
// by the previous stages.
type Quantizer struct {
	layers []*Layer
	dim    int

	dropout bool
	rng     *rand.Rand
}

// Option configures a Quantizer.
type Option func(*Quantizer)

// WithoutDropout disables per-example stage dropout during training.
func WithoutDropout() Option {
	return func(q *Quantizer) { q.dropout = false }
}

// NewQuantizer creates a residual quantizer with numStages cascaded
// codebooks of the given size over dim-dimensional vectors.
func NewQuantizer(rng *rand.Rand, dim, numStages, codebookSize int, opts ...Option) (*Quantizer, error) {
	if numStages < 1 {
		return nil, ErrInvalidNumStages
	}
	q := &Quantizer{dim: dim, dropout: true, rng: rng}
	for _, opt := range opts {
		opt(q)
	}
	for i := 0; i < numStages; i++ {
		l, err := NewLayer(rng, dim, codebookSize)
		if err != nil {
			return nil, fmt.Errorf("rvq: stage %d: %w", i, err)
		}
		q.layers = append(q.layers, l)
	}
	return q, nil
}

// NumStages returns the number of cascaded codebooks.
func (q *Quantizer) NumStages() int { return len(q.layers) }

// Dim returns the vector dimension.
func (q *Quantizer) Dim() int { return q.dim }

// Layer returns stage i.
func (q *Quantizer) Layer(i int) *Layer { return q.layers[i] }

// Quantize maps x of shape (B, dim, T) to its quantized form of the
// same shape and a per-example commitment loss.
//
// Each stage quantizes the running residual; its per-example loss is
// the mean squared distance between residual and code over all channels
// and steps. With train set, stage dropout draws a threshold uniformly
// in [0, stages) per example and zeroes every later stage in both the
// output and the loss, dividing the loss by threshold+1 to keep its
// scale independent of the draw.
func (q *Quantizer) Quantize(x *tensor.Tensor, train bool) (*tensor.Tensor, []float64) {
	stages := len(q.layers)
	thresholds := make([]int, x.Batch())
	for b := range thresholds {
		thresholds[b] = stages - 1
	}
	if train && q.dropout {
		for b := range thresholds {
			thresholds[b] = q.rng.Intn(stages)
		}
	}
	return q.quantizeWithThresholds(x, thresholds, train)
}

// quantizeWithThresholds runs the cascade with explicit per-example
// dropout thresholds.
func (q *Quantizer) quantizeWithThresholds(x *tensor.Tensor, thresholds []int, train bool) (*tensor.Tensor, []float64) {
	if x.Channels() != q.dim {
		panic(fmt.Sprintf("rvq: input has %d channels, expected %d", x.Channels(), q.dim))
	}
	batch, steps := x.Batch(), x.Length()

	residual := x.Clone()
	out := tensor.New(batch, q.dim, steps)
	losses := make([]float64, batch)

	vec := make([]float64, q.dim)
	for s, layer := range q.layers {
		// Gather all (b, t) columns of the residual as vectors.
		vecs := make([][]float64, 0, batch*steps)
		for b := 0; b < batch; b++ {
			for t := 0; t < steps; t++ {
				v := make([]float64, q.dim)
				for c := 0; c < q.dim; c++ {
					v[c] = residual.At(b, c, t)
				}
				vecs = append(vecs, v)
			}
		}
		codes := layer.quantizeVectors(vecs, train)

		for b := 0; b < batch; b++ {
			var stageLoss float64
			for t := 0; t < steps; t++ {
				code := layer.Code(codes[b*steps+t])
				copy(vec, code)
				for c := 0; c < q.dim; c++ {
					r := residual.At(b, c, t)
					diff := vec[c] - r
					stageLoss += diff * diff
					residual.Set(b, c, t, r-vec[c])
					if s <= thresholds[b] {
						out.Set(b, c, t, out.At(b, c, t)+vec[c])
					}
				}
			}
			if s <= thresholds[b] {
				losses[b] += stageLoss / float64(q.dim*steps)
			}
		}
	}

	for b := range losses {
		losses[b] /= float64(thresholds[b] + 1)
	}
	return out, losses
}

// VisitBuffers calls visit once per persistent codebook buffer with a
// dotted hierarchical name. The slices are live backing arrays.
func (q *Quantizer) VisitBuffers(prefix string, visit func(name string, data []float64)) {
	for i, l := range q.layers {
		p := fmt.Sprintf("%s.%d", prefix, i)
		visit(p+".codebook", l.codebook)
		visit(p+".cluster_size", l.clusterSize)
		visit(p+".embed_avg", l.embedAvg)
	}
}

// MarkInitialized flags every stage as seeded, used when restoring
// codebooks from a checkpoint.
func (q *Quantizer) MarkInitialized() {
	for _, l := range q.layers {
		l.initialized = true
	}
}
