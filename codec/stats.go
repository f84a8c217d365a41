package codec

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-codec/tensor"
)

// LatentStats accumulates latent vectors across a validation pass and
// derives PCA diagnostics: the latent mean, an orthonormal principal
// basis, and the cumulative explained-variance curve. The diagnostics
// describe how many latent dimensions the model actually uses; they
// never feed back into the generative path.
type LatentStats struct {
	dim  int
	vecs [][]float64

	mean     []float64
	basis    []float64 // dim x dim principal components, row-major
	fidelity []float64 // cumulative explained variance, descending order
}

func newLatentStats(dim int) *LatentStats {
	s := &LatentStats{
		dim:      dim,
		mean:     make([]float64, dim),
		basis:    make([]float64, dim*dim),
		fidelity: make([]float64, dim),
	}
	// Identity basis until the first analysis runs.
	for i := 0; i < dim; i++ {
		s.basis[i*dim+i] = 1
	}
	return s
}

// Collect appends every latent column of z to the accumulator.
func (s *LatentStats) Collect(z *tensor.Tensor) {
	for b := 0; b < z.Batch(); b++ {
		for t := 0; t < z.Length(); t++ {
			v := make([]float64, s.dim)
			for c := 0; c < s.dim; c++ {
				v[c] = z.At(b, c, t)
			}
			s.vecs = append(s.vecs, v)
		}
	}
}

// Finalize recomputes mean, basis, and fidelity from the collected
// latents, clears the accumulator, and returns the fidelity metrics:
// for each variance level, the index of the first principal component
// whose cumulative explained variance exceeds it.
func (s *LatentStats) Finalize() map[string]float64 {
	metrics := map[string]float64{}
	n := len(s.vecs)
	if n < 2 {
		s.vecs = nil
		return metrics
	}

	for c := range s.mean {
		s.mean[c] = 0
	}
	for _, v := range s.vecs {
		for c, x := range v {
			s.mean[c] += x
		}
	}
	for c := range s.mean {
		s.mean[c] /= float64(n)
	}

	cov := mat.NewSymDense(s.dim, nil)
	for _, v := range s.vecs {
		for i := 0; i < s.dim; i++ {
			di := v[i] - s.mean[i]
			for j := i; j < s.dim; j++ {
				cov.SetSym(i, j, cov.At(i, j)+di*(v[j]-s.mean[j]))
			}
		}
	}
	for i := 0; i < s.dim; i++ {
		for j := i; j < s.dim; j++ {
			cov.SetSym(i, j, cov.At(i, j)/float64(n-1))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		s.vecs = nil
		return metrics
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// EigenSym returns ascending eigenvalues; principal order is
	// descending.
	order := make([]int, s.dim)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	var total float64
	for _, v := range values {
		if v > 0 {
			total += v
		}
	}
	var cum float64
	for rank, idx := range order {
		if total > 0 && values[idx] > 0 {
			cum += values[idx] / total
		}
		s.fidelity[rank] = cum
		for c := 0; c < s.dim; c++ {
			s.basis[rank*s.dim+c] = vectors.At(c, idx)
		}
	}

	for _, p := range []float64{0.8, 0.9, 0.95, 0.99} {
		k := s.dim - 1
		for rank, f := range s.fidelity {
			if f > p {
				k = rank
				break
			}
		}
		metrics[fidelityName(p)] = float64(k)
	}

	s.vecs = nil
	return metrics
}

func fidelityName(p float64) string {
	switch p {
	case 0.8:
		return "fidelity_0.8"
	case 0.9:
		return "fidelity_0.9"
	case 0.95:
		return "fidelity_0.95"
	default:
		return "fidelity_0.99"
	}
}

// Mean returns the live latent mean buffer.
func (s *LatentStats) Mean() []float64 { return s.mean }

// Basis returns the live principal-component buffer.
func (s *LatentStats) Basis() []float64 { return s.basis }

// Fidelity returns the live cumulative explained-variance buffer.
func (s *LatentStats) Fidelity() []float64 { return s.fidelity }
