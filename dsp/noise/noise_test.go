package noise

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewSynthesizerRejectsInvalidConfig(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name   string
		bands  int
		target int
		want   error
	}{
		{"one band", 1, 64, ErrInvalidBands},
		{"bands not 2^k+1", 6, 64, ErrInvalidBands},
		{"target not power of two", 5, 60, ErrInvalidTarget},
		{"target smaller than response", 17, 16, ErrTargetTooFew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSynthesizer(tt.bands, tt.target, rng); err != tt.want {
				t.Fatalf("NewSynthesizer(%d, %d) error = %v, want %v", tt.bands, tt.target, err, tt.want)
			}
		})
	}
}

func TestFlatEnvelopeYieldsDelta(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := NewSynthesizer(5, 64, rng)
	if err != nil {
		t.Fatal(err)
	}
	amp := []float64{1, 1, 1, 1, 1}
	ir := s.ImpulseResponse(amp)
	if math.Abs(ir[0]-1) > 1e-12 {
		t.Fatalf("ir[0] = %v, want 1", ir[0])
	}
	for i := 1; i < len(ir); i++ {
		if math.Abs(ir[i]) > 1e-12 {
			t.Fatalf("ir[%d] = %v, want 0", i, ir[i])
		}
	}
}

func TestZeroEnvelopeIsSilent(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s, err := NewSynthesizer(5, 64, rng)
	if err != nil {
		t.Fatal(err)
	}
	out := s.Excite(make([]float64, 5))
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v, want 0", i, v)
		}
	}
}

func TestConvolveMatchesDirectForm(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s, err := NewSynthesizer(9, 32, rng)
	if err != nil {
		t.Fatal(err)
	}
	signal := make([]float64, 32)
	kernel := make([]float64, 32)
	for i := range signal {
		signal[i] = rng.NormFloat64()
		kernel[i] = rng.NormFloat64()
	}
	got := s.Convolve(signal, kernel)
	for i := range got {
		var want float64
		for j := 0; j <= i; j++ {
			want += signal[j] * kernel[i-j]
		}
		if math.Abs(got[i]-want) > 1e-9 {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], want)
		}
	}
}

func TestExciteAmplitudeScaling(t *testing.T) {
	// Doubling the envelope doubles the excitation.
	amp := []float64{0.1, 0.5, 1, 0.5, 0.1}
	doubled := make([]float64, len(amp))
	for i, v := range amp {
		doubled[i] = 2 * v
	}

	a, err := NewSynthesizer(5, 128, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSynthesizer(5, 128, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	x := a.Excite(amp)
	y := b.Excite(doubled)
	for i := range x {
		if math.Abs(y[i]-2*x[i]) > 1e-9 {
			t.Fatalf("sample %d: got %v, want %v", i, y[i], 2*x[i])
		}
	}
}
