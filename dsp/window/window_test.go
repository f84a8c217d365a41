package window

import (
	"math"
	"testing"
)

func TestGenerateHannSymmetric(t *testing.T) {
	w := Generate(TypeHann, 5)
	want := []float64{0, 0.5, 1, 0.5, 0}
	for i, v := range want {
		if math.Abs(w[i]-v) > 1e-12 {
			t.Fatalf("w[%d] = %v, want %v", i, w[i], v)
		}
	}
}

func TestGenerateHannPeriodic(t *testing.T) {
	w := Generate(TypeHann, 8, WithPeriodic())
	// Periodic form: w[n] = 0.5 - 0.5 cos(2 pi n / N).
	for n, v := range w {
		want := 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/8)
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("w[%d] = %v, want %v", n, v, want)
		}
	}
	// The first sample is zero and the midpoint hits unity.
	if w[0] != 0 || math.Abs(w[4]-1) > 1e-12 {
		t.Fatalf("endpoints (%v, %v), want (0, 1)", w[0], w[4])
	}
}

func TestGenerateRectangular(t *testing.T) {
	for _, v := range Generate(TypeRectangular, 6) {
		if v != 1 {
			t.Fatalf("rectangular coefficient %v, want 1", v)
		}
	}
}

func TestGenerateInvalidLength(t *testing.T) {
	if w := Generate(TypeHann, 0); w != nil {
		t.Fatalf("Generate with length 0 returned %v", w)
	}
}

func TestKaiser(t *testing.T) {
	w := Kaiser(33, 8)
	// Symmetric, peaking at the center with unity gain.
	mid := len(w) / 2
	if math.Abs(w[mid]-1) > 1e-12 {
		t.Fatalf("center = %v, want 1", w[mid])
	}
	for i := 0; i < mid; i++ {
		if math.Abs(w[i]-w[len(w)-1-i]) > 1e-12 {
			t.Fatalf("asymmetry at %d: %v vs %v", i, w[i], w[len(w)-1-i])
		}
		if w[i] > w[i+1] {
			t.Fatalf("not increasing toward the center at %d", i)
		}
	}
	// Larger beta concentrates the window.
	sharp := Kaiser(33, 12)
	if sharp[0] >= w[0] {
		t.Fatalf("beta 12 edge %v not below beta 8 edge %v", sharp[0], w[0])
	}

	if w := Kaiser(17, 0); w[0] != 1 {
		t.Fatal("beta 0 must degenerate to rectangular")
	}
}

func TestKaiserBeta(t *testing.T) {
	tests := []struct {
		atten float64
		want  float64
	}{
		{100, 0.1102 * 91.3},
		{30, 0.5842*math.Pow(9, 0.4) + 0.07886*9},
		{10, 0},
	}
	for _, tt := range tests {
		if got := KaiserBeta(tt.atten); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("KaiserBeta(%v) = %v, want %v", tt.atten, got, tt.want)
		}
	}
}

func TestApply(t *testing.T) {
	buf := []float64{1, 1, 1, 1, 1}
	Apply(TypeHann, buf)
	want := []float64{0, 0.5, 1, 0.5, 0}
	for i, v := range want {
		if math.Abs(buf[i]-v) > 1e-12 {
			t.Fatalf("buf[%d] = %v, want %v", i, buf[i], v)
		}
	}
}

func TestBesselI0(t *testing.T) {
	// Reference values of I0.
	tests := []struct {
		x    float64
		want float64
	}{
		{0, 1},
		{1, 1.2660658777520084},
		{2.5, 3.2898391440501231},
		{5, 27.239871823604442},
	}
	for _, tt := range tests {
		if got := besselI0(tt.x); math.Abs(got-tt.want)/tt.want > 1e-6 {
			t.Fatalf("besselI0(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}
