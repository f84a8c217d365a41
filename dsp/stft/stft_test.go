package stft

import (
	"math"
	"testing"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap float64
	}{
		{"zero size", 0, 0.5},
		{"non power of two", 1000, 0.5},
		{"negative overlap", 512, -0.1},
		{"full overlap", 512, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.size, tt.overlap); err == nil {
				t.Fatalf("New(%d, %v) succeeded, want error", tt.size, tt.overlap)
			}
		})
	}
}

func TestHopFromOverlap(t *testing.T) {
	tr, err := New(1024, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Hop() != 256 {
		t.Fatalf("Hop = %d, want 256", tr.Hop())
	}
	if tr.Bins() != 513 {
		t.Fatalf("Bins = %d, want 513", tr.Bins())
	}
}

func TestNumFrames(t *testing.T) {
	tr, err := NewWithHop(512, 128)
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.NumFrames(1024); got != 9 {
		t.Fatalf("NumFrames(1024) = %d, want 9", got)
	}
	mags := tr.Magnitude(make([]float64, 1024))
	if len(mags) != 9 {
		t.Fatalf("Magnitude produced %d frames, want 9", len(mags))
	}
}

func TestSinePeakBin(t *testing.T) {
	const size = 1024
	tr, err := New(size, 0.75)
	if err != nil {
		t.Fatal(err)
	}

	// A sine hitting bin center exactly: k cycles per window.
	const k = 37
	x := make([]float64, 4096)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * k * float64(i) / size)
	}
	mags := tr.Magnitude(x)

	// Inspect a frame away from the reflected edges.
	frame := mags[len(mags)/2]
	peak := 0
	for i := range frame {
		if frame[i] > frame[peak] {
			peak = i
		}
	}
	if peak != k {
		t.Fatalf("peak bin %d, want %d", peak, k)
	}
}

func TestSilenceIsZero(t *testing.T) {
	tr, err := New(256, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range tr.Magnitude(make([]float64, 2048)) {
		for i, v := range frame {
			if v != 0 {
				t.Fatalf("bin %d = %v, want 0", i, v)
			}
		}
	}
}

func TestMultiscale(t *testing.T) {
	if _, err := NewMultiscale(nil, 0.75); err != ErrNoScales {
		t.Fatalf("empty scales error = %v, want ErrNoScales", err)
	}
	ms, err := NewMultiscale([]int{2048, 1024, 512}, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	specs := ms.Magnitudes(make([]float64, 8192))
	if len(specs) != 3 {
		t.Fatalf("got %d spectrograms, want 3", len(specs))
	}
	for i, tr := range ms.Scales() {
		if len(specs[i]) != tr.NumFrames(8192) {
			t.Fatalf("scale %d: %d frames, want %d", tr.Size(), len(specs[i]), tr.NumFrames(8192))
		}
	}
}
