package pqmf

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-codec/tensor"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(0); err != ErrInvalidBands {
		t.Fatalf("New(0) error = %v, want ErrInvalidBands", err)
	}
	if _, err := New(4, WithAttenuation(-3)); err != ErrInvalidAttenuation {
		t.Fatalf("negative attenuation error = %v, want ErrInvalidAttenuation", err)
	}
}

func TestSingleBandIsIdentity(t *testing.T) {
	b, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x := tensor.Randn(rng, 1, 1, 64)
	y := b.Synthesis(b.Analysis(x))
	if y != x {
		t.Fatal("single-band bank must pass the signal through unchanged")
	}
	if b.GroupDelay() != 0 {
		t.Fatalf("GroupDelay = %d, want 0", b.GroupDelay())
	}
}

func TestAnalysisShape(t *testing.T) {
	b, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	y := b.Analysis(tensor.New(2, 1, 1024))
	if y.Batch() != 2 || y.Channels() != 8 || y.Length() != 128 {
		t.Fatalf("analysis shape (%d,%d,%d), want (2,8,128)", y.Batch(), y.Channels(), y.Length())
	}
}

// reconstructionError returns the round-trip error relative to the
// signal, in dB, after compensating the measured group delay.
func reconstructionError(t *testing.T, b *Bank, x *tensor.Tensor) float64 {
	t.Helper()
	y := b.Synthesis(b.Analysis(x))
	gd := b.GroupDelay()

	// Ignore the filter transients at both ends.
	margin := 2 * b.Taps()
	var sig, errSum float64
	for i := margin; i < x.Length()-margin-gd; i++ {
		xi := x.At(0, 0, i)
		d := y.At(0, 0, i+gd) - xi
		sig += xi * xi
		errSum += d * d
	}
	if sig == 0 {
		t.Fatal("test signal region is silent")
	}
	return 10 * math.Log10(errSum/sig)
}

func TestRoundTripReconstruction(t *testing.T) {
	for _, bands := range []int{4, 8, 16} {
		t.Run(fmt.Sprintf("%d bands", bands), func(t *testing.T) {
			b, err := New(bands)
			if err != nil {
				t.Fatal(err)
			}
			length := 1 << 15

			rng := rand.New(rand.NewSource(int64(bands)))
			noise := tensor.Randn(rng, 1, 1, length)
			if db := reconstructionError(t, b, noise); db > -50 {
				t.Fatalf("noise reconstruction error %.1f dB, want < -50 dB", db)
			}

			sine := tensor.New(1, 1, length)
			for i := 0; i < length; i++ {
				sine.Set(0, 0, i, math.Sin(2*math.Pi*440*float64(i)/48000))
			}
			if db := reconstructionError(t, b, sine); db > -50 {
				t.Fatalf("sine reconstruction error %.1f dB, want < -50 dB", db)
			}
		})
	}
}

func TestSilenceStaysSilent(t *testing.T) {
	b, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.New(1, 1, 4096)
	y := b.Synthesis(b.Analysis(x))
	if m := y.MaxAbs(); m != 0 {
		t.Fatalf("silence produced output with max %v", m)
	}
}

func TestStreamingEquivalence(t *testing.T) {
	b, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(2))
	x := tensor.Randn(rng, 1, 1, 4096)

	whole := b.Analysis(x)
	st := b.NewAnalysisState(1)
	var chunked *tensor.Tensor
	for off := 0; off < x.Length(); off += 512 {
		part := b.AnalysisStream(st, x.CropTime(off, off+512))
		if chunked == nil {
			chunked = part
		} else {
			chunked = tensor.ConcatTime(chunked, part)
		}
	}
	compareTensors(t, chunked, whole)

	sub := whole
	wholeSyn := b.Synthesis(sub)
	sst := b.NewSynthesisState(1)
	var chunkedSyn *tensor.Tensor
	for off := 0; off < sub.Length(); off += 64 {
		part := b.SynthesisStream(sst, sub.CropTime(off, off+64))
		if chunkedSyn == nil {
			chunkedSyn = part
		} else {
			chunkedSyn = tensor.ConcatTime(chunkedSyn, part)
		}
	}
	compareTensors(t, chunkedSyn, wholeSyn)
}

func compareTensors(t *testing.T, got, want *tensor.Tensor) {
	t.Helper()
	if !got.SameShape(want) {
		t.Fatalf("shape mismatch: got (%d,%d,%d), want (%d,%d,%d)",
			got.Batch(), got.Channels(), got.Length(),
			want.Batch(), want.Channels(), want.Length())
	}
	g, w := got.Data(), want.Data()
	for i := range g {
		if math.Abs(g[i]-w[i]) > 1e-10 {
			t.Fatalf("sample %d: got %v, want %v", i, g[i], w[i])
		}
	}
}
