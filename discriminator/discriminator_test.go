package discriminator

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-codec/tensor"
)

func TestNewConvNetRejectsInvalidConfig(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewConvNet(rng, 1, WithLayers(0)); err != ErrInvalidLayers {
		t.Fatalf("zero layers error = %v, want ErrInvalidLayers", err)
	}
	if _, err := NewMultiScale(rng, 0, 1); err != ErrInvalidScales {
		t.Fatalf("zero scales error = %v, want ErrInvalidScales", err)
	}
}

func TestConvNetFeatureShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net, err := NewConvNet(rng, 1, WithCapacity(4), WithLayers(3))
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.Randn(rng, 2, 1, 1024)
	features := net.Features(x)

	// One map per strided layer plus the score map.
	if len(features) != 4 {
		t.Fatalf("got %d feature maps, want 4", len(features))
	}
	wantCh := []int{4, 8, 16, 1}
	wantLen := []int{256, 64, 16, 16}
	for i, f := range features {
		if f.Batch() != 2 || f.Channels() != wantCh[i] || f.Length() != wantLen[i] {
			t.Fatalf("map %d has shape (%d,%d,%d), want (2,%d,%d)",
				i, f.Batch(), f.Channels(), f.Length(), wantCh[i], wantLen[i])
		}
	}
}

func TestConvNetHandlesOddLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net, err := NewConvNet(rng, 1, WithCapacity(2), WithLayers(2))
	if err != nil {
		t.Fatal(err)
	}
	// 1000 is not a multiple of 4^2; the net trims as it goes.
	features := net.Features(tensor.Randn(rng, 1, 1, 1000))
	if got := features[0].Length(); got != 250 {
		t.Fatalf("first map length %d, want 250", got)
	}
	if got := features[1].Length(); got != 62 {
		t.Fatalf("second map length %d, want 62", got)
	}
}

func TestScoreMatchesLastFeatureMap(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net, err := NewConvNet(rng, 1, WithCapacity(2), WithLayers(2))
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.Randn(rng, 1, 1, 256)
	features := net.Features(x)
	score := net.Score(x)
	last := features[len(features)-1]
	if len(score) != last.Length() {
		t.Fatalf("score length %d, want %d", len(score), last.Length())
	}
	for i, v := range score {
		if v != last.At(0, 0, i) {
			t.Fatalf("score[%d] = %v, want %v", i, v, last.At(0, 0, i))
		}
	}
}

func TestMultiScale(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := NewMultiScale(rng, 3, 1, WithCapacity(2), WithLayers(2))
	if err != nil {
		t.Fatal(err)
	}
	if m.NumScales() != 3 {
		t.Fatalf("NumScales = %d, want 3", m.NumScales())
	}
	x := tensor.Randn(rng, 1, 1, 1024)
	features := m.Features(x)
	if len(features) != 3 {
		t.Fatalf("got %d scales, want 3", len(features))
	}
	// Each scale sees audio halved relative to the previous one.
	for s := 1; s < 3; s++ {
		if got, prev := features[s][0].Length(), features[s-1][0].Length(); got*2 != prev {
			t.Fatalf("scale %d first map length %d, want half of %d", s, got, prev)
		}
	}

	scores := m.Scores(x)
	if len(scores) != 3 {
		t.Fatalf("got %d score slices, want 3", len(scores))
	}
	for s, sc := range scores {
		if len(sc) == 0 {
			t.Fatalf("scale %d produced no scores", s)
		}
	}
}

func TestVisitParamsCoversAllScales(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m, err := NewMultiScale(rng, 2, 1, WithCapacity(2), WithLayers(2))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	m.VisitParams("disc", func(name string, data []float64) {
		names[name] = true
	})
	for _, want := range []string{
		"disc.scale0.0.weight", "disc.scale0.1.bias", "disc.scale0.score.weight",
		"disc.scale1.0.weight", "disc.scale1.score.bias",
	} {
		if !names[want] {
			t.Fatalf("missing parameter %q (have %v)", want, names)
		}
	}
}
