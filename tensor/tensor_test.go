package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestRowSharesStorage(t *testing.T) {
	x := New(2, 3, 4)
	x.Row(1, 2)[3] = 42
	if got := x.At(1, 2, 3); got != 42 {
		t.Fatalf("At(1,2,3) = %v, want 42", got)
	}
}

func TestFromSliceLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mismatched slice length")
		}
	}()
	FromSlice(make([]float64, 5), 1, 2, 3)
}

func TestAddInPlace(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 1, 2, 2)
	b := FromSlice([]float64{10, 20, 30, 40}, 1, 2, 2)
	a.AddInPlace(b)
	want := []float64{11, 22, 33, 44}
	for i, v := range a.Data() {
		if v != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestCropConcatRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := Randn(rng, 2, 3, 10)
	for _, k := range []int{0, 1, 5, 9, 10} {
		left := x.CropTime(0, k)
		right := x.CropTime(k, 10)
		joined := ConcatTime(left, right)
		if !joined.SameShape(x) {
			t.Fatalf("split at %d: shape changed", k)
		}
		for i, v := range joined.Data() {
			if v != x.Data()[i] {
				t.Fatalf("split at %d: sample %d = %v, want %v", k, i, v, x.Data()[i])
			}
		}
	}
}

func TestSplitChannels(t *testing.T) {
	x := New(1, 4, 2)
	for c := 0; c < 4; c++ {
		for i := 0; i < 2; i++ {
			x.Set(0, c, i, float64(c*10+i))
		}
	}
	lo, hi := x.SplitChannels(1)
	if lo.Channels() != 1 || hi.Channels() != 3 {
		t.Fatalf("split channels = (%d, %d), want (1, 3)", lo.Channels(), hi.Channels())
	}
	if lo.At(0, 0, 1) != 1 || hi.At(0, 2, 0) != 30 {
		t.Fatalf("split moved samples: lo=%v hi=%v", lo.At(0, 0, 1), hi.At(0, 2, 0))
	}
}

func TestMeanMaxAbs(t *testing.T) {
	x := FromSlice([]float64{-3, 1, 2}, 1, 1, 3)
	if got := x.Mean(); got != 0 {
		t.Fatalf("Mean = %v, want 0", got)
	}
	if got := x.MaxAbs(); got != 3 {
		t.Fatalf("MaxAbs = %v, want 3", got)
	}
}

func TestApply(t *testing.T) {
	x := FromSlice([]float64{0, 1, 4}, 1, 1, 3)
	y := x.Apply(math.Sqrt)
	if x.At(0, 0, 2) != 4 {
		t.Fatal("Apply mutated the receiver")
	}
	if y.At(0, 0, 2) != 2 {
		t.Fatalf("Apply result = %v, want 2", y.At(0, 0, 2))
	}
}
