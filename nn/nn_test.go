package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-codec/tensor"
)

func tensorsClose(t *testing.T, got, want *tensor.Tensor, tol float64) {
	t.Helper()
	if !got.SameShape(want) {
		t.Fatalf("shape mismatch: got (%d,%d,%d), want (%d,%d,%d)",
			got.Batch(), got.Channels(), got.Length(),
			want.Batch(), want.Channels(), want.Length())
	}
	g, w := got.Data(), want.Data()
	for i := range g {
		if math.Abs(g[i]-w[i]) > tol {
			t.Fatalf("sample %d: got %v, want %v", i, g[i], w[i])
		}
	}
}

// runChunked feeds x through ProcessStream in chunks and concatenates
// the outputs.
func runChunked(m Streamer, x *tensor.Tensor, chunk int) *tensor.Tensor {
	st := m.NewState(x.Batch())
	var out *tensor.Tensor
	for off := 0; off < x.Length(); off += chunk {
		end := off + chunk
		if end > x.Length() {
			end = x.Length()
		}
		part := m.ProcessStream(st, x.CropTime(off, end))
		if out == nil {
			out = part
		} else {
			out = tensor.ConcatTime(out, part)
		}
	}
	return out
}

func TestConv1dStreamingEquivalence(t *testing.T) {
	tests := []struct {
		name     string
		kernel   int
		stride   int
		dilation int
		length   int
		chunk    int
	}{
		{"plain", 7, 1, 1, 64, 16},
		{"uneven chunks", 5, 1, 1, 60, 13},
		{"strided", 15, 4, 1, 64, 16},
		{"dilated", 3, 1, 9, 96, 32},
		{"strided dilated", 5, 2, 3, 80, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			conv, err := NewConv1d(rng, 2, 3, tt.kernel,
				WithStride(tt.stride), WithDilation(tt.dilation))
			if err != nil {
				t.Fatal(err)
			}
			x := tensor.Randn(rng, 2, 2, tt.length)
			whole := conv.Process(x)
			chunked := runChunked(conv, x, tt.chunk)
			tensorsClose(t, chunked, whole, 1e-12)
		})
	}
}

func TestConv1dShapesAndDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv, err := NewConv1d(rng, 1, 4, 15, WithStride(4))
	if err != nil {
		t.Fatal(err)
	}
	y := conv.Process(tensor.New(1, 1, 64))
	if y.Channels() != 4 || y.Length() != 16 {
		t.Fatalf("output shape (%d,%d), want (4,16)", y.Channels(), y.Length())
	}
	if got := conv.Delay(); got != 1 {
		t.Fatalf("Delay = %d, want (15-1)/(2*4) = 1", got)
	}
}

func TestConv1dImpulseDelay(t *testing.T) {
	// A centered symmetric kernel must shift an impulse by exactly
	// Delay() samples.
	rng := rand.New(rand.NewSource(1))
	conv, err := NewConv1d(rng, 1, 1, 9, WithoutBias())
	if err != nil {
		t.Fatal(err)
	}
	w := conv.Weight(0, 0)
	for i := range w {
		w[i] = 0
	}
	w[(len(w)-1)/2] = 1

	x := tensor.New(1, 1, 32)
	pos := 20
	x.Set(0, 0, pos, 1)
	y := conv.Process(x)

	peak := 0
	for i := 0; i < y.Length(); i++ {
		if y.At(0, 0, i) > y.At(0, 0, peak) {
			peak = i
		}
	}
	if peak != pos+conv.Delay() {
		t.Fatalf("impulse at %d arrived at %d, want %d", pos, peak, pos+conv.Delay())
	}
}

func TestConvTranspose1dStreamingEquivalence(t *testing.T) {
	tests := []struct {
		name   string
		kernel int
		stride int
		length int
		chunk  int
	}{
		{"ratio 2", 4, 2, 48, 16},
		{"ratio 4", 8, 4, 48, 12},
		{"uneven chunks", 8, 4, 50, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(5))
			up, err := NewConvTranspose1d(rng, 3, 2, tt.kernel, tt.stride)
			if err != nil {
				t.Fatal(err)
			}
			x := tensor.Randn(rng, 1, 3, tt.length)
			whole := up.Process(x)
			if whole.Length() != tt.length*tt.stride {
				t.Fatalf("output length %d, want %d", whole.Length(), tt.length*tt.stride)
			}
			chunked := runChunked(up, x, tt.chunk)
			tensorsClose(t, chunked, whole, 1e-12)
		})
	}
}

func TestConvTranspose1dKernelSmallerThanStride(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewConvTranspose1d(rng, 1, 1, 2, 4); err == nil {
		t.Fatal("expected error for kernel < stride")
	}
}

func TestSequentialDelayAndRatio(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	down, err := NewConv1d(rng, 1, 1, 9, WithStride(4))
	if err != nil {
		t.Fatal(err)
	}
	up, err := NewConvTranspose1d(rng, 1, 1, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	seq := NewSequential(NewDelayLine(6), down, up, NewDelayLine(3))

	// 6/4 + (9-1)/(2*4) = 2 at the downsampled rate, then 2*4 + (8-4)/2
	// + 3 = 13 at the restored rate.
	if got := seq.Delay(); got != 13 {
		t.Fatalf("Delay = %d, want 13", got)
	}
	if u, d := seq.Ratio(); u != 1 || d != 1 {
		t.Fatalf("Ratio = %d/%d, want 1/1", u, d)
	}
}

func TestSequentialStreamingEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	stack, err := NewResidualStack(rng, 2, 3, []int{1, 3, 9})
	if err != nil {
		t.Fatal(err)
	}
	down, err := NewConv1d(rng, 2, 4, 5, WithStride(2))
	if err != nil {
		t.Fatal(err)
	}
	up, err := NewUpsampleLayer(rng, 4, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	seq := NewSequential(stack, down, up)

	x := tensor.Randn(rng, 1, 2, 128)
	whole := seq.Process(x)
	for _, chunk := range []int{16, 32, 48} {
		chunked := runChunked(seq, x, chunk)
		tensorsClose(t, chunked, whole, 1e-10)
	}
}

func TestDelayLine(t *testing.T) {
	d := NewDelayLine(3)
	x := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 1, 1, 6)
	y := d.Process(x)
	want := []float64{0, 0, 0, 1, 2, 3}
	for i, w := range want {
		if y.At(0, 0, i) != w {
			t.Fatalf("sample %d = %v, want %v", i, y.At(0, 0, i), w)
		}
	}
	chunked := runChunked(d, x, 2)
	tensorsClose(t, chunked, y, 0)
}

func TestAlignBranches(t *testing.T) {
	a := NewAlignBranches(NewDelayLine(2), NewDelayLine(5))
	if a.Delay() != 5 {
		t.Fatalf("Delay = %d, want 5", a.Delay())
	}
	rng := rand.New(rand.NewSource(4))
	x := tensor.Randn(rng, 1, 1, 32)
	outs := a.ProcessAll(x)
	// Both branches end up delayed by the maximum, so they agree.
	tensorsClose(t, outs[0], outs[1], 0)
}

func TestResidualIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	conv, err := NewConv1d(rng, 1, 1, 1, WithoutBias())
	if err != nil {
		t.Fatal(err)
	}
	conv.Weight(0, 0)[0] = 1
	r := NewResidual(conv)

	x := tensor.Randn(rng, 1, 1, 16)
	y := r.Process(x)
	for i := 0; i < x.Length(); i++ {
		if math.Abs(y.At(0, 0, i)-2*x.At(0, 0, i)) > 1e-12 {
			t.Fatalf("sample %d: got %v, want %v", i, y.At(0, 0, i), 2*x.At(0, 0, i))
		}
	}
}

func TestConv1dBackwardMatchesNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	conv, err := NewConv1d(rng, 1, 1, 3, WithDilation(2))
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.Randn(rng, 1, 1, 12)
	y := conv.Process(x)

	// Scalar objective: the output sample in the middle.
	to := y.Length() / 2
	grad := tensor.New(1, 1, y.Length())
	grad.Set(0, 0, to, 1)
	gin := conv.Backward(grad)

	const h = 1e-6
	for i := 0; i < x.Length(); i++ {
		xp := x.Clone()
		xp.Set(0, 0, i, x.At(0, 0, i)+h)
		xm := x.Clone()
		xm.Set(0, 0, i, x.At(0, 0, i)-h)
		num := (conv.Process(xp).At(0, 0, to) - conv.Process(xm).At(0, 0, to)) / (2 * h)
		if math.Abs(num-gin.At(0, 0, i)) > 1e-5 {
			t.Fatalf("input %d: analytic %v, numeric %v", i, gin.At(0, 0, i), num)
		}
	}
}

func TestVisitParamsNames(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conv, err := NewConv1d(rng, 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	seq := NewSequential(NewLeakyReLU(0.2), conv)

	var names []string
	VisitParams(seq, "net", func(name string, data []float64) {
		names = append(names, name)
	})
	want := []string{"net.1.weight", "net.1.bias"}
	if len(names) != len(want) {
		t.Fatalf("visited %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("visited %v, want %v", names, want)
		}
	}
}

func TestVisitParamsDescendsAlignedBranches(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a, err := NewConv1d(rng, 2, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewConv1d(rng, 2, 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	al := NewAlignBranches(a, b)

	got := map[string][]float64{}
	VisitParams(al, "synth", func(name string, data []float64) {
		got[name] = data
	})
	want := []string{
		"synth.branch0.weight", "synth.branch0.bias",
		"synth.branch1.weight", "synth.branch1.bias",
	}
	for _, name := range want {
		if _, ok := got[name]; !ok {
			t.Fatalf("missing %s, visited %d names", name, len(got))
		}
	}
	// The visited slices alias the live weights so checkpoint restore
	// can overwrite them in place.
	got["synth.branch0.weight"][0] = 42
	var first float64
	a.VisitParams("", func(name string, data []float64) {
		if name == ".weight" {
			first = data[0]
		}
	})
	if first != 42 {
		t.Fatal("visited weight slice does not alias the branch parameters")
	}
}
