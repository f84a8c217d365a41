package audiofile

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestUnsupportedFormat(t *testing.T) {
	_, _, err := Decode("clip.flac")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestMissingFile(t *testing.T) {
	if _, _, err := Decode(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	const sr = 48000
	samples := make([]float64, 4800)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/sr)
	}
	if err := EncodeWAV(path, samples, sr); err != nil {
		t.Fatal(err)
	}

	got, gotSR, err := Decode(path)
	if err != nil {
		t.Fatal(err)
	}
	if gotSR != sr {
		t.Fatalf("sample rate %d, want %d", gotSR, sr)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	for i := range got {
		// 16-bit quantization bounds the round-trip error.
		if math.Abs(got[i]-samples[i]) > 1e-4 {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestEncodeWAVClampsPeaks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot.wav")
	if err := EncodeWAV(path, []float64{3, -3, 0.25}, 48000); err != nil {
		t.Fatal(err)
	}
	got, _, err := Decode(path)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] < 0.99 || got[1] > -0.99 {
		t.Fatalf("clipped samples decoded as (%v, %v)", got[0], got[1])
	}
}

func TestMixdown(t *testing.T) {
	// Interleaved stereo frames averaged to mono.
	mono := mixdownInts([]int{100, 300, -200, 200}, 2, 1000)
	if len(mono) != 2 {
		t.Fatalf("got %d frames, want 2", len(mono))
	}
	if math.Abs(mono[0]-0.2) > 1e-12 || math.Abs(mono[1]-0) > 1e-12 {
		t.Fatalf("mixdown = %v, want [0.2, 0]", mono)
	}
}
