// Package audiofile reads and writes the audio formats the command-line
// tools accept. Decoding always yields mono float64 samples in [-1, 1];
// multichannel sources are mixed down by averaging.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// ErrUnsupportedFormat is returned for file extensions no decoder
// handles.
var ErrUnsupportedFormat = errors.New("audiofile: unsupported format")

// Decode reads path and returns mono samples plus the sample rate. The
// decoder is chosen by file extension: .wav, .mp3, or .ogg.
func Decode(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audiofile: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	case ".ogg":
		return decodeOGG(f)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func decodeWAV(f *os.File) ([]float64, int, error) {
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audiofile: wav decode: %w", err)
	}
	format := buf.Format
	if format == nil || format.NumChannels < 1 {
		return nil, 0, errors.New("audiofile: wav has no channel information")
	}
	scale := 1 << (buf.SourceBitDepth - 1)
	if buf.SourceBitDepth == 0 {
		scale = 1 << 15
	}
	mono := mixdownInts(buf.Data, format.NumChannels, float64(scale))
	return mono, format.SampleRate, nil
}

func decodeMP3(r io.Reader) ([]float64, int, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("audiofile: mp3 decode: %w", err)
	}
	// go-mp3 emits 16-bit little-endian stereo regardless of source.
	var mono []float64
	buf := make([]byte, 8192)
	for {
		n, err := dec.Read(buf)
		for i := 0; i+3 < n; i += 4 {
			l := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
			r := int16(uint16(buf[i+2]) | uint16(buf[i+3])<<8)
			mono = append(mono, (float64(l)+float64(r))/2/32768)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("audiofile: mp3 decode: %w", err)
		}
	}
	return mono, dec.SampleRate(), nil
}

func decodeOGG(r io.Reader) ([]float64, int, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("audiofile: ogg decode: %w", err)
	}
	channels := dec.Channels()
	if channels < 1 {
		return nil, 0, errors.New("audiofile: ogg has no channels")
	}
	var mono []float64
	frame := make([]float32, 4096*channels)
	for {
		n, err := dec.Read(frame)
		for i := 0; i+channels <= n; i += channels {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += float64(frame[i+c])
			}
			mono = append(mono, sum/float64(channels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("audiofile: ogg decode: %w", err)
		}
	}
	return mono, dec.SampleRate(), nil
}

func mixdownInts(data []int, channels int, scale float64) []float64 {
	frames := len(data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		mono[i] = sum / float64(channels) / scale
	}
	return mono
}

// EncodeWAV writes mono samples as a 16-bit PCM WAV file.
func EncodeWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audiofile: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf.Data[i] = int(v * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audiofile: wav encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audiofile: wav encode: %w", err)
	}
	return f.Close()
}
