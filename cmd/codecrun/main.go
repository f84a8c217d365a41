// Command codecrun runs audio through the neural codec.
//
// Usage:
//
//	codecrun [flags] input [input ...]
//
// Each input file (.wav, .mp3, or .ogg) is encoded to the latent
// representation, decoded back, and written as a 16-bit WAV next to the
// original (or into -outdir). Files that fail to decode are skipped.
//
// Examples:
//
//	codecrun song.wav
//	codecrun -bottleneck discrete -checkpoint model.ckpt -outdir out *.wav
//	codecrun -probe song.wav
//	codecrun -stream 8192 song.wav
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-codec/codec"
	"github.com/cwbudde/algo-codec/internal/audiofile"
	"github.com/cwbudde/algo-codec/tensor"
)

func main() {
	var (
		bands      = flag.Int("bands", 16, "multiband decomposition width")
		capacity   = flag.Int("capacity", 64, "first-layer channel width")
		latent     = flag.Int("latent", 128, "latent channel count")
		bottleneck = flag.String("bottleneck", "variational", "latent bottleneck: variational, wasserstein, discrete")
		checkpoint = flag.String("checkpoint", "", "checkpoint file to load")
		save       = flag.String("save", "", "write a checkpoint after processing")
		outDir     = flag.String("outdir", "", "output directory (default: next to input)")
		stream     = flag.Int("stream", 0, "process in chunks of this many samples (0 = offline)")
		probe      = flag.Bool("probe", false, "measure and print the receptive field, then exit")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() == 0 && !*probe {
		flag.Usage()
		os.Exit(2)
	}

	cfg := codec.DefaultConfig()
	cfg.Bands = *bands
	cfg.Capacity = *capacity
	cfg.LatentSize = *latent
	switch *bottleneck {
	case "variational":
		cfg.Bottleneck = codec.BottleneckVariational
	case "wasserstein":
		cfg.Bottleneck = codec.BottleneckWasserstein
	case "discrete":
		cfg.Bottleneck = codec.BottleneckDiscrete
	default:
		log.Fatalf("unknown bottleneck %q", *bottleneck)
	}

	model, err := codec.NewModel(cfg)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	if *checkpoint != "" {
		if err := model.LoadFile(*checkpoint); err != nil {
			log.Fatalf("load checkpoint: %v", err)
		}
	}

	if *probe {
		rf, err := model.MeasureReceptiveField()
		if err != nil {
			log.Fatalf("probe: %v", err)
		}
		sr := float64(cfg.SampleRate)
		fmt.Printf("receptive field: %.2fms <-- x --> %.2fms (%d / %d samples)\n",
			1000*float64(rf.Left)/sr, 1000*float64(rf.Right)/sr, rf.Left, rf.Right)
	}

	for _, path := range flag.Args() {
		if err := process(model, cfg, path, *outDir, *stream); err != nil {
			log.WithField("file", path).WithError(err).Warn("skipped")
		}
	}

	if *save != "" {
		if err := model.SaveFile(*save); err != nil {
			log.Fatalf("save checkpoint: %v", err)
		}
	}
}

func process(model *codec.Model, cfg codec.Config, path, outDir string, chunk int) error {
	samples, sr, err := audiofile.Decode(path)
	if err != nil {
		return err
	}
	if sr != cfg.SampleRate {
		return fmt.Errorf("sample rate %d, model expects %d", sr, cfg.SampleRate)
	}

	ratio := cfg.DownsamplingRatio()
	if r := len(samples) % ratio; r != 0 {
		samples = append(samples, make([]float64, ratio-r)...)
	}
	x := tensor.FromSlice(samples, 1, 1, len(samples))

	var y *tensor.Tensor
	if chunk > 0 {
		if chunk%ratio != 0 {
			return fmt.Errorf("chunk size %d not a multiple of ratio %d", chunk, ratio)
		}
		st := model.NewStreamState(1)
		for off := 0; off < x.Length(); off += chunk {
			end := off + chunk
			if end > x.Length() {
				end = x.Length()
			}
			part := model.ForwardStream(st, x.CropTime(off, end))
			if y == nil {
				y = part
			} else {
				y = tensor.ConcatTime(y, part)
			}
		}
	} else {
		y = model.Forward(x)
	}

	out := outputPath(path, outDir)
	return audiofile.EncodeWAV(out, y.Row(0, 0), cfg.SampleRate)
}

func outputPath(in, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".codec.wav"
	if outDir == "" {
		return filepath.Join(filepath.Dir(in), base)
	}
	return filepath.Join(outDir, base)
}
