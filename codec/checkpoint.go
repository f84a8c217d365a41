package codec

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/algo-codec/bottleneck"
	"github.com/cwbudde/algo-codec/nn"
)

const checkpointVersion = 1

// checkpointFile is the serialized model state: every named parameter
// and buffer plus the scalar training state.
type checkpointFile struct {
	Version        int
	Step           int
	WarmedUp       bool
	ReceptiveLeft  int
	ReceptiveRight int
	Params         map[string][]float64
	Buffers        map[string][]float64
}

// namedSlices walks the model and returns every live parameter and
// buffer slice keyed by a dotted hierarchical name.
func (m *Model) namedSlices() (params, buffers map[string][]float64) {
	params = map[string][]float64{}
	buffers = map[string][]float64{}
	collect := func(dst map[string][]float64) func(string, []float64) {
		return func(name string, data []float64) { dst[name] = data }
	}
	nn.VisitParams(m.encoder, "encoder", collect(params))
	m.decoder.VisitParams("decoder", collect(params))
	m.disc.VisitParams("discriminator", collect(params))
	if d, ok := m.bn.(*bottleneck.Discrete); ok {
		d.VisitParams("bottleneck", collect(params))
		d.VisitBuffers("bottleneck", collect(buffers))
	}
	buffers["latent_mean"] = m.stats.Mean()
	buffers["latent_pca"] = m.stats.Basis()
	buffers["fidelity"] = m.stats.Fidelity()
	return params, buffers
}

// Save writes the full model state to w.
func (m *Model) Save(w io.Writer) error {
	params, buffers := m.namedSlices()
	file := checkpointFile{
		Version:        checkpointVersion,
		Step:           m.step,
		WarmedUp:       m.warmedUp,
		ReceptiveLeft:  m.receptive.Left,
		ReceptiveRight: m.receptive.Right,
		Params:         params,
		Buffers:        buffers,
	}
	if err := gob.NewEncoder(w).Encode(&file); err != nil {
		return fmt.Errorf("codec: encode checkpoint: %w", err)
	}
	return nil
}

// SaveFile writes the model state to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("codec: create checkpoint: %w", err)
	}
	defer f.Close()
	if err := m.Save(f); err != nil {
		return err
	}
	return f.Close()
}

// Load restores model state from r. Key mismatches are recoverable:
// parameters present in the file but not the model (or with a
// different size) are skipped with a warning, and model parameters
// missing from the file keep their current values. A corrupt or
// version-incompatible stream is a hard error.
func (m *Model) Load(r io.Reader) error {
	var file checkpointFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return fmt.Errorf("codec: decode checkpoint: %w", err)
	}
	if file.Version != checkpointVersion {
		return fmt.Errorf("codec: checkpoint version %d unsupported", file.Version)
	}

	params, buffers := m.namedSlices()
	restore := func(live map[string][]float64, saved map[string][]float64, kind string) {
		for name, data := range saved {
			dst, ok := live[name]
			if !ok {
				m.log.WithField(kind, name).Warn("checkpoint key not in model, skipped")
				continue
			}
			if len(dst) != len(data) {
				m.log.WithField(kind, name).
					WithField("want", len(dst)).WithField("got", len(data)).
					Warn("checkpoint size mismatch, skipped")
				continue
			}
			copy(dst, data)
		}
		for name := range live {
			if _, ok := saved[name]; !ok {
				m.log.WithField(kind, name).Warn("checkpoint missing key, keeping initialization")
			}
		}
	}
	restore(params, file.Params, "param")
	restore(buffers, file.Buffers, "buffer")

	if d, ok := m.bn.(*bottleneck.Discrete); ok {
		d.Quantizer().MarkInitialized()
	}

	m.step = file.Step
	m.receptive = ReceptiveField{Left: file.ReceptiveLeft, Right: file.ReceptiveRight}
	m.SetWarmedUp(file.WarmedUp)
	return nil
}

// LoadFile restores model state from path.
func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("codec: open checkpoint: %w", err)
	}
	defer f.Close()
	return m.Load(f)
}
