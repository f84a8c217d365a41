package codec

import (
	"fmt"

	"github.com/cwbudde/algo-codec/nn"
	"github.com/cwbudde/algo-codec/tensor"
)

// StreamState holds the per-stream caches for chunked inference. Each
// logical audio stream needs its own state; states must not be shared
// across concurrent streams.
type StreamState struct {
	analysis  nn.State
	encoder   nn.State
	decoder   nn.State
	synthesis nn.State
}

// NewStreamState allocates caches for one stream of the given batch
// size.
func (m *Model) NewStreamState(batch int) *StreamState {
	return &StreamState{
		analysis:  m.pqmf.NewAnalysisState(batch),
		encoder:   m.encoder.NewState(batch),
		decoder:   m.decoder.NewState(batch),
		synthesis: m.pqmf.NewSynthesisState(batch),
	}
}

// EncodeStream encodes one waveform chunk (B, 1, T). T must be a
// multiple of the model's total downsampling ratio.
func (m *Model) EncodeStream(st *StreamState, x *tensor.Tensor) *tensor.Tensor {
	if r := m.cfg.DownsamplingRatio(); x.Length()%r != 0 {
		panic(fmt.Sprintf("codec: chunk length %d not a multiple of ratio %d", x.Length(), r))
	}
	mb := m.pqmf.AnalysisStream(st.analysis, x)
	raw := m.encoder.ProcessStream(st.encoder, mb)
	z, _ := m.bn.Reparametrize(raw, false)
	return z
}

// DecodeStream decodes one latent chunk back to waveform audio.
func (m *Model) DecodeStream(st *StreamState, z *tensor.Tensor) *tensor.Tensor {
	mb := m.decoder.ProcessStream(st.decoder, z)
	return m.pqmf.SynthesisStream(st.synthesis, mb)
}

// ForwardStream encodes and decodes one chunk. Concatenating the
// outputs for consecutive chunks equals the offline Forward of the
// concatenated input.
func (m *Model) ForwardStream(st *StreamState, x *tensor.Tensor) *tensor.Tensor {
	return m.DecodeStream(st, m.EncodeStream(st, x))
}
