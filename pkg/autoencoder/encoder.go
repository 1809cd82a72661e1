package autoencoder

import (
	"fmt"

	"github.com/haivivi/condwave/pkg/tensor"
)

// Encoder runs a Generator as a conditioning encoder: the auxiliary
// features are fed as the generator's target and a constant zero stream of
// width 1 as its condition. The output embedding keeps the features' batch
// and time dimensions.
type Encoder struct {
	gen             Generator
	defaultTraining bool
}

// NewEncoder wraps gen. defaultTraining is the mode EncodeDefault uses.
func NewEncoder(gen Generator, defaultTraining bool) *Encoder {
	return &Encoder{gen: gen, defaultTraining: defaultTraining}
}

// Generator returns the wrapped generator.
func (e *Encoder) Generator() Generator { return e.gen }

// Encode maps aux ([batch, channels, time]) to an embedding.
func (e *Encoder) Encode(aux *tensor.Tensor, training bool) (*tensor.Tensor, Activations, error) {
	if aux.Rank() != 3 {
		return nil, nil, fmt.Errorf("autoencoder: encode features %v: %w", aux.Shape(), tensor.ErrShapeMismatch)
	}
	nb, _, nt := aux.Dims3()
	placeholder := tensor.New(nb, 1, nt)
	emb, trace, err := e.gen.Forward(placeholder, aux, training)
	if err != nil {
		return nil, nil, fmt.Errorf("autoencoder: encode: %w", err)
	}
	return emb, trace, nil
}

// EncodeDefault encodes aux in the encoder's default mode.
func (e *Encoder) EncodeDefault(aux *tensor.Tensor) (*tensor.Tensor, Activations, error) {
	return e.Encode(aux, e.defaultTraining)
}

// Export snapshots the wrapped generator.
func (e *Encoder) Export() Weights { return e.gen.Export() }

// SequenceModel runs the output generator conditioned on a code stream.
type SequenceModel struct {
	gen Generator
}

// NewSequenceModel wraps gen.
func NewSequenceModel(gen Generator) *SequenceModel {
	return &SequenceModel{gen: gen}
}

// Generator returns the wrapped generator.
func (m *SequenceModel) Generator() Generator { return m.gen }

// Forward predicts target under code.
func (m *SequenceModel) Forward(code, target *tensor.Tensor, training bool) (*tensor.Tensor, Activations, error) {
	out, trace, err := m.gen.Forward(code, target, training)
	if err != nil {
		return nil, nil, fmt.Errorf("autoencoder: predict: %w", err)
	}
	return out, trace, nil
}

// Sample generates a sequence from code alone. cfg is passed to the
// generator unchanged.
func (m *SequenceModel) Sample(code *tensor.Tensor, cfg SampleConfig) (*tensor.Tensor, error) {
	out, err := m.gen.Sample(code, cfg)
	if err != nil {
		return nil, fmt.Errorf("autoencoder: sample: %w", err)
	}
	return out, nil
}

// Export snapshots the wrapped generator.
func (m *SequenceModel) Export() Weights { return m.gen.Export() }
