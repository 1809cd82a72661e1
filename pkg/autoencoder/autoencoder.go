// Package autoencoder composes two conditioned generators around a discrete
// bottleneck.
//
// # Architecture
//
// An auxiliary feature stream (for example a piano roll) is compressed by a
// conditioning encoder into an embedding with one channel per code. The
// bottleneck turns the embedding into a one-hot code per timestep, and the
// code stream conditions a second generator that produces the output
// sequence:
//
//	aux ─▶ Encoder ─▶ embedding ─▶ Bottleneck ─▶ code ─▶ SequenceModel ─▶ output
//	                                   │
//	                                   └─▶ usage (marginal code distribution)
//
// Training and inference compose the stages differently:
//
//   - Forward runs the encoder in the caller's mode, applies the bottleneck
//     only when UseVAE is set (otherwise the embedding is the code and the
//     usage is the scalar 0), and predicts against a supplied target.
//   - Inference runs the encoder in its default mode, always applies the
//     bottleneck, and samples the output autoregressively from the code.
package autoencoder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/haivivi/condwave/pkg/bottleneck"
	"github.com/haivivi/condwave/pkg/tensor"
	"github.com/haivivi/condwave/pkg/wavenet"
)

// Export keys of the two generators.
const (
	KeyWavenet     = "wavenet"
	KeyCondWavenet = "cond_wavenet"
)

// Config configures a Model.
type Config struct {
	// UseVAE enables the bottleneck on the training path.
	UseVAE bool `yaml:"use_vae" json:"use_vae"`

	// Bottleneck configures the discretizer. Its Seed fixes the Gumbel
	// noise of every Forward and Inference call; see Model.WithBottleneck.
	Bottleneck bottleneck.Config `yaml:"bottleneck,omitempty" json:"bottleneck,omitempty"`

	// EncoderDefaultTraining is the encoder mode used by Inference.
	// Nil means true.
	EncoderDefaultTraining *bool `yaml:"encoder_default_training,omitempty" json:"encoder_default_training,omitempty"`

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// Result is the output of a training-path Forward.
type Result struct {
	// Prediction is the sequence model's output for the target.
	Prediction *tensor.Tensor

	// Usage is the code-usage statistic, shape [codes], or the scalar 0
	// when the bottleneck is bypassed.
	Usage *tensor.Tensor

	// Activations is the sequence model's activation trace.
	Activations Activations

	// Code is the stream that conditioned the sequence model: the one-hot
	// code, or the raw embedding when the bottleneck is bypassed.
	Code *tensor.Tensor
}

// Model is the two-stage conditioned generator. It keeps no per-call state;
// concurrent calls are safe as long as the generators allow it.
type Model struct {
	encoder    *Encoder
	sequence   *SequenceModel
	bottleneck *bottleneck.Bottleneck
	useVAE     bool
	logger     *slog.Logger
}

// New builds a Model from the output generator and the encoder generator.
func New(decoder, encoder Generator, cfg Config) *Model {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultTraining := true
	if cfg.EncoderDefaultTraining != nil {
		defaultTraining = *cfg.EncoderDefaultTraining
	}
	return &Model{
		encoder:    NewEncoder(encoder, defaultTraining),
		sequence:   NewSequenceModel(decoder),
		bottleneck: bottleneck.New(cfg.Bottleneck),
		useVAE:     cfg.UseVAE,
		logger:     logger,
	}
}

// NewWavenet builds both generators from their option maps and wires them
// into a Model.
func NewWavenet(wavenetOpts, condWavenetOpts wavenet.Options, cfg Config) (*Model, error) {
	dec, err := wavenet.NewFromOptions(wavenetOpts)
	if err != nil {
		return nil, fmt.Errorf("autoencoder: %s: %w", KeyWavenet, err)
	}
	enc, err := wavenet.NewFromOptions(condWavenetOpts)
	if err != nil {
		return nil, fmt.Errorf("autoencoder: %s: %w", KeyCondWavenet, err)
	}
	return New(dec, enc, cfg), nil
}

// Encoder returns the conditioning encoder.
func (m *Model) Encoder() *Encoder { return m.encoder }

// SequenceModel returns the output sequence model.
func (m *Model) SequenceModel() *SequenceModel { return m.sequence }

// Bottleneck returns the discretizer.
func (m *Model) Bottleneck() *bottleneck.Bottleneck { return m.bottleneck }

// UseVAE reports whether the training path applies the bottleneck.
func (m *Model) UseVAE() bool { return m.useVAE }

// WithBottleneck returns a shallow copy of m that discretizes with bn. The
// generators are shared.
func (m *Model) WithBottleneck(bn *bottleneck.Bottleneck) *Model {
	c := *m
	c.bottleneck = bn
	return &c
}

// Forward runs the training path: aux ([batch, features, time]) is encoded,
// optionally discretized, and used to predict target.
//
// Every call draws the same Gumbel noise, seeded by the bottleneck's
// Config.Seed. A training loop that wants fresh noise per step uses
// m.WithBottleneck(m.Bottleneck().WithSeed(step)).
func (m *Model) Forward(aux, target *tensor.Tensor, training bool) (*Result, error) {
	emb, _, err := m.encoder.Encode(aux, training)
	if err != nil {
		return nil, err
	}

	code, usage := emb, tensor.Scalar(0)
	if m.useVAE {
		code, usage, err = m.bottleneck.Discretize(emb)
		if err != nil {
			return nil, fmt.Errorf("autoencoder: %w", err)
		}
		m.logger.Debug("autoencoder: code usage", "perplexity", bottleneck.Perplexity(usage), "codes", usage.Len())
	}

	pred, trace, err := m.sequence.Forward(code, target, training)
	if err != nil {
		return nil, err
	}
	return &Result{Prediction: pred, Usage: usage, Activations: trace, Code: code}, nil
}

// Inference generates an output sequence from aux alone. The bottleneck is
// applied whether or not UseVAE is set, and the encoder runs in its
// default mode. cfg is forwarded to the sequence model's sampler.
func (m *Model) Inference(aux *tensor.Tensor, cfg SampleConfig) (*tensor.Tensor, error) {
	emb, _, err := m.encoder.EncodeDefault(aux)
	if err != nil {
		return nil, err
	}
	code, _, err := m.bottleneck.Discretize(emb.Detach())
	if err != nil {
		return nil, fmt.Errorf("autoencoder: %w", err)
	}
	m.logger.Debug("autoencoder: inference", "batch", code.Dim(0), "codes", code.Dim(1), "steps", code.Dim(2))
	return m.sequence.Sample(code, cfg)
}

// Export snapshots both generators under KeyWavenet and KeyCondWavenet.
func (m *Model) Export() map[string]Weights {
	return map[string]Weights{
		KeyWavenet:     m.sequence.Export(),
		KeyCondWavenet: m.encoder.Export(),
	}
}

// ErrNotLoadable is returned by Restore when a generator cannot load
// weights.
var ErrNotLoadable = errors.New("autoencoder: generator does not support loading")

// Restore loads a snapshot produced by Export into both generators. Both
// halves are checked before either is loaded, so a rejected snapshot
// leaves the model as it was.
func (m *Model) Restore(weights map[string]Weights) error {
	type target struct {
		key    string
		loader Loader
	}
	var targets []target
	for _, g := range []struct {
		key string
		gen Generator
	}{
		{KeyWavenet, m.sequence.Generator()},
		{KeyCondWavenet, m.encoder.Generator()},
	} {
		w, ok := weights[g.key]
		if !ok {
			return fmt.Errorf("autoencoder: snapshot lacks %q", g.key)
		}
		l, ok := g.gen.(Loader)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotLoadable, g.key)
		}
		if err := l.CheckWeights(w); err != nil {
			return fmt.Errorf("autoencoder: restore %s: %w", g.key, err)
		}
		targets = append(targets, target{g.key, l})
	}
	for _, t := range targets {
		if err := t.loader.Load(weights[t.key]); err != nil {
			return fmt.Errorf("autoencoder: restore %s: %w", t.key, err)
		}
	}
	return nil
}
