package autoencoder

import (
	"github.com/haivivi/condwave/pkg/tensor"
)

// Activations is the per-layer activation trace returned by a Generator.
// The autoencoder passes it through without looking inside.
type Activations = []*tensor.Tensor

// SampleConfig is a generator-owned option bag forwarded unchanged to
// Generator.Sample.
type SampleConfig = map[string]any

// Weights is a generator-owned parameter snapshot.
type Weights = map[string]tensor.Blob

// Generator is a conditioned autoregressive sequence generator.
//
// Implementations must be safe for concurrent Forward, Sample and Export
// calls. *wavenet.Net satisfies Generator and Loader.
type Generator interface {
	// Forward predicts an output stream for target under cond. Both are
	// [batch, channels, time]. Shape mismatches are reported as errors.
	Forward(cond, target *tensor.Tensor, training bool) (*tensor.Tensor, Activations, error)

	// Sample generates a stream step by step from cond alone.
	Sample(cond *tensor.Tensor, cfg SampleConfig) (*tensor.Tensor, error)

	// Export snapshots the generator's parameters.
	Export() Weights
}

// Loader is implemented by generators that can restore an Export snapshot.
type Loader interface {
	// CheckWeights validates a snapshot without changing the generator.
	CheckWeights(Weights) error

	// Load replaces the parameters. It leaves them untouched on error.
	Load(Weights) error
}
