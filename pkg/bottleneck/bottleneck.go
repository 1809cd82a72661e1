// Package bottleneck turns a continuous per-timestep embedding into a
// one-hot code, in the manner of an argmax autoencoder.
//
// # Pipeline
//
//  1. Rectify: negative scores are clipped to 0.
//  2. Normalize: each (batch, time) column is divided by its channel sum
//     plus a small epsilon, giving the code distribution q. A column with
//     no positive score stays all-zero instead of turning into NaN.
//  3. Usage: q averaged over batch and time, a marginal over codes used to
//     spot code collapse.
//  4. Sample: a hard Gumbel-softmax draw per (batch, time), using q as
//     the logits (or log q with Config.LogProbs). The forward
//     value is a strict one-hot vector; the gradient is that of the
//     relaxed softmax sample.
//
// The sampler works on the whole [batch, codes, time] tensor at once;
// batch elements are independent and never processed one at a time.
package bottleneck

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/haivivi/condwave/pkg/tensor"
)

const (
	// DefaultEpsilon guards the normalization denominator.
	DefaultEpsilon = 1e-5

	// DefaultTemperature is the Gumbel-softmax relaxation temperature.
	DefaultTemperature = 1.0
)

// Config controls the bottleneck.
type Config struct {
	// Temperature of the relaxed categorical sample. Values <= 0 select
	// DefaultTemperature.
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// Epsilon added to every normalization denominator. Values <= 0 select
	// DefaultEpsilon.
	Epsilon float64 `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`

	// LogProbs samples from log(q) instead of feeding the normalized scores
	// q to the relaxation as logits. With the default, scores in [0, 1] are
	// used directly, which keeps samples close to uniform early in training.
	LogProbs bool `yaml:"log_probs,omitempty" json:"log_probs,omitempty"`

	// Seed of the Gumbel noise source. Every Discretize call starts from
	// this seed, so identical inputs yield identical codes.
	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Bottleneck is a stateless discretizer. It is safe for concurrent use.
type Bottleneck struct {
	cfg Config
}

// New returns a Bottleneck with defaults filled in.
func New(cfg Config) *Bottleneck {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &Bottleneck{cfg: cfg}
}

// Config returns the effective configuration.
func (bn *Bottleneck) Config() Config { return bn.cfg }

// WithSeed returns a copy of bn drawing noise from seed. Training loops use
// it to vary the noise between steps.
func (bn *Bottleneck) WithSeed(seed uint64) *Bottleneck {
	cfg := bn.cfg
	cfg.Seed = seed
	return &Bottleneck{cfg: cfg}
}

// Distribution rectifies and normalizes emb over its channel axis.
func (bn *Bottleneck) Distribution(emb *tensor.Tensor) *tensor.Tensor {
	return tensor.NormalizeChannels(tensor.ReLU(emb), bn.cfg.Epsilon)
}

// Usage averages a code distribution over batch and time.
func Usage(dist *tensor.Tensor) *tensor.Tensor {
	return tensor.MeanChannels(dist)
}

// Discretize maps emb ([batch, codes, time]) to a one-hot code of the same
// shape plus the usage statistic ([codes]).
func (bn *Bottleneck) Discretize(emb *tensor.Tensor) (code, usage *tensor.Tensor, err error) {
	if emb.Rank() != 3 || emb.Len() == 0 {
		return nil, nil, fmt.Errorf("bottleneck: embedding %v: %w", emb.Shape(), tensor.ErrShapeMismatch)
	}
	dist := bn.Distribution(emb)
	usage = Usage(dist)
	logits := dist
	if bn.cfg.LogProbs {
		logits = tensor.Log(tensor.Add(dist, tensor.Full(bn.cfg.Epsilon, emb.Shape()...)))
	}
	code = HardGumbelSoftmax(logits, bn.cfg.Temperature, rand.NewPCG(bn.cfg.Seed, bn.cfg.Seed^0x9e3779b97f4a7c15))
	return code, usage, nil
}

// HardGumbelSoftmax draws one categorical sample per (batch, time) column of
// logits. The result holds exactly one 1 per column; gradients flow as if it
// were softmax((logits + g) / tau) with g ~ Gumbel(0, 1).
func HardGumbelSoftmax(logits *tensor.Tensor, tau float64, src rand.Source) *tensor.Tensor {
	nb, nc, nt := logits.Dims3()

	gumbel := distuv.GumbelRight{Mu: 0, Beta: 1, Src: src}
	noise := tensor.New(nb, nc, nt)
	for i := range noise.Data() {
		noise.Data()[i] = gumbel.Rand()
	}
	soft := tensor.SoftmaxChannels(tensor.Scale(tensor.Add(logits, noise), 1/tau))
	return tensor.StraightThrough(OneHot(soft), soft)
}

// OneHot returns the argmax of every (batch, time) column of x as a one-hot
// tensor. Ties resolve to the lowest channel.
func OneHot(x *tensor.Tensor) *tensor.Tensor {
	nb, nc, nt := x.Dims3()
	out := tensor.New(nb, nc, nt)
	for b := range nb {
		for t := range nt {
			best := 0
			for c := 1; c < nc; c++ {
				if x.At(b, c, t) > x.At(b, best, t) {
					best = c
				}
			}
			out.Set(1, b, best, t)
		}
	}
	return out
}

// Perplexity is exp(entropy) of a usage vector: 1 when every position picks
// the same code, the number of codes when usage is uniform. The bypass
// sentinel and all-zero usage report 0.
func Perplexity(usage *tensor.Tensor) float64 {
	var sum, h float64
	for _, p := range usage.Data() {
		sum += p
	}
	if sum <= 0 {
		return 0
	}
	for _, p := range usage.Data() {
		if p > 0 {
			q := p / sum
			h -= q * math.Log(q)
		}
	}
	return math.Exp(h)
}
