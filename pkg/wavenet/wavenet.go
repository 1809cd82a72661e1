// Package wavenet implements a compact conditioned autoregressive generator
// built from gated, dilated causal convolutions.
//
// A Net consumes a conditioning stream and a target stream, both shaped
// [batch, channels, time], and predicts an output stream of the same time
// length. Output step t depends only on target steps <= t and on condition
// step t, so a Net trained on a shifted target can be sampled one step at
// a time with Sample.
//
// The same type serves as the conditioning encoder of the autoencoder: the
// feature stream is passed as the target and a zero placeholder as the
// condition.
package wavenet

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/haivivi/condwave/pkg/tensor"
)

// ErrUnsupportedSampling is returned by Sample when the channel layout
// admits neither regression nor categorical feedback.
var ErrUnsupportedSampling = errors.New("wavenet: unsupported sampling layout")

const kernelSize = 2

// Param is a named trainable tensor.
type Param struct {
	Name   string
	Tensor *tensor.Tensor
}

type layer struct {
	dilated, dilatedBias *tensor.Tensor // [2R, R, 2], [2R]
	cond                 *tensor.Tensor // [2R, C, 1]
	res, resBias         *tensor.Tensor // [R, R, 1], [R]
	skip, skipBias       *tensor.Tensor // [S, R, 1], [S]
}

// Net is a conditioned dilated causal convolution stack. Parameters are
// only written by Load and by callers updating Params; Forward, Sample and
// Export may run concurrently otherwise.
type Net struct {
	cfg       Config
	dilations []int

	start, startBias *tensor.Tensor // [R, In, 1], [R]
	layers           []layer
	out, outBias     *tensor.Tensor // [Out, S, 1], [Out]
	end, endBias     *tensor.Tensor // [Out, Out, 1], [Out]
}

// New builds a Net with parameters drawn from cfg.Seed.
func New(cfg Config) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)
	weight := func(out, in, k int) *tensor.Tensor {
		w := tensor.New(out, in, k)
		dist := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(float64(in*k)), Src: src}
		for i := range w.Data() {
			w.Data()[i] = dist.Rand()
		}
		return w.RequireGrad()
	}
	bias := func(n int) *tensor.Tensor { return tensor.New(n).RequireGrad() }

	r, s := cfg.ResidualChannels, cfg.SkipChannels
	n := &Net{
		cfg:       cfg,
		dilations: cfg.Dilations(),
		start:     weight(r, cfg.InChannels, 1),
		startBias: bias(r),
		out:       weight(cfg.OutChannels, s, 1),
		outBias:   bias(cfg.OutChannels),
		end:       weight(cfg.OutChannels, cfg.OutChannels, 1),
		endBias:   bias(cfg.OutChannels),
	}
	n.layers = make([]layer, cfg.Layers)
	for i := range n.layers {
		n.layers[i] = layer{
			dilated:     weight(2*r, r, kernelSize),
			dilatedBias: bias(2 * r),
			cond:        weight(2*r, cfg.CondChannels, 1),
			res:         weight(r, r, 1),
			resBias:     bias(r),
			skip:        weight(s, r, 1),
			skipBias:    bias(s),
		}
	}
	return n, nil
}

// NewFromOptions decodes opts and builds a Net.
func NewFromOptions(opts Options) (*Net, error) {
	cfg, err := opts.Decode()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Config returns the configuration the Net was built with.
func (n *Net) Config() Config { return n.cfg }

// ReceptiveField is the number of target steps one output step can see.
func (n *Net) ReceptiveField() int {
	return tensor.ReceptiveField(kernelSize, n.dilations...)
}

// Params lists every trainable tensor in a stable order.
func (n *Net) Params() []Param {
	ps := []Param{
		{"start.weight", n.start},
		{"start.bias", n.startBias},
	}
	for i, l := range n.layers {
		prefix := fmt.Sprintf("layers.%d.", i)
		ps = append(ps,
			Param{prefix + "dilated.weight", l.dilated},
			Param{prefix + "dilated.bias", l.dilatedBias},
			Param{prefix + "cond.weight", l.cond},
			Param{prefix + "res.weight", l.res},
			Param{prefix + "res.bias", l.resBias},
			Param{prefix + "skip.weight", l.skip},
			Param{prefix + "skip.bias", l.skipBias},
		)
	}
	return append(ps,
		Param{"out.weight", n.out},
		Param{"out.bias", n.outBias},
		Param{"end.weight", n.end},
		Param{"end.bias", n.endBias},
	)
}

// NumParams returns the total number of scalar parameters.
func (n *Net) NumParams() int {
	total := 0
	for _, p := range n.Params() {
		total += p.Tensor.Len()
	}
	return total
}

// Export snapshots every parameter by name.
func (n *Net) Export() map[string]tensor.Blob {
	out := make(map[string]tensor.Blob)
	for _, p := range n.Params() {
		out[p.Name] = p.Tensor.Blob()
	}
	return out
}

// CheckWeights reports whether weights names every parameter with its
// exact shape and nothing else.
func (n *Net) CheckWeights(weights map[string]tensor.Blob) error {
	params := n.Params()
	for _, p := range params {
		w, ok := weights[p.Name]
		if !ok {
			return fmt.Errorf("wavenet: missing parameter %q", p.Name)
		}
		if !slices.Equal(w.Shape, p.Tensor.Shape()) || len(w.Data) != p.Tensor.Len() {
			return fmt.Errorf("wavenet: parameter %q: snapshot %v, want %v: %w",
				p.Name, w.Shape, p.Tensor.Shape(), tensor.ErrShapeMismatch)
		}
	}
	if len(weights) != len(params) {
		return fmt.Errorf("wavenet: snapshot has %d parameters, want %d", len(weights), len(params))
	}
	return nil
}

// Load overwrites the parameters with a snapshot produced by Export. The
// snapshot is checked in full first; on error no parameter changes.
func (n *Net) Load(weights map[string]tensor.Blob) error {
	if err := n.CheckWeights(weights); err != nil {
		return err
	}
	for _, p := range n.Params() {
		if err := p.Tensor.CopyFrom(weights[p.Name]); err != nil {
			return fmt.Errorf("wavenet: parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

func (n *Net) checkShapes(cond, target *tensor.Tensor) error {
	if cond.Rank() != 3 || target.Rank() != 3 {
		return fmt.Errorf("wavenet: condition %v and target %v must be [batch, channels, time]: %w",
			cond.Shape(), target.Shape(), tensor.ErrShapeMismatch)
	}
	cb, cc, ct := cond.Dims3()
	tb, tc, tt := target.Dims3()
	switch {
	case cb != tb:
		return fmt.Errorf("wavenet: condition batch %d, target batch %d: %w", cb, tb, tensor.ErrShapeMismatch)
	case cc != n.cfg.CondChannels:
		return fmt.Errorf("wavenet: condition has %d channels, want %d: %w", cc, n.cfg.CondChannels, tensor.ErrShapeMismatch)
	case tc != n.cfg.InChannels:
		return fmt.Errorf("wavenet: target has %d channels, want %d: %w", tc, n.cfg.InChannels, tensor.ErrShapeMismatch)
	case tt == 0:
		return fmt.Errorf("wavenet: empty target: %w", tensor.ErrShapeMismatch)
	case ct != tt && ct != 1:
		return fmt.Errorf("wavenet: condition length %d, target length %d: %w", ct, tt, tensor.ErrShapeMismatch)
	}
	return nil
}

// Forward predicts the output stream for target under cond. cond must have
// the target's length or length 1 (held for every step). With training
// set, the result is attached to the gradient graph of the parameters and
// inputs; otherwise it is computed detached.
//
// The second result holds the gated activations of every layer.
func (n *Net) Forward(cond, target *tensor.Tensor, training bool) (*tensor.Tensor, []*tensor.Tensor, error) {
	if err := n.checkShapes(cond, target); err != nil {
		return nil, nil, err
	}
	p := func(t *tensor.Tensor) *tensor.Tensor {
		if training || t == nil {
			return t
		}
		return t.Detach()
	}
	cond, target = p(cond), p(target)

	r := n.cfg.ResidualChannels
	h := tensor.Conv1D(target, p(n.start), p(n.startBias), 1)
	trace := make([]*tensor.Tensor, 0, len(n.layers))
	var skip *tensor.Tensor
	for i, l := range n.layers {
		z := tensor.Conv1D(h, p(l.dilated), p(l.dilatedBias), n.dilations[i])
		z = tensor.Add(z, tensor.Conv1D(cond, p(l.cond), nil, 1))
		gate := tensor.Mul(
			tensor.Tanh(tensor.SliceChannels(z, 0, r)),
			tensor.Sigmoid(tensor.SliceChannels(z, r, 2*r)),
		)
		trace = append(trace, gate)

		h = tensor.Add(h, tensor.Conv1D(gate, p(l.res), p(l.resBias), 1))
		s := tensor.Conv1D(gate, p(l.skip), p(l.skipBias), 1)
		if skip == nil {
			skip = s
		} else {
			skip = tensor.Add(skip, s)
		}
	}

	out := tensor.Conv1D(tensor.ReLU(skip), p(n.out), p(n.outBias), 1)
	out = tensor.Conv1D(tensor.ReLU(out), p(n.end), p(n.endBias), 1)
	return out, trace, nil
}
