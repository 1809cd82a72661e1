package wavenet

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/goccy/go-yaml"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/haivivi/condwave/pkg/tensor"
)

// SampleOptions are the keys Sample understands in its option map.
type SampleOptions struct {
	// Temperature scales the sampling noise. For regression layouts it is
	// the standard deviation of Gaussian noise added to each prediction
	// (default 0). For categorical layouts logits are divided by it before
	// the softmax (default 1); 0 selects the argmax.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// Seed of the sampling noise.
	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// ParseSampleOptions decodes an option map. Unknown keys are rejected.
func ParseSampleOptions(m map[string]any) (SampleOptions, error) {
	var opts SampleOptions
	if len(m) == 0 {
		return opts, nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return opts, fmt.Errorf("wavenet: encode sample options: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &opts, yaml.DisallowUnknownField()); err != nil {
		return opts, fmt.Errorf("wavenet: decode sample options: %w", err)
	}
	if opts.Temperature != nil && *opts.Temperature < 0 {
		return opts, fmt.Errorf("wavenet: negative temperature %v", *opts.Temperature)
	}
	return opts, nil
}

// Sample generates a target stream autoregressively under cond. The first
// step sees a zero input; every later step sees the values generated
// before it, never any ground truth. The result has shape
// [batch, n_in_channels, time(cond)].
//
// Two channel layouts are supported:
//   - n_out_channels == n_in_channels: the prediction (plus optional
//     Gaussian noise) is fed back directly.
//   - n_in_channels == 1, n_out_channels > 1: the output holds logits over
//     n_out_channels mu-law levels; a level is drawn and fed back decoded.
func (n *Net) Sample(cond *tensor.Tensor, cfg map[string]any) (*tensor.Tensor, error) {
	opts, err := ParseSampleOptions(cfg)
	if err != nil {
		return nil, err
	}
	categorical := n.cfg.InChannels == 1 && n.cfg.OutChannels > 1
	if !categorical && n.cfg.InChannels != n.cfg.OutChannels {
		return nil, fmt.Errorf("%w: %d in, %d out channels", ErrUnsupportedSampling, n.cfg.InChannels, n.cfg.OutChannels)
	}
	if cond.Rank() != 3 || cond.Dim(1) != n.cfg.CondChannels || cond.Dim(2) == 0 {
		return nil, fmt.Errorf("wavenet: condition %v, want [batch, %d, time]: %w", cond.Shape(), n.cfg.CondChannels, tensor.ErrShapeMismatch)
	}
	temp := 0.0
	if categorical {
		temp = 1
	}
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}

	nb, _, nt := cond.Dims3()
	in := n.cfg.InChannels
	rf := n.ReceptiveField()
	src := rand.NewPCG(opts.Seed, opts.Seed^0x2545f4914f6cdd1d)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	slog.Debug("wavenet: sampling", "batch", nb, "steps", nt, "receptive_field", rf, "categorical", categorical, "temperature", temp)

	// inputs[:, :, t] is what step t sees; inputs[:, :, 0] stays zero.
	inputs := tensor.New(nb, in, nt+1)
	generated := tensor.New(nb, in, nt)
	weights := make([]float64, n.cfg.OutChannels)
	cond = cond.Detach()
	for t := range nt {
		lo := max(0, t-rf+1)
		window := tensor.SliceTime(inputs, lo, t+1)
		condWindow := cond
		if cond.Dim(2) != 1 {
			condWindow = tensor.SliceTime(cond, lo, t+1)
		}
		out, _, err := n.Forward(condWindow, window, false)
		if err != nil {
			return nil, err
		}
		last := out.Dim(2) - 1

		for b := range nb {
			if categorical {
				for c := range weights {
					weights[c] = out.At(b, c, last)
				}
				v := MuLawDecode(drawLevel(weights, temp, src), n.cfg.OutChannels)
				generated.Set(v, b, 0, t)
				inputs.Set(v, b, 0, t+1)
				continue
			}
			for c := range in {
				v := out.At(b, c, last)
				if temp > 0 {
					v += temp * noise.Rand()
				}
				generated.Set(v, b, c, t)
				inputs.Set(v, b, c, t+1)
			}
		}
	}
	return generated, nil
}

// drawLevel samples an index from softmax(logits / temp). logits is
// overwritten.
func drawLevel(logits []float64, temp float64, src rand.Source) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	if temp == 0 {
		return best
	}
	peak := logits[best]
	for i, v := range logits {
		logits[i] = math.Exp((v - peak) / temp)
	}
	return int(distuv.NewCategorical(logits, src).Rand())
}
