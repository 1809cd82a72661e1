package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/bottleneck"
	"github.com/haivivi/condwave/pkg/cli"
	"github.com/haivivi/condwave/pkg/tensor"
)

var (
	forwardNoVAE bool
	forwardEval  bool
)

type forwardResult struct {
	UseVAE     bool      `json:"use_vae" yaml:"use_vae"`
	Shape      []int     `json:"shape" yaml:"shape"`
	Usage      []float64 `json:"usage" yaml:"usage"`
	Perplexity float64   `json:"perplexity" yaml:"perplexity"`

	// MSE averages over the real frames of every sequence. It is omitted
	// when the prediction is not in target space, e.g. level logits.
	MSE *float64 `json:"mse,omitempty" yaml:"mse,omitempty"`

	// Codes holds the chosen code per frame of each sequence.
	Codes [][]int `json:"codes,omitempty" yaml:"codes,omitempty"`
}

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Run the training path against request targets",
	Long: `Encode the request's note sequences, discretize them (unless disabled),
and predict each sequence's target.

Every sequence in the request needs a target with one value per frame.

Example:
  condwave forward -f train.yaml
  condwave forward -f train.yaml --no-vae --json --query .mse`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadRequest()
		if err != nil {
			return err
		}
		aux, err := req.Aux()
		if err != nil {
			return err
		}
		target, err := req.Target()
		if err != nil {
			return err
		}
		if target == nil {
			return errors.New("forward needs a target for every sequence")
		}

		m, err := loadModel(cmd.Context(), func(mc *cli.ModelConfig) {
			if forwardNoVAE {
				mc.UseVAE = false
			}
		})
		if err != nil {
			return err
		}
		res, err := m.Forward(aux, target, !forwardEval)
		if err != nil {
			return err
		}

		out := forwardResult{
			UseVAE:     m.UseVAE(),
			Shape:      res.Prediction.Shape(),
			Usage:      res.Usage.Data(),
			Perplexity: bottleneck.Perplexity(res.Usage),
		}
		frames := make([]int, len(req.Sequences))
		for i, s := range req.Sequences {
			frames[i] = s.Frames
		}
		if mse, ok := meanSquaredError(res.Prediction, target, frames); ok {
			out.MSE = &mse
		}
		if m.UseVAE() {
			out.Codes = argmaxCodes(res.Code.Data(), res.Code.Shape())
			for i, s := range req.Sequences {
				out.Codes[i] = out.Codes[i][:s.Frames]
			}
		}
		return outputResult(out)
	},
}

func init() {
	forwardCmd.Flags().BoolVar(&forwardNoVAE, "no-vae", false, "bypass the bottleneck")
	forwardCmd.Flags().BoolVar(&forwardEval, "eval", false, "run the generators without gradient tracking")
}

// meanSquaredError compares pred and target over the first frames[b]
// steps of every batch row, so the zero padding Batch adds is skipped. It
// reports false when the channel layouts differ.
func meanSquaredError(pred, target *tensor.Tensor, frames []int) (float64, bool) {
	pb, pc, pt := pred.Dims3()
	tb, tc, tt := target.Dims3()
	if pb != tb || pc != tc || pt != tt || len(frames) != pb {
		return 0, false
	}
	var sum float64
	var n int
	for b, nf := range frames {
		for c := range pc {
			for t := range min(nf, pt) {
				d := pred.At(b, c, t) - target.At(b, c, t)
				sum += d * d
				n++
			}
		}
	}
	if n == 0 {
		return 0, true
	}
	return sum / float64(n), true
}

// argmaxCodes reads the hot channel of every frame of a [batch, codes,
// time] one-hot stream.
func argmaxCodes(data []float64, shape []int) [][]int {
	nb, nc, nt := shape[0], shape[1], shape[2]
	codes := make([][]int, nb)
	for b := range nb {
		codes[b] = make([]int, nt)
		for t := range nt {
			for c := range nc {
				if data[(b*nc+c)*nt+t] > 0.5 {
					codes[b][t] = c
				}
			}
		}
	}
	return codes
}
