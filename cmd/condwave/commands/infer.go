package commands

import (
	"log/slog"
	"maps"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/autoencoder"
	"github.com/haivivi/condwave/pkg/cli"
)

var (
	inferTemperature float64
	inferSeed        uint64
)

type generated struct {
	Name   string    `json:"name,omitempty" yaml:"name,omitempty"`
	Values []float64 `json:"values" yaml:"values,flow"`
}

type inferResult struct {
	Elapsed   string      `json:"elapsed" yaml:"elapsed"`
	Sequences []generated `json:"sequences" yaml:"sequences"`
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Generate sequences from note requests",
	Long: `Encode the request's note sequences into codes and sample an output
sequence for each, one frame at a time.

The config's sampling section supplies the sampler options; --temperature
and --seed override it.

Example:
  condwave infer -f notes.yaml --temperature 0.5 --seed 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadRequest()
		if err != nil {
			return err
		}
		aux, err := req.Aux()
		if err != nil {
			return err
		}
		m, err := loadModel(cmd.Context(), nil)
		if err != nil {
			return err
		}

		sc := autoencoder.SampleConfig{}
		maps.Copy(sc, globalConfig.Sampling)
		if cmd.Flags().Changed("temperature") {
			sc["temperature"] = inferTemperature
		}
		if cmd.Flags().Changed("seed") {
			sc["seed"] = inferSeed
		}

		start := time.Now()
		out, err := m.Inference(aux, sc)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		slog.Debug("inference done", "elapsed", elapsed, "shape", out.Shape())

		nb, nc, nt := out.Dims3()
		res := inferResult{Elapsed: cli.FormatDuration(elapsed)}
		for b := range nb {
			s := req.Sequences[b]
			res.Sequences = append(res.Sequences, generated{
				Name:   s.Name,
				Values: trim(out.Data(), b, nc*nt, s.Frames),
			})
		}
		return outputResult(res)
	},
}

func init() {
	inferCmd.Flags().Float64Var(&inferTemperature, "temperature", 0, "sampling temperature (0 is deterministic)")
	inferCmd.Flags().Uint64Var(&inferSeed, "seed", 0, "sampling seed")
}
