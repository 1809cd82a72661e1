package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/bottleneck"
	"github.com/haivivi/condwave/pkg/cli"
)

type usageResult struct {
	Usage      []float64 `json:"usage" yaml:"usage,flow"`
	Perplexity float64   `json:"perplexity" yaml:"perplexity"`
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Chart how often each code is picked",
	Long: `Encode the request's note sequences and show the average code
distribution. A perplexity far below the number of codes means most frames
share a few codes.

Example:
  condwave usage -f notes.yaml
  condwave usage -f notes.yaml --json --query .perplexity`,
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
		emb, _, err := m.Encoder().EncodeDefault(aux)
		if err != nil {
			return err
		}
		_, usage, err := m.Bottleneck().Discretize(emb.Detach())
		if err != nil {
			return err
		}
		res := usageResult{Usage: usage.Data(), Perplexity: bottleneck.Perplexity(usage)}

		if outputJSON || query != "" || outputFile != "" {
			return outputResult(res)
		}
		fmt.Println(cli.UsageChart{
			Styles: cli.NewStyles(cli.DefaultTheme),
			Title:  fmt.Sprintf("code usage over %d sequences", len(req.Sequences)),
			Usage:  res.Usage,
			Footer: fmt.Sprintf("perplexity %.2f of %d codes", res.Perplexity, len(res.Usage)),
		}.Render())
		return nil
	},
}
