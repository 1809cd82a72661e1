package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/checkpoint"
	"github.com/haivivi/condwave/pkg/cli"
)

var exportName string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Snapshot model weights into the checkpoint store",
	Long: `Build the configured model (or restore --checkpoint) and store its
weights as a new checkpoint.

Example:
  condwave export --name baseline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportName == "" {
			return errors.New("--name is required")
		}
		ctx := cmd.Context()

		var mc cli.ModelConfig
		m, err := loadModel(ctx, func(c *cli.ModelConfig) { mc = *c })
		if err != nil {
			return err
		}

		reg, closeIndex, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeIndex()
		meta, err := reg.Save(ctx, exportName, m.Export(), checkpoint.Meta{
			UseVAE:  m.UseVAE(),
			Options: mc.Options(),
		})
		if err != nil {
			return err
		}
		cli.PrintSuccess("saved %s (%s) as %s", meta.Name, cli.FormatBytes(meta.Size), meta.ID)
		return outputResult(meta)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportName, "name", "", "checkpoint name")
}
