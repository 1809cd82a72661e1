package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/autoencoder"
	"github.com/haivivi/condwave/pkg/cli"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"ckpt"},
	Short:   "Manage stored checkpoints",
	Long: `List, show and delete checkpoints.

A checkpoint can be referenced by its full id, a unique id prefix, or its
name (the newest checkpoint with that name wins).`,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeIndex, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeIndex()
		metas, err := reg.List(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON || query != "" || outputFile != "" {
			return outputResult(metas)
		}
		if len(metas) == 0 {
			cli.PrintInfo("no checkpoints")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED\tVAE\tSIZE\tPARAMS")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%d+%d\n",
				m.ID[:8], m.Name, m.CreatedAt.Local().Format(time.DateTime), m.UseVAE,
				cli.FormatBytes(m.Size), m.Params[autoencoder.KeyWavenet], m.Params[autoencoder.KeyCondWavenet])
		}
		return w.Flush()
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show a checkpoint's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeIndex, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeIndex()
		meta, err := reg.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputResult(meta)
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeIndex, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeIndex()
		meta, err := reg.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := reg.Delete(cmd.Context(), meta.ID); err != nil {
			return err
		}
		cli.PrintSuccess("deleted %s (%s)", meta.Name, meta.ID)
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
}
