package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/cli"
)

var (
	// Global flags
	cfgFile       string
	outputFile    string
	inputFile     string
	outputJSON    bool
	query         string
	checkpointRef string
	verbose       bool

	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "condwave",
	Short: "Conditioned WaveNet autoencoder CLI",
	Long: `condwave runs a conditioned WaveNet autoencoder: a conditioning encoder
compresses a piano roll into a stream of discrete codes, and a WaveNet
generates the output sequence from those codes.

Examples:
  # Generate from a note file with the configured model
  condwave infer -f notes.yaml

  # Check for code collapse
  condwave usage -f notes.yaml

  # Save the current weights, then reuse them
  condwave export --name baseline
  condwave infer -f notes.yaml --checkpoint baseline --json --query '.sequences[0].values'
`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.condwave/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&query, "query", "", "jq expression applied to the output")
	rootCmd.PersistentFlags().StringVar(&checkpointRef, "checkpoint", "", "restore weights from a checkpoint (id, id prefix or name)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(configCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := cli.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	globalConfig = cfg
	slog.Debug("config loaded", "path", cfg.Path())
	return nil
}
