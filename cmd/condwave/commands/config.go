package commands

import (
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/cobra"

	"github.com/haivivi/condwave/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the CLI configuration",
	Long: `Inspect the CLI configuration.

Configuration is read from ~/.condwave/config.yaml unless --config is given.
A missing file means the built-in defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return outputResult(globalConfig)
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := globalConfig.Path()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s exists, use --force to overwrite", path)
		}
		cfg := cli.DefaultConfig()
		globalConfig.Model, globalConfig.Sampling, globalConfig.Store = cfg.Model, cfg.Sampling, cfg.Store
		if err := globalConfig.Save(); err != nil {
			return err
		}
		cli.PrintSuccess("wrote %s", path)
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := jsonschema.For[cli.Config](nil)
		if err != nil {
			return err
		}
		outputJSON = true
		return outputResult(schema)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSchemaCmd)
}
