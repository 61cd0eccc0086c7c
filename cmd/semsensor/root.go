package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPaths []string
	logLevel    string
	logFormat   string
	schemaRoot  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Run schema-validated sensors that trigger on storage and HTTP events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&flags.configPaths, "config", "c", nil,
		"Runtime config file (JSON or YAML); repeat to layer overrides")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format (json, text)")
	cmd.PersistentFlags().StringVar(&flags.schemaRoot, "schemas", "", "Schema root directory")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSchemaCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
