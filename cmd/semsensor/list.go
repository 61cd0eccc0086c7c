package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360/semsensors/sensorregistry"
)

type sensorInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	HasInputs   bool   `json:"has_inputs"`
}

func newListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the available sensor types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := sensorregistry.New()
			if err != nil {
				return err
			}

			var infos []sensorInfo
			for _, name := range registry.Names() {
				reg, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				infos = append(infos, sensorInfo{
					Name:        name,
					Description: reg.Metadata.Description,
					HasInputs:   reg.Metadata.HasInputs,
				})
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, info := range infos {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
