package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/c360/semsensors/schema"
	"github.com/c360/semsensors/sensor"
	"github.com/c360/semsensors/sensorregistry"
)

func newSchemaCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <sensor-type> [user-config|inputs|outputs]",
		Short: "Print a sensor type's resolved JSON schema",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			registry, err := sensorregistry.New()
			if err != nil {
				return err
			}
			reg, err := registry.Lookup(args[0])
			if err != nil {
				return err
			}

			kind := sensor.KindUserConfig
			if len(args) == 2 {
				kind = args[1]
			}
			doc, err := reg.Metadata.Schema(sensor.NewSchemas(cfg.Schemas.Root, schema.NewCache()), kind)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}
