package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	var sensorConfig string

	cmd := &cobra.Command{
		Use:   "validate <sensor-type>",
		Short: "Check a sensor configuration against its schema and rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s, err := newSession(cmd.Context(), cfg, logger, sessionOptions{
				sensorType: args[0],
				configPath: sensorConfig,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.sensor.Validate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s configuration %s is valid\n", args[0], sensorConfig)
			return err
		},
	}

	cmd.Flags().StringVarP(&sensorConfig, "sensor-config", "f", "", "Sensor configuration file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("sensor-config")

	return cmd
}
