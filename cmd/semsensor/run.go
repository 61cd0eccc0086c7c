package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/semsensors/metric"
)

type runOptions struct {
	sensorConfig string
	port         int
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <sensor-type>",
		Short: "Validate and run a sensor until it ends or a signal arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSensor(cmd, flags, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.sensorConfig, "sensor-config", "f", "", "Sensor configuration file (JSON or YAML)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port for sensors serving HTTP")
	_ = cmd.MarkFlagRequired("sensor-config")

	return cmd
}

func runSensor(cmd *cobra.Command, flags *rootFlags, sensorType string, opts *runOptions) error {
	cfg, logger, err := loadRuntime(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, cfg, logger, sessionOptions{
		sensorType: sensorType,
		configPath: opts.sensorConfig,
		port:       opts.port,
		withSinks:  true,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.sensor.Validate(ctx); err != nil {
		return err
	}

	logger.Info("Starting sensor", "sensor", sensorType, "sink", s.sinkName)

	g, gctx := errgroup.WithContext(ctx)
	// Servers stop once the sensor ends, not only on a signal.
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, s.metrics)
		server.SetHealth(s.healthMonitor())
		g.Go(func() error { return server.Run(auxCtx) })
	}
	if s.ws != nil {
		g.Go(func() error { return s.ws.Run(auxCtx) })
	}
	g.Go(func() error {
		defer stopAux()
		return s.sensor.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Sensor finished", "sensor", sensorType)
	return nil
}
