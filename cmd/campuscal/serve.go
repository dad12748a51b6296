package main

import (
	"fmt"

	"github.com/spf13/cobra"

	appLog "campuscal/internal/log"
	"campuscal/internal/refresh"
	"campuscal/internal/web"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the events and schedule API",
		Long: `Start the HTTP API and the background refresh schedule.

Examples:
  campuscal serve --config ./config.yaml
  campuscal serve --config ./config.yaml --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				conf.Listen = listen
			}

			appLog.Info("effective config",
				"listen", conf.Listen,
				"log_level", conf.LogLevel,
				"refresh", conf.RefreshCron,
				"events_sources", len(conf.Events),
				"schedule_sources", len(conf.Schedule),
				"rrule_horizon_days", conf.Ingest.RRuleHorizonDays,
				"rrule_max_instances", conf.Ingest.RRuleMaxInstances,
			)

			ctx := cmd.Context()
			agg := newAggregator(conf)

			sched, err := refresh.New(conf.RefreshCron, agg, conf.Ingest.LoadTimeout)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if sched != nil {
				sched.Start(ctx)
			}

			if err := web.StartServer(ctx, conf, agg); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			appLog.Info("campuscal exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
