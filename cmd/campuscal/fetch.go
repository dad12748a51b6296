package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"campuscal/internal/aggregate"
)

func fetchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:       "fetch events|schedule",
		Short:     "Aggregate all sources of one resource once and print JSON",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(aggregate.KindEvents), string(aggregate.KindSchedule)},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			agg := newAggregator(conf)

			switch aggregate.Kind(args[0]) {
			case aggregate.KindEvents:
				res, err := agg.Events(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch events: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), res)
			default:
				res, err := agg.Schedule(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch schedule: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Path to config file")
	return cmd
}
