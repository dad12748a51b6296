package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"campuscal/internal/feed"
	"campuscal/internal/ics"
	"campuscal/internal/scrape"
)

func parseCmd() *cobra.Command {
	var (
		asHTML       bool
		asFeed       bool
		sourceURL    string
		horizon      int
		maxInstances int
	)

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a local ICS, HTML or feed file and print JSON",
		Long: `Parse a file without touching the network.

Examples:
  campuscal parse lectures.ics
  campuscal parse events.html --html --source https://uni.example/events
  campuscal parse news.xml --feed --source https://uni.example/news`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			switch {
			case asHTML:
				return writeJSON(cmd.OutOrStdout(), scrape.Extract(string(data), sourceURL))
			case asFeed:
				events, err := feed.Extract(string(data), sourceURL)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), events)
			default:
				events := ics.Parse(string(data), ics.ExpandOptions{
					HorizonDays:  horizon,
					MaxInstances: maxInstances,
				})
				return writeJSON(cmd.OutOrStdout(), events)
			}
		},
	}

	cmd.Flags().BoolVar(&asHTML, "html", false, "Treat FILE as an HTML event page")
	cmd.Flags().BoolVar(&asFeed, "feed", false, "Treat FILE as an RSS or Atom feed")
	cmd.Flags().StringVar(&sourceURL, "source", "", "Page URL that relative links resolve against")
	cmd.Flags().IntVar(&horizon, "horizon-days", ics.DefaultHorizonDays, "Recurrence expansion horizon in days")
	cmd.Flags().IntVar(&maxInstances, "max-instances", ics.DefaultMaxInstances, "Maximum occurrences per recurring event")
	cmd.MarkFlagsMutuallyExclusive("html", "feed")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if (asHTML || asFeed) && sourceURL == "" {
			return fmt.Errorf("parse: --source is required with --html or --feed")
		}
		return nil
	}
	return cmd
}
