package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"campuscal/internal/aggregate"
	"campuscal/internal/capture"
	"campuscal/internal/config"
	"campuscal/internal/fetch"
	appLog "campuscal/internal/log"
)

var Version = "0.1.0-dev"

const defaultConfigPath = "/etc/campuscal/config.yaml"

func main() {
	defer appLog.Sync()

	rootCmd := &cobra.Command{
		Use:           "campuscal",
		Short:         "Campus calendar ingestion: ICS feeds and event pages merged into one API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(parseCmd())

	if err := rootCmd.ExecuteContext(signalContext()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()
	return ctx
}

// loadConfig reads the config file and applies its log level.
func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}

// newAggregator wires the HTTP fetcher and, when any source needs it, the
// headless renderer.
func newAggregator(conf *config.Config) *aggregate.Aggregator {
	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:         conf.Ingest.FetchTimeout,
		PerHostInterval: conf.Ingest.PerHostInterval,
	})

	var opts []aggregate.Option
	if needsRenderer(conf) {
		opts = append(opts, aggregate.WithRenderer(capture.NewRenderedFetcher(capture.Options{
			Timeout: conf.Ingest.FetchTimeout,
		})))
	}
	return aggregate.New(conf, fetcher, opts...)
}

func needsRenderer(conf *config.Config) bool {
	for _, src := range conf.Events {
		if src.Render {
			return true
		}
	}
	for _, src := range conf.Schedule {
		if src.Render {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
