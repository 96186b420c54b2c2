package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/lending-monitor-go/chains/hyperevm"
	"github.com/defistate/lending-monitor-go/cmd/monitor/config"
	"github.com/defistate/lending-monitor-go/format"
	"github.com/defistate/lending-monitor-go/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	output := flag.String("output", outputText, "Output format: text or json.")
	flag.Parse()

	// stdout carries the report; logs go to stderr.
	rootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, rootLogger, *configPath, *output, os.Stdout)
	stop()
	if err != nil {
		rootLogger.Error("Monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rootLogger *slog.Logger, configPath, output string, stdout io.Writer) error {
	if output != outputText && output != outputJSON {
		return fmt.Errorf("unknown output format %q", output)
	}

	rootLogger.Info("Loading configuration", "path", configPath)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	registry := prometheus.NewRegistry()

	opts := []hyperevm.Option{hyperevm.WithExpectedChainID(cfg.ChainID)}
	if cfg.CallTimeout > 0 {
		opts = append(opts, hyperevm.WithCallTimeout(cfg.CallTimeout))
	}
	reader, err := hyperevm.Dial(
		ctx,
		cfg.RPCURL,
		cfg.MarketAddress(),
		rootLogger.With("component", "hyperevm-reader"),
		registry,
		opts...,
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	defer reader.Close()

	mon, err := monitor.New(monitor.Config{
		Reader:             reader,
		Logger:             rootLogger.With("component", "monitor"),
		Registry:           registry,
		RatePeriodsPerYear: cfg.RatePeriodsPerYear(),
	})
	if err != nil {
		return fmt.Errorf("initialize monitor: %w", err)
	}

	snapshot, snapErr := mon.ComputeSnapshot(ctx, cfg.MarketIDHash(), cfg.UserAddress(), cfg.PinnedParams())

	// Export failures too, so a scrape sees the failure counter.
	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, registry); err != nil {
			rootLogger.Warn("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	if snapErr != nil {
		return fmt.Errorf("compute snapshot: %w", snapErr)
	}

	if output == outputJSON {
		return format.RenderJSON(stdout, snapshot)
	}
	return format.Render(stdout, cfg.Title, snapshot)
}
