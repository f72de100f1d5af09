package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"acs-event-bridge/internal/api"
	"acs-event-bridge/internal/config"
	"acs-event-bridge/internal/cursor"
	"acs-event-bridge/internal/logging"
	"acs-event-bridge/internal/poller"
	"acs-event-bridge/internal/sink"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "acs-event-bridge",
	Short: "Access Control Event Bridge - Pull door events from access controllers",
	Long: `A lightweight agent that pulls access-control events (card swipes,
face recognition, door openings) from network controllers over their
HTTP history API, normalizes them into a standardized format, and
delivers them to relational, HTTP, Redis, or log sinks.`,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Periodically fetch the recent event window from every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(func(ctx context.Context, p *poller.Poller) error {
			return p.Run(ctx)
		})
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Continuously follow each device's clock in near real time",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(func(ctx context.Context, p *poller.Poller) error {
			return p.Stream(ctx)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(uploadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging. The --log-level flag
// overrides the configured level when set.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.Initialize(level)
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			logger.WithError(err).Warn("Failed to set up file logging, continuing with stdout only")
		}
	}
	return cfg, logger, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runPipeline builds the full pipeline (watermark store, sinks, poller,
// optional API server) and hands control to run until a signal arrives.
func runPipeline(run func(ctx context.Context, p *poller.Poller) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := cursor.NewSQLiteStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open watermark store: %w", err)
	}
	defer store.Close()

	dispatcher, err := sink.BuildDispatcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}
	defer dispatcher.Close()

	p := poller.New(cfg, store, dispatcher, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.API.Enabled {
		feed := api.NewEventFeed(logger)
		p.SetBroadcaster(feed)
		server := api.NewServer(cfg.API, p, feed, version, logger)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.WithError(err).Error("API server stopped")
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"devices": len(cfg.Devices),
		"version": version,
	}).Info("Bridge starting up")

	if err := run(ctx, p); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("Bridge shut down")
	return nil
}
