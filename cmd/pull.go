package main

import (
	"fmt"
	"time"

	"acs-event-bridge/internal/cursor"
	"acs-event-bridge/internal/poller"
	"acs-event-bridge/internal/sink"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <start> <end>",
	Short: "Fetch a fixed historical range once and exit",
	Long: `Fetches events in [start, end) from every configured device and
delivers them to the configured sinks. The range is split so that no
request window crosses a local day boundary. Timestamps are RFC3339,
e.g. 2024-03-01T00:00:00+08:00.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return fmt.Errorf("invalid start time %q: %w", args[0], err)
		}
		end, err := time.Parse(time.RFC3339, args[1])
		if err != nil {
			return fmt.Errorf("invalid end time %q: %w", args[1], err)
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		dispatcher, err := sink.BuildDispatcher(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to build sinks: %w", err)
		}
		defer dispatcher.Close()

		// Historical pulls do not touch the watermark.
		p := poller.New(cfg, cursor.NewMemoryStore(), dispatcher, logger)

		ctx, cancel := signalContext()
		defer cancel()
		return p.Pull(ctx, start, end)
	},
}
