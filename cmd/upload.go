package main

import (
	"encoding/json"
	"fmt"
	"os"

	"acs-event-bridge/internal/exchange"
	"acs-event-bridge/internal/logging"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <rows.json>",
	Short: "Encrypt and upload person-crossing rows to the exchange platform",
	Long: `Reads a JSON array of row objects from the given file, encrypts it
with the configured AES key, and POSTs it to the exchange platform's
person-crossing endpoint. Prints the raw platform response.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if cfg.Exchange.BaseURL == "" {
			return fmt.Errorf("exchange.base_url is not configured")
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read rows file: %w", err)
		}
		var rows []map[string]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("rows file must be a JSON array of objects: %w", err)
		}

		client := exchange.NewClient(cfg.Exchange, logging.NewServiceLogger(logger, "exchange"))

		ctx, cancel := signalContext()
		defer cancel()
		resp, err := client.Upload(ctx, rows)
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}
