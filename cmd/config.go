package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		return dumpConfig(cfg)
	},
}

// dumpConfig renders the configuration as indented JSON. Credentials are
// replaced so the output is safe to paste into support tickets.
func dumpConfig(cfg interface{}) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return err
	}
	redactSecrets(tree)
	out, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var secretKeys = map[string]bool{
	"Password":      true,
	"BasicPassword": true,
	"AESKey":        true,
}

func redactSecrets(node interface{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, val := range v {
			if secretKeys[key] {
				if s, ok := val.(string); ok && s != "" {
					v[key] = "********"
				}
				continue
			}
			redactSecrets(val)
		}
	case []interface{}:
		for _, item := range v {
			redactSecrets(item)
		}
	}
}
