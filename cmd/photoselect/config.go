package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
)

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Write the effective configuration to a file",
	Long: "Write the configuration after defaults, the config file and PHOTOSELECT_* overrides " +
		"are applied. Defaults to ~/.config/photoselect/config.yaml.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".config", "photoselect", "config.yaml")
		}

		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return err
	},
}
