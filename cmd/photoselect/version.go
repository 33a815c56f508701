package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "photoselect %s\n", Version)
		return err
	},
}
