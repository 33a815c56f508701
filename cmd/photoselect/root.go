package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/logging"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "photoselect",
	Short:         "Adaptive frame and object-mask selection for photogrammetry",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Debug = true
		}
		logging.Init(cfg.Debug)

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM cancels it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./photoselect.yaml, then ~/.config/photoselect/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every candidate's score breakdown")

	rootCmd.AddCommand(framesCmd, segmentCmd, runCmd, historyCmd, configCmd, versionCmd)
}
