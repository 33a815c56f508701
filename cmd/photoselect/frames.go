package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/profiler"
)

// frameFlags are the overrides shared by frames and run.
type frameFlags struct {
	target     int
	out        string
	vertical   bool
	embedScore bool
	workers    int
}

func (f *frameFlags) register(cmd *cobra.Command, workersFlag string) {
	cmd.Flags().IntVarP(&f.target, "target", "n", 60, "frames to select, 0 derives the count from the duration")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "directory for the selected frames")
	cmd.Flags().BoolVar(&f.vertical, "vertical", false, "rotate landscape frames to portrait")
	cmd.Flags().BoolVar(&f.embedScore, "embed-score", false, "append the quality score to file names")
	cmd.Flags().IntVar(&f.workers, workersFlag, 0, "concurrent frame scorers")
}

func (f *frameFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("target") {
		cfg.Frames.Target = f.target
	}
	if f.out != "" {
		cfg.Output.FramesDir = f.out
	}
	if f.vertical {
		cfg.Frames.Vertical = true
	}
	if f.embedScore {
		cfg.Output.EmbedScore = true
	}
	if f.workers > 0 {
		cfg.Frames.Workers = f.workers
	}
}

var framesOpts frameFlags

var framesCmd = &cobra.Command{
	Use:   "frames <video>",
	Short: "Select the sharpest, most diverse frames of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		framesOpts.apply(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		prof := profiler.New()
		s := &summary{Command: "frames", Source: args[0], StartedAt: time.Now()}

		outputs, result, err := selectFrames(ctx, cfg, args[0], prof)
		if err != nil {
			return err
		}
		s.Frames, s.Result = outputs, result
		s.Reconstruction = framePaths(outputs)

		finish(ctx, cmd.OutOrStdout(), cfg, s, prof)
		return nil
	},
}

func init() {
	framesOpts.register(framesCmd, "workers")
}
