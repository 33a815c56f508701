package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/profiler"
)

var (
	runFrameOpts frameFlags
	runMaskOpts  maskFlags
)

var runCmd = &cobra.Command{
	Use:   "run <video>",
	Short: "Select frames, then isolate the main object in each",
	Long: "Select frames from the video, then segment the main object of every selected frame. " +
		"When no frame segments, the original frames are reported as the reconstruction input.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		runFrameOpts.apply(cmd, cfg)
		runMaskOpts.apply(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		prof := profiler.New()
		s := &summary{Command: "run", Source: args[0], StartedAt: time.Now()}

		outputs, result, err := selectFrames(ctx, cfg, args[0], prof)
		if err != nil {
			return err
		}
		s.Frames, s.Result = outputs, result
		original := framePaths(outputs)

		report, err := segmentImages(ctx, cfg, original, prof)
		err = s.settle(original, report, err)

		finish(ctx, cmd.OutOrStdout(), cfg, s, prof)
		return err
	},
}

func init() {
	runFrameOpts.register(runCmd, "frame-workers")
	runMaskOpts.register(runCmd, "mask-workers")
}
