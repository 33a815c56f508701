package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/masks"
	"github.com/nvr-ai/go-photogrammetry/profiler"
)

// maskFlags are the overrides shared by segment and run.
type maskFlags struct {
	model       string
	backend     string
	confidence  float32
	fixed       bool
	background  string
	enhance     bool
	noCentered  bool
	workers     int
	segmentedTo string
	masksTo     string
}

func (f *maskFlags) register(cmd *cobra.Command, workersFlag string) {
	cmd.Flags().StringVar(&f.model, "model", "", "YOLO segmentation ONNX model")
	cmd.Flags().StringVar(&f.backend, "backend", "", "execution provider: cpu, cuda, coreml, openvino")
	cmd.Flags().Float32Var(&f.confidence, "confidence", 0, "base detection confidence")
	cmd.Flags().BoolVar(&f.fixed, "no-adaptive", false, "only try the base confidence")
	cmd.Flags().StringVar(&f.background, "background", "", "fill outside the object: black or neutral")
	cmd.Flags().BoolVar(&f.enhance, "enhance", false, "apply CLAHE and sharpening to the detector input")
	cmd.Flags().BoolVar(&f.noCentered, "no-prefer-centered", false, "do not boost centred objects")
	cmd.Flags().IntVar(&f.workers, workersFlag, 0, "images processed concurrently")
	cmd.Flags().StringVar(&f.segmentedTo, "segmented-out", "", "directory for segmented images")
	cmd.Flags().StringVar(&f.masksTo, "masks-out", "", "directory for masks")
}

func (f *maskFlags) apply(cfg *config.Config) {
	if f.model != "" {
		cfg.Model.ModelPath = f.model
	}
	if f.backend != "" {
		cfg.Model.Backend = f.backend
	}
	if f.confidence > 0 {
		cfg.Masks.Confidence = f.confidence
	}
	if f.fixed {
		cfg.Masks.Adaptive = false
	}
	if f.background != "" {
		cfg.Masks.Background = masks.BackgroundMode(f.background)
	}
	if f.enhance {
		cfg.Masks.Enhance = true
	}
	if f.noCentered {
		cfg.Masks.PreferCentered = false
	}
	if f.workers > 0 {
		cfg.Masks.Workers = f.workers
	}
	if f.segmentedTo != "" {
		cfg.Output.SegmentedDir = f.segmentedTo
	}
	if f.masksTo != "" {
		cfg.Output.MaskDir = f.masksTo
	}
}

var segmentOpts maskFlags

var segmentCmd = &cobra.Command{
	Use:   "segment <image-dir>",
	Short: "Isolate the main object of every image in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		segmentOpts.apply(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		paths, err := masks.ListImages(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.Errorf("no images in %s", args[0])
		}

		prof := profiler.New()
		s := &summary{Command: "segment", Source: args[0], StartedAt: time.Now()}

		report, err := segmentImages(ctx, cfg, paths, prof)
		if err != nil && report == nil {
			return err
		}
		s.Report = report
		s.Reconstruction, s.FellBack = reconstructionInput(paths, report)

		finish(ctx, cmd.OutOrStdout(), cfg, s, prof)
		return err
	},
}

func init() {
	segmentOpts.register(segmentCmd, "workers")
}
