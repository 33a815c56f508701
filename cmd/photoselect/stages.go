package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/frames"
	"github.com/nvr-ai/go-photogrammetry/logging"
	"github.com/nvr-ai/go-photogrammetry/masks"
	"github.com/nvr-ai/go-photogrammetry/models/yoloseg"
	"github.com/nvr-ai/go-photogrammetry/profiler"
)

func newBar(description string, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// selectFrames runs frame selection on the video at path and writes the chosen frames.
func selectFrames(ctx context.Context, cfg *config.Config, path string, prof *profiler.Profiler) ([]frames.Output, *frames.Result, error) {
	defer prof.StartOperation("frames")()

	video, err := frames.OpenVideo(path)
	if err != nil {
		return nil, nil, err
	}
	defer video.Close()

	logger := logging.WithComponent("frames")
	width, height := video.Size()
	logger.Debug().
		Str("video", video.Path()).
		Int("width", width).
		Int("height", height).
		Msg("opened video")

	pipeline := frames.New(cfg.Frames, logger)
	bar := newBar("Scoring frames", -1)
	pipeline.OnProgress(func(n int) { _ = bar.Add(n) })

	result, err := pipeline.Select(ctx, video)
	_ = bar.Finish()
	if err != nil {
		return nil, nil, err
	}
	defer result.Release()

	for _, f := range result.Frames {
		prof.RecordMetric("frame_quality", f.Quality)
	}

	done := prof.StartOperation("write")
	outputs, err := frames.Write(result, frames.WriteOptions{
		Dir:         cfg.Output.FramesDir,
		JPEGQuality: cfg.Output.JPEGQuality,
		EmbedScore:  cfg.Output.EmbedScore,
	})
	done()
	return outputs, result, err
}

// segmentImages loads the segmentation model and isolates the main object of every image in paths.
func segmentImages(ctx context.Context, cfg *config.Config, paths []string, prof *profiler.Profiler) (*masks.Report, error) {
	defer prof.StartOperation("segment")()

	segmenter, err := yoloseg.NewSegmenter(cfg.Model)
	if err != nil {
		return nil, errors.Wrap(err, "loading segmentation model")
	}
	defer func() {
		stats := segmenter.Stats()
		logging.WithComponent("inference").Debug().
			Int64("inferences", stats.Inferences).
			Dur("avg", stats.Average()).
			Msg("session stats")
		segmenter.Close()
	}()

	opts := cfg.Masks
	opts.JPEGQuality = cfg.Output.JPEGQuality

	pipeline := masks.New(segmenter, opts, logging.WithComponent("masks"))
	defer pipeline.Close()

	bar := newBar("Segmenting", len(paths))
	pipeline.OnProgress(func(n int) { _ = bar.Add(n) })

	report, err := pipeline.Process(ctx, paths, masks.Output{
		SegmentedDir: cfg.Output.SegmentedDir,
		MaskDir:      cfg.Output.MaskDir,
	})
	_ = bar.Finish()

	if report != nil {
		for _, o := range report.Outcomes {
			if !o.Unsegmented {
				prof.RecordMetric("importance", o.Importance)
			}
		}
	}
	return report, err
}
