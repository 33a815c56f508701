package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/frames"
	"github.com/nvr-ai/go-photogrammetry/history"
	"github.com/nvr-ai/go-photogrammetry/logging"
	"github.com/nvr-ai/go-photogrammetry/masks"
	"github.com/nvr-ai/go-photogrammetry/profiler"
	"github.com/nvr-ai/go-photogrammetry/selection"
)

// summary describes one command invocation for printing and the run ledger.
type summary struct {
	Command   string
	Source    string
	StartedAt time.Time

	Frames []frames.Output
	Result *frames.Result
	Report *masks.Report

	// Failures are stage errors the run recovered from.
	Failures []selection.Diagnostic

	// Reconstruction holds the images handed to reconstruction.
	Reconstruction []string
	FellBack       bool
}

// settle records the segmentation stage on s. When the model never produced a report, the
// failure becomes a diagnostic and the written frames remain the reconstruction input.
func (s *summary) settle(original []string, report *masks.Report, err error) error {
	if err != nil && report == nil {
		logging.WithComponent("summary").Warn().Err(err).Msg("segmentation unavailable, keeping original frames")
		s.Failures = append(s.Failures, selection.Diagnostic{Subject: "segmentation", Err: err})
		err = nil
	}
	s.Report = report
	s.Reconstruction, s.FellBack = reconstructionInput(original, report)
	return err
}

// reconstructionInput returns the segmented images, or the original frames when nothing
// segmented.
func reconstructionInput(original []string, report *masks.Report) ([]string, bool) {
	if report != nil {
		if segmented := report.Segmented(); len(segmented) > 0 {
			return segmented, false
		}
	}
	return original, true
}

func framePaths(outputs []frames.Output) []string {
	paths := make([]string, len(outputs))
	for i, o := range outputs {
		paths[i] = o.Path
	}
	return paths
}

func (s *summary) diagnostics() []string {
	var out []string
	for _, d := range s.Failures {
		out = append(out, d.String())
	}
	if s.Result != nil {
		for _, d := range s.Result.Diagnostics {
			out = append(out, d.String())
		}
	}
	if s.Report != nil {
		for _, d := range s.Report.Diagnostics {
			out = append(out, d.String())
		}
	}
	return out
}

// print writes a human readable summary.
func (s *summary) print(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", s.Command, s.Source)

	if r := s.Result; r != nil {
		lo, hi := r.QualityRange()
		fmt.Fprintf(w, "  frames:      %d of %d selected (target %d, %s tier, pool %d)\n",
			len(s.Frames), r.TotalFrames, r.Target, r.Policy.Tier, r.Pool)
		fmt.Fprintf(w, "  quality:     %.3f - %.3f\n", lo, hi)
	}

	if r := s.Report; r != nil {
		lo, hi := r.ImportanceRange()
		fmt.Fprintf(w, "  segmented:   %d\n", len(r.Segmented()))
		fmt.Fprintf(w, "  unsegmented: %d\n", len(r.Unsegmented()))
		if len(r.Segmented()) > 0 {
			fmt.Fprintf(w, "  importance:  %.3f - %.3f\n", lo, hi)
		}
		if objects := objectCounts(r); objects != "" {
			fmt.Fprintf(w, "  objects:     %s\n", objects)
		}
	}

	if s.FellBack {
		fmt.Fprintf(w, "  no image segmented, using the %d original frames\n", len(s.Reconstruction))
	}

	if d := s.diagnostics(); len(d) > 0 {
		fmt.Fprintf(w, "  diagnostics: %d\n", len(d))
		for _, line := range d {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

// objectCounts lists how many segmented images each label won, by label.
func objectCounts(r *masks.Report) string {
	counts := make(map[string]int)
	for _, o := range r.Outcomes {
		if !o.Unsegmented && o.Label != "" {
			counts[o.Label]++
		}
	}
	parts := make([]string, 0, len(counts))
	for _, label := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s %d", label, counts[label]))
	}
	return strings.Join(parts, ", ")
}

// toRun converts the summary into a ledger entry.
func (s *summary) toRun(prof *profiler.Profiler) *history.Run {
	run := &history.Run{
		Command:     s.Command,
		Source:      s.Source,
		StartedAt:   s.StartedAt,
		Duration:    prof.Uptime(),
		FellBack:    s.FellBack,
		Diagnostics: s.diagnostics(),
		Stages:      make(map[string]time.Duration),
	}
	for _, st := range prof.Stages() {
		run.Stages[st.Name] = st.TotalTime
	}
	if r := s.Result; r != nil {
		run.Target = r.Target
		run.TotalFrames = r.TotalFrames
		run.Selected = len(s.Frames)
		run.Policy = r.Policy.Tier.String()
		run.QualityMin, run.QualityMax = r.QualityRange()
	}
	if r := s.Report; r != nil {
		run.Segmented = len(r.Segmented())
		run.Unsegmented = len(r.Unsegmented())
	}
	return run
}

// finish prints the summary, logs the stage timings and records the run when a ledger is
// configured. Ledger failures are logged, not returned.
func finish(ctx context.Context, w io.Writer, cfg *config.Config, s *summary, prof *profiler.Profiler) {
	s.print(w)
	logger := logging.WithComponent("summary")
	prof.Log(logger)

	if cfg.HistoryPath == "" {
		return
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		logger.Warn().Err(err).Msg("history unavailable")
		return
	}
	defer store.Close()

	id, err := store.Record(ctx, s.toRun(prof))
	if err != nil {
		logger.Warn().Err(err).Msg("recording run failed")
		return
	}
	logger.Info().Str("run", id).Msg("recorded")
}
