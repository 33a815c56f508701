package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-photogrammetry/config"
	"github.com/nvr-ai/go-photogrammetry/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		if cfg.HistoryPath == "" {
			return errors.New("history is disabled (history_path is empty)")
		}

		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			run, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		}

		runs, err := store.List(ctx, historyLimit)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func printRuns(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCOMMAND\tSOURCE\tFRAMES\tTIER\tSEGMENTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Command, r.Source,
			r.Selected, dash(r.Policy), r.Segmented, r.Segmented+r.Unsegmented,
			r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func printRun(w io.Writer, r history.Run) {
	fmt.Fprintf(w, "run %s\n", r.ID)
	fmt.Fprintf(w, "  command:     %s %s\n", r.Command, r.Source)
	fmt.Fprintf(w, "  started:     %s (%s)\n", r.StartedAt.Local().Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  frames:      %d of %d (target %d, %s tier)\n", r.Selected, r.TotalFrames, r.Target, dash(r.Policy))
	fmt.Fprintf(w, "  quality:     %.3f - %.3f\n", r.QualityMin, r.QualityMax)
	fmt.Fprintf(w, "  segmented:   %d, unsegmented %d\n", r.Segmented, r.Unsegmented)
	if r.FellBack {
		fmt.Fprintln(w, "  fell back to the original frames")
	}

	names := make([]string, 0, len(r.Stages))
	for name := range r.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  stage %-8s %s\n", name, r.Stages[name])
	}
	for _, d := range r.Diagnostics {
		fmt.Fprintf(w, "  ! %s\n", d)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list, 0 for all")
}
