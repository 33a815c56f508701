package frames

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/selection"
)

// Options configures the frame selection pipeline.
type Options struct {
	// Target is the number of frames to select. 0 derives it from the duration (AutoTarget).
	Target int `yaml:"target"`
	// SampleFraction of the timeline decoded to learn the quality distribution.
	SampleFraction float64 `yaml:"sample_fraction"`
	// MinSamples is the floor on the statistics sample size.
	MinSamples int `yaml:"min_samples"`
	// Oversample is the candidate pool size as a multiple of Target.
	Oversample int `yaml:"oversample"`
	// NormalPercentile and EmergencyPercentile are the threshold tiers.
	NormalPercentile    float64 `yaml:"normal_percentile"`
	EmergencyPercentile float64 `yaml:"emergency_percentile"`
	// BestEffortFrames caps the pool decoded when thresholding gives up.
	BestEffortFrames int `yaml:"best_effort_frames"`
	// BestEffortFactor is the top-K multiple of Target kept by the best-effort tier.
	BestEffortFactor int `yaml:"best_effort_factor"`
	// SimilarityCeiling is the maximum histogram correlation between two selected frames.
	SimilarityCeiling float64 `yaml:"similarity_ceiling"`
	// Workers score decoded frames concurrently. Decoding itself is always sequential.
	Workers int     `yaml:"workers"`
	Anchors Anchors `yaml:"anchors"`
	// Vertical rotates landscape frames to portrait.
	Vertical bool `yaml:"vertical"`
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		Target:              0,
		SampleFraction:      0.10,
		MinSamples:          10,
		Oversample:          3,
		NormalPercentile:    25,
		EmergencyPercentile: 10,
		BestEffortFrames:    500,
		BestEffortFactor:    2,
		SimilarityCeiling:   0.85,
		Workers:             1,
		Anchors:             DefaultAnchors(),
	}
}

// Result is a completed selection.
type Result struct {
	// Frames are the selected candidates in chronological order. Call Release when done.
	Frames []*Candidate
	// Policy is the threshold tier that admitted the pool.
	Policy selection.ThresholdPolicy
	// Target is the requested (or derived) frame count.
	Target int
	// TotalFrames and FPS describe the source.
	TotalFrames int
	FPS         float64
	// Sampled is the size of the statistics sample.
	Sampled int
	// Pool is the number of candidates the winning tier admitted before deduplication.
	Pool        int
	Diagnostics []selection.Diagnostic
}

// QualityRange returns the lowest and highest quality among the selected frames.
func (r *Result) QualityRange() (float64, float64) {
	if len(r.Frames) == 0 {
		return 0, 0
	}
	lo, hi := r.Frames[0].Quality, r.Frames[0].Quality
	for _, f := range r.Frames[1:] {
		lo = min(lo, f.Quality)
		hi = max(hi, f.Quality)
	}
	return lo, hi
}

// Release frees every selected frame.
func (r *Result) Release() {
	for _, f := range r.Frames {
		f.Release()
	}
}

// Pipeline selects frames from a video.
type Pipeline struct {
	opts   Options
	scorer Scorer
	logger zerolog.Logger
	// progress, when set, is called once per decoded frame.
	progress func(n int)
}

// New creates a pipeline.
func New(opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		opts:   opts,
		scorer: Scorer{Anchors: opts.Anchors, Vertical: opts.Vertical},
		logger: logger,
	}
}

// OnProgress registers a callback invoked once per decoded frame.
func (p *Pipeline) OnProgress(fn func(n int)) {
	p.progress = fn
}

// Select runs the sampling, threshold ladder and deduplication over src. The caller keeps
// ownership of src.
//
// Arguments:
//   - ctx: Stops decoding when cancelled.
//   - src: The frame source.
//
// Returns:
//   - *Result: The selected frames. The caller must Release it.
//   - error: selection.ErrUnreadableSource for an empty source, selection.ErrNoCandidates when no
//     frame could be decoded at all.
func (p *Pipeline) Select(ctx context.Context, src Source) (*Result, error) {
	total := src.FrameCount()
	if total <= 0 {
		return nil, errors.Wrap(selection.ErrUnreadableSource, "source has no frames")
	}
	fps := src.FPS()

	target := p.opts.Target
	if target <= 0 {
		target = AutoTarget(total, fps)
	}

	var diag selection.Diagnostics
	sampleSize := min(max(p.opts.MinSamples, int(float64(total)*p.opts.SampleFraction)), total)

	p.logger.Info().
		Int("frames", total).
		Float64("fps", fps).
		Int("target", target).
		Int("sample", sampleSize).
		Msg("analysing video")

	reference, err := p.scoreIndices(ctx, src, Linspace(total, sampleSize), 0, &diag)
	if err != nil {
		return nil, err
	}
	// Only the metrics of the statistics sample are needed.
	for _, c := range reference {
		c.Release()
	}

	oversample := func(ctx context.Context) ([]*Candidate, error) {
		return p.scoreIndices(ctx, src, Linspace(total, min(p.opts.Oversample*target, total)), 0, &diag)
	}
	topK := p.opts.BestEffortFactor * target
	// The best-effort rung keeps only the top K, so losers are released while decoding.
	wide := func(ctx context.Context) ([]*Candidate, error) {
		return p.scoreIndices(ctx, src, Linspace(total, min(p.opts.BestEffortFrames, total)), topK, &diag)
	}

	selector := &selection.Selector[*Candidate]{
		Metrics: []selection.Metric[*Candidate]{
			{Name: "sharpness", Value: func(c *Candidate) float64 { return c.Sharpness }},
			{Name: "quality", Value: quality},
		},
		Score:   quality,
		Order:   order,
		Release: (*Candidate).Release,
		Logger:  p.logger,
	}

	outcome, err := selector.Select(ctx, reference, []selection.Rung[*Candidate]{
		{Tier: selection.Normal, Percentile: p.opts.NormalPercentile, PoolKey: "oversample", Pool: oversample},
		{Tier: selection.Emergency, Percentile: p.opts.EmergencyPercentile, PoolKey: "oversample", Pool: oversample},
		{Tier: selection.BestEffort, TopK: topK, PoolKey: "timeline", Pool: wide},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "selecting from %d frames", total)
	}

	if outcome.Policy.Tier != selection.Normal {
		p.logger.Warn().
			Str("tier", outcome.Policy.Tier.String()).
			Msg("normal thresholds rejected every candidate, used fallback tier")
	}
	for _, cut := range outcome.Policy.Cuts {
		p.logger.Debug().
			Str("metric", cut.Metric).
			Float64("min", cut.Min).
			Float64("mean", cut.Stats.Mean).
			Float64("std", cut.Stats.Std).
			Msg("threshold")
	}

	dedupe := selection.Dedupe[*Candidate]{
		Score:      quality,
		Order:      order,
		Similarity: Similarity,
		Ceiling:    p.opts.SimilarityCeiling,
	}
	selected, rejected := dedupe.Select(outcome.Candidates, target)
	for _, c := range rejected {
		c.Release()
	}

	result := &Result{
		Frames:      selected,
		Policy:      outcome.Policy,
		Target:      target,
		TotalFrames: total,
		FPS:         fps,
		Sampled:     len(reference),
		Pool:        len(outcome.Candidates),
		Diagnostics: diag.Entries(),
	}

	lo, hi := result.QualityRange()
	p.logger.Info().
		Int("selected", len(selected)).
		Int("pool", result.Pool).
		Str("tier", outcome.Policy.Tier.String()).
		Float64("quality_min", lo).
		Float64("quality_max", hi).
		Int("skipped", len(result.Diagnostics)).
		Msg("frame selection complete")

	return result, nil
}

func quality(c *Candidate) float64 { return c.Quality }
func order(c *Candidate) int       { return c.Index }

type scoreTask struct {
	pos   int
	index int
	frame gocv.Mat
}

type scoreResult struct {
	pos   int
	index int
	cand  *Candidate
	err   error
}

// scoreIndices decodes indices in order on the calling goroutine and scores them on a worker
// pool. Unreadable frames are recorded in diag and skipped. When keep is positive at most keep
// candidates are held at once: the weakest is released as soon as another arrives. The returned
// candidates keep their index order.
func (p *Pipeline) scoreIndices(ctx context.Context, src Source, indices []int, keep int, diag *selection.Diagnostics) ([]*Candidate, error) {
	workers := max(p.opts.Workers, 1)
	fps := src.FPS()

	tasks := make(chan scoreTask, workers)
	results := make(chan scoreResult, workers*2)
	var wg sync.WaitGroup

	scored := make([]*Candidate, len(indices))
	aggDone := make(chan struct{})
	go func() {
		held := 0
		for r := range results {
			if r.err != nil {
				diag.Record(fmt.Sprintf("frame %d", r.index), errors.Wrap(selection.ErrUnreadableCandidate, r.err.Error()))
				continue
			}
			scored[r.pos] = r.cand
			held++
			if keep > 0 && held > keep {
				w := weakest(scored)
				scored[w].Release()
				scored[w] = nil
				held--
			}
		}
		close(aggDone)
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				c, err := p.scorer.Score(t.index, timestamp(t.index, fps), t.frame)
				results <- scoreResult{pos: t.pos, index: t.index, cand: c, err: err}
			}
		}()
	}

	for pos, idx := range indices {
		if ctx.Err() != nil {
			break
		}
		frame, err := src.ReadAt(idx)
		if p.progress != nil {
			p.progress(1)
		}
		if err != nil {
			frame.Close()
			diag.Record(fmt.Sprintf("frame %d", idx), errors.Wrap(selection.ErrUnreadableCandidate, err.Error()))
			p.logger.Debug().Int("frame", idx).Err(err).Msg("skipping unreadable frame")
			continue
		}
		tasks <- scoreTask{pos: pos, index: idx, frame: frame}
	}

	close(tasks)
	wg.Wait()
	close(results)
	<-aggDone

	out := make([]*Candidate, 0, len(scored))
	for _, c := range scored {
		if c != nil {
			out = append(out, c)
		}
	}

	if err := ctx.Err(); err != nil {
		for _, c := range out {
			c.Release()
		}
		return nil, err
	}
	return out, nil
}

// weakest returns the position of the lowest quality candidate, the later frame on ties. It is
// the one a top-K cut over the same candidates would drop first.
func weakest(scored []*Candidate) int {
	w := -1
	for i, c := range scored {
		if c == nil {
			continue
		}
		if w < 0 || c.Quality < scored[w].Quality || (c.Quality == scored[w].Quality && c.Index > scored[w].Index) {
			w = i
		}
	}
	return w
}

func timestamp(index int, fps float64) float64 {
	if fps <= 0 {
		fps = fallbackFPS
	}
	return float64(index) / fps
}
