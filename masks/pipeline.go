package masks

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/inference"
	"github.com/nvr-ai/go-photogrammetry/selection"
)

// BackgroundMode selects what replaces pixels outside the accepted mask.
type BackgroundMode string

const (
	// BackgroundBlack zeroes the background.
	BackgroundBlack BackgroundMode = "black"
	// BackgroundNeutral fills the background with mid grey.
	BackgroundNeutral BackgroundMode = "neutral"
)

// Color returns the fill colour of the mode.
func (m BackgroundMode) Color() color.RGBA {
	if m == BackgroundNeutral {
		return color.RGBA{R: 128, G: 128, B: 128}
	}
	return color.RGBA{}
}

// ImageExtensions are the still image types picked up by ListImages.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp"}

// Options configures the mask pipeline.
type Options struct {
	// Confidence is the base detection confidence.
	Confidence float32 `yaml:"confidence"`
	// Adaptive enables the confidence cascade. Without it only the base confidence is tried.
	Adaptive bool `yaml:"adaptive"`
	// Cascade holds the multipliers of Confidence tried in order when Adaptive is set.
	Cascade        []float32 `yaml:"cascade"`
	PreferCentered bool      `yaml:"prefer_centered"`
	// Enhance runs CLAHE and sharpening on the detector input. Output pixels are never enhanced.
	Enhance bool `yaml:"enhance"`
	// Workers is the number of images processed concurrently.
	Workers     int            `yaml:"workers"`
	Background  BackgroundMode `yaml:"background"`
	JPEGQuality int            `yaml:"jpeg_quality"`
	Thresholds  Thresholds     `yaml:"thresholds"`
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		Confidence:     0.3,
		Adaptive:       true,
		Cascade:        []float32{1, 0.8, 0.6, 0.4},
		PreferCentered: true,
		Workers:        1,
		Background:     BackgroundBlack,
		JPEGQuality:    95,
		Thresholds:     DefaultThresholds(),
	}
}

// Levels returns the confidences tried for each image, in order.
func (o Options) Levels() []float32 {
	if !o.Adaptive || len(o.Cascade) == 0 {
		return []float32{o.Confidence}
	}
	levels := make([]float32, len(o.Cascade))
	for i, m := range o.Cascade {
		levels[i] = o.Confidence * m
	}
	return levels
}

// Output names the directories segmented images and masks are written to.
type Output struct {
	SegmentedDir string
	MaskDir      string
}

// Outcome is the result for one source image. Exactly one of Segmented or Unsegmented is set.
type Outcome struct {
	Source string `json:"source"`
	// Segmented and Mask are the written files.
	Segmented string `json:"segmented,omitempty"`
	Mask      string `json:"mask,omitempty"`
	// Unsegmented marks an image for which no acceptable foreground was found. Err says why.
	Unsegmented bool  `json:"unsegmented"`
	Err         error `json:"-"`

	// Confidence is the cascade level that produced the winning proposal.
	Confidence float32 `json:"confidence,omitempty"`
	Importance float64 `json:"importance,omitempty"`
	AreaRatio  float64 `json:"area_ratio,omitempty"`
	Centrality float64 `json:"centrality,omitempty"`
	ClassID    int     `json:"class_id,omitempty"`
	Label      string  `json:"label,omitempty"`
	// Inverted is set when the winning mask was replaced by its inverse.
	Inverted bool `json:"inverted,omitempty"`
}

// Report collects the outcomes of a batch.
type Report struct {
	// Outcomes are in input order.
	Outcomes    []Outcome
	Diagnostics []selection.Diagnostic
}

// Segmented returns the written segmented image paths in input order.
func (r *Report) Segmented() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Unsegmented {
			out = append(out, o.Segmented)
		}
	}
	return out
}

// Unsegmented returns the sources without an accepted mask in input order.
func (r *Report) Unsegmented() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Unsegmented {
			out = append(out, o.Source)
		}
	}
	return out
}

// ImportanceRange returns the lowest and highest winning importance.
func (r *Report) ImportanceRange() (float64, float64) {
	lo, hi, seen := 0.0, 0.0, false
	for _, o := range r.Outcomes {
		if o.Unsegmented {
			continue
		}
		if !seen {
			lo, hi, seen = o.Importance, o.Importance, true
			continue
		}
		lo = min(lo, o.Importance)
		hi = max(hi, o.Importance)
	}
	return lo, hi
}

// Pipeline isolates the main object of each image.
type Pipeline struct {
	opts      Options
	segmenter inference.Segmenter
	scorer    Scorer
	refiner   *images.MaskRefiner
	logger    zerolog.Logger
	progress  func(n int)
}

// New creates a pipeline around a shared segmenter. Close releases the pipeline's own resources,
// not the segmenter.
func New(segmenter inference.Segmenter, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		opts:      opts,
		segmenter: segmenter,
		scorer:    Scorer{Thresholds: opts.Thresholds, PreferCentered: opts.PreferCentered},
		refiner:   images.NewMaskRefiner(),
		logger:    logger,
	}
}

// OnProgress registers a callback invoked once per finished image.
func (p *Pipeline) OnProgress(fn func(n int)) {
	p.progress = fn
}

// Close releases the morphology kernels.
func (p *Pipeline) Close() {
	p.refiner.Close()
}

// SelectMask runs the confidence cascade on img and stops at the first level that yields a valid
// candidate.
//
// Arguments:
//   - img: The detector input.
//
// Returns:
//   - *Candidate: The winner. The caller must Close it.
//   - float32: The confidence level that produced it.
//   - error: selection.ErrInferenceFailure if the model fails, selection.ErrNoValidObject if no
//     level yields a valid candidate.
func (p *Pipeline) SelectMask(img gocv.Mat) (*Candidate, float32, error) {
	levels := p.opts.Levels()
	for _, level := range levels {
		proposals, err := p.segmenter.Detect(img, level)
		if err != nil {
			inference.CloseAll(proposals)
			return nil, level, errors.Wrapf(selection.ErrInferenceFailure, "confidence %.2f: %v", level, err)
		}

		best, scored := p.scorer.Best(proposals)
		for i, c := range scored {
			p.logger.Debug().
				Float32("level", level).
				Int("proposal", i).
				Int("class", c.ClassID).
				Str("label", c.Label).
				Float32("confidence", c.Confidence).
				Float64("area", c.AreaRatio).
				Float64("centrality", c.Centrality).
				Float64("compactness", c.Compactness).
				Float64("border_penalty", c.BorderPenalty).
				Bool("background", c.Background).
				Bool("too_small", c.TooSmall).
				Float64("importance", c.Importance).
				Msg("mask candidate")
		}
		if best != nil {
			return best, level, nil
		}
	}
	return nil, 0, errors.Wrapf(selection.ErrNoValidObject, "tried %d confidence levels", len(levels))
}

// FixInversion returns the inverse of mask when mask fills more than InvertAbove of the image and
// its inverse fills between InvertMin and InvertMax. Otherwise it returns a copy of mask. The
// caller owns the result.
func FixInversion(mask gocv.Mat, t Thresholds) (gocv.Mat, bool) {
	if images.FillRatio(mask) > t.InvertAbove {
		inverse := images.InvertMask(mask)
		if r := images.FillRatio(inverse); r >= t.InvertMin && r <= t.InvertMax {
			return inverse, true
		}
		inverse.Close()
	}
	return mask.Clone(), false
}

// Isolate fixes, refines and applies the winning mask to src.
//
// Returns:
//   - gocv.Mat: src with everything outside the mask replaced by the background colour.
//   - gocv.Mat: The refined 0/255 mask.
//   - bool: Whether the mask was inverted.
func (p *Pipeline) Isolate(src gocv.Mat, c *Candidate) (gocv.Mat, gocv.Mat, bool) {
	mask := c.Mask
	if mask.Rows() != src.Rows() || mask.Cols() != src.Cols() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mask, &resized, image.Pt(src.Cols(), src.Rows()), 0, 0, gocv.InterpolationLinear)
		binary := images.Binarize(resized, 127)
		defer binary.Close()
		mask = binary
	}

	fixed, inverted := FixInversion(mask, p.opts.Thresholds)
	defer fixed.Close()

	refined := p.refiner.Refine(fixed)
	return images.ApplyMask(src, refined, p.opts.Background.Color()), refined, inverted
}

// Process segments every image in paths and writes seg_<stem>.jpg and mask_<stem>.png files to
// out. Failures are per image: they produce an Unsegmented outcome and a diagnostic.
//
// Arguments:
//   - ctx: Stops dispatching new images when cancelled. Images in flight finish.
//   - paths: The source images.
//   - out: Destination directories.
//
// Returns:
//   - *Report: One outcome per dispatched image, in input order.
//   - error: If an output directory cannot be created, or ctx was cancelled.
func (p *Pipeline) Process(ctx context.Context, paths []string, out Output) (*Report, error) {
	for _, dir := range []string{out.SegmentedDir, out.MaskDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating output directory %s", dir)
		}
	}

	type task struct {
		pos  int
		path string
	}

	var (
		diag     selection.Diagnostics
		outcomes = make([]Outcome, len(paths))
		done     = make([]bool, len(paths))
		tasks    = make(chan task)
		wg       sync.WaitGroup
	)

	for i := 0; i < max(p.opts.Workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				o := p.processOne(t.path, out)
				if o.Err != nil {
					diag.Record(filepath.Base(t.path), o.Err)
				}
				outcomes[t.pos] = o
				done[t.pos] = true
				if p.progress != nil {
					p.progress(1)
				}
			}
		}()
	}

dispatch:
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- task{pos: i, path: path}:
		}
	}
	close(tasks)
	wg.Wait()

	report := &Report{Diagnostics: diag.Entries()}
	for i := range outcomes {
		if done[i] {
			report.Outcomes = append(report.Outcomes, outcomes[i])
		}
	}

	segmented := len(report.Segmented())
	p.logger.Info().
		Int("images", len(report.Outcomes)).
		Int("segmented", segmented).
		Int("unsegmented", len(report.Outcomes)-segmented).
		Msg("segmentation complete")

	return report, ctx.Err()
}

func (p *Pipeline) processOne(path string, out Output) Outcome {
	o := Outcome{Source: path, Unsegmented: true}
	name := filepath.Base(path)

	src, err := images.Read(path)
	if err != nil {
		src.Close()
		o.Err = errors.Wrap(selection.ErrUnreadableCandidate, err.Error())
		return o
	}
	defer src.Close()

	input := src
	if p.opts.Enhance {
		input = images.Enhance(src)
		defer input.Close()
	}

	best, level, err := p.SelectMask(input)
	if err != nil {
		p.logger.Warn().Str("image", name).Err(err).Msg("no main object")
		o.Err = err
		return o
	}
	defer best.Close()

	segmented, mask, inverted := p.Isolate(src, best)
	defer segmented.Close()
	defer mask.Close()
	if inverted {
		p.logger.Debug().Str("image", name).Msg("inverted mask")
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	segPath := filepath.Join(out.SegmentedDir, "seg_"+stem+".jpg")
	maskPath := filepath.Join(out.MaskDir, "mask_"+stem+".png")

	if err := images.Write(segPath, segmented, p.opts.JPEGQuality); err != nil {
		o.Err = errors.Wrap(selection.ErrOutputFailure, err.Error())
		return o
	}
	if err := images.Write(maskPath, mask, 0); err != nil {
		o.Err = errors.Wrap(selection.ErrOutputFailure, err.Error())
		return o
	}

	p.logger.Info().
		Str("image", name).
		Str("label", best.Label).
		Float64("importance", best.Importance).
		Float64("area", best.AreaRatio).
		Float64("centrality", best.Centrality).
		Float32("confidence", level).
		Msg("segmented")

	return Outcome{
		Source:     path,
		Segmented:  segPath,
		Mask:       maskPath,
		Confidence: level,
		Importance: best.Importance,
		AreaRatio:  best.AreaRatio,
		Centrality: best.Centrality,
		ClassID:    best.ClassID,
		Label:      best.Label,
		Inverted:   inverted,
	}
}

// ListImages returns the still images directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(selection.ErrUnreadableSource, "listing %s: %v", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}
