package masks_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/images/imagetest"
	"github.com/nvr-ai/go-photogrammetry/inference"
	"github.com/nvr-ai/go-photogrammetry/masks"
	"github.com/nvr-ai/go-photogrammetry/selection"
)

const size = 200

var (
	white = color.RGBA{R: 255, G: 255, B: 255}
	black = color.RGBA{}
)

func centeredSquare(conf float32) inference.Proposal {
	gen := imagetest.NewMaskGenerator(size, size)
	side := imagetest.SquareSide(size, size, 0.3)
	x := (size - side) / 2
	return inference.Proposal{
		Mask:       gen.CenteredSquare(0.3),
		Confidence: conf,
		Box:        images.Rect{X1: x, Y1: x, X2: x + side, Y2: x + side},
		ClassID:    75,
		Label:      "vase",
	}
}

func borderFrame(conf float32) inference.Proposal {
	return inference.Proposal{
		Mask:       imagetest.NewMaskGenerator(size, size).Frame(40),
		Confidence: conf,
		Box:        images.Rect{X2: size, Y2: size},
	}
}

// fakeSegmenter answers Detect through a function of the image and confidence.
type fakeSegmenter struct {
	mu     sync.Mutex
	levels []float32
	detect func(img gocv.Mat, confidence float32) ([]inference.Proposal, error)
}

func (f *fakeSegmenter) Detect(img gocv.Mat, confidence float32) ([]inference.Proposal, error) {
	f.mu.Lock()
	f.levels = append(f.levels, confidence)
	f.mu.Unlock()
	return f.detect(img, confidence)
}

func (f *fakeSegmenter) Close() error { return nil }

func (f *fakeSegmenter) calls() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float32(nil), f.levels...)
}

func TestAreaScore(t *testing.T) {
	cases := []struct {
		ratio float64
		want  float64
	}{
		{0, 0},
		{0.05, 0.5},
		{0.1, 1},
		{0.4, 1},
		{0.7, 1},
		{0.85, 0.5},
		{1, 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, masks.AreaScore(tc.ratio), 1e-9, "ratio %.2f", tc.ratio)
	}
}

func TestScoreCenteredSquare(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds(), PreferCentered: true}
	p := centeredSquare(0.9)
	defer p.Close()

	c := s.Score(p)
	assert.True(t, c.Valid())
	assert.False(t, c.Background)
	assert.Greater(t, c.Centrality, 0.9)
	assert.InDelta(t, 0.3, c.AreaRatio, 0.01)
	assert.Equal(t, 1.0, c.BorderPenalty)
	assert.InDelta(t, 1.0, c.ShapeScore, 1e-9)
	assert.Greater(t, c.Importance, 0.8)
}

func TestScoreBorderFrameIsBackground(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds()}
	p := borderFrame(0.99)
	defer p.Close()

	c := s.Score(p)
	assert.True(t, c.Background)
	assert.Zero(t, c.Importance)
	assert.False(t, c.Valid())
	assert.Greater(t, c.EdgeRatio, 0.7)
	assert.Less(t, c.CenterFill, 0.3)
	assert.Greater(t, c.AreaRatio, 0.6)
}

func TestScoreLargeMaskWithFilledCenter(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds()}
	p := inference.Proposal{
		Mask:       imagetest.NewMaskGenerator(size, size).Rect(image.Rect(0, 0, size, 190)),
		Confidence: 0.8,
		Box:        images.Rect{X2: size, Y2: 190},
	}
	defer p.Close()

	c := s.Score(p)
	assert.False(t, c.Background)
	assert.True(t, c.Valid())
	assert.InDelta(t, 0.95, c.AreaRatio, 1e-9)
	assert.Equal(t, 0.7, c.BorderPenalty)
}

func TestScoreTooSmall(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds()}
	p := inference.Proposal{Mask: imagetest.NewMaskGenerator(size, size).CenteredSquare(0.02), Confidence: 1}
	defer p.Close()

	c := s.Score(p)
	assert.True(t, c.TooSmall)
	assert.False(t, c.Valid())
}

func TestBestPrefersCenteredObjectOverBorder(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds(), PreferCentered: true}

	best, scored := s.Best([]inference.Proposal{borderFrame(0.95), centeredSquare(0.6)})
	require.NotNil(t, best)
	defer best.Close()

	require.Len(t, scored, 2)
	assert.True(t, scored[0].Background)
	assert.Equal(t, scored[1].Importance, best.Importance)
	assert.Greater(t, best.Centrality, 0.9)
}

func TestBestNoValidCandidate(t *testing.T) {
	s := masks.Scorer{Thresholds: masks.DefaultThresholds()}
	best, scored := s.Best([]inference.Proposal{borderFrame(0.9)})
	assert.Nil(t, best)
	assert.Len(t, scored, 1)

	best, scored = s.Best(nil)
	assert.Nil(t, best)
	assert.Empty(t, scored)
}

func TestLevels(t *testing.T) {
	opts := masks.DefaultOptions()
	levels := opts.Levels()
	require.Len(t, levels, 4)
	assert.InDelta(t, 0.3, levels[0], 1e-6)
	assert.InDelta(t, 0.12, levels[3], 1e-6)

	opts.Adaptive = false
	assert.Equal(t, []float32{0.3}, opts.Levels())
}

func TestSelectMaskCascade(t *testing.T) {
	seg := &fakeSegmenter{detect: func(_ gocv.Mat, conf float32) ([]inference.Proposal, error) {
		if conf > 0.15 {
			return []inference.Proposal{borderFrame(conf)}, nil
		}
		return []inference.Proposal{centeredSquare(conf)}, nil
	}}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	img := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer img.Close()

	best, level, err := p.SelectMask(img)
	require.NoError(t, err)
	defer best.Close()

	assert.InDelta(t, 0.12, level, 1e-6)
	assert.Len(t, seg.calls(), 4)
}

func TestSelectMaskStopsAtFirstValidLevel(t *testing.T) {
	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) {
		return []inference.Proposal{centeredSquare(0.9)}, nil
	}}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	img := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer img.Close()

	best, _, err := p.SelectMask(img)
	require.NoError(t, err)
	defer best.Close()
	assert.Len(t, seg.calls(), 1)
}

func TestSelectMaskNonAdaptive(t *testing.T) {
	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) { return nil, nil }}
	opts := masks.DefaultOptions()
	opts.Adaptive = false
	p := masks.New(seg, opts, zerolog.Nop())
	defer p.Close()

	img := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer img.Close()

	_, _, err := p.SelectMask(img)
	assert.ErrorIs(t, err, selection.ErrNoValidObject)
	assert.Len(t, seg.calls(), 1)
}

func TestSelectMaskInferenceFailure(t *testing.T) {
	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) {
		return nil, errors.New("session run failed")
	}}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	img := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer img.Close()

	_, _, err := p.SelectMask(img)
	assert.ErrorIs(t, err, selection.ErrInferenceFailure)
	assert.Len(t, seg.calls(), 1)
}

func TestFixInversion(t *testing.T) {
	gen := imagetest.NewMaskGenerator(size, size)
	thresholds := masks.DefaultThresholds()

	square := gen.CenteredSquare(0.15)
	defer square.Close()
	inverted := images.InvertMask(square)
	defer inverted.Close()

	fixed, ok := masks.FixInversion(inverted, thresholds)
	defer fixed.Close()
	assert.True(t, ok)
	assert.InDelta(t, images.FillRatio(square), images.FillRatio(fixed), 1e-9)

	full := gen.Full()
	defer full.Close()
	kept, ok := masks.FixInversion(full, thresholds)
	defer kept.Close()
	assert.False(t, ok)
	assert.Equal(t, 1.0, images.FillRatio(kept))

	normal := gen.CenteredSquare(0.3)
	defer normal.Close()
	same, ok := masks.FixInversion(normal, thresholds)
	defer same.Close()
	assert.False(t, ok)
}

func TestIsolateBackground(t *testing.T) {
	seg := &fakeSegmenter{}
	opts := masks.DefaultOptions()
	opts.Background = masks.BackgroundNeutral
	p := masks.New(seg, opts, zerolog.Nop())
	defer p.Close()

	src := imagetest.NewFrameGenerator(size, size).Solid(10, 200, 30)
	defer src.Close()

	c := masks.Candidate{Proposal: centeredSquare(0.9)}
	defer c.Close()

	out, mask, inverted := p.Isolate(src, &c)
	defer out.Close()
	defer mask.Close()

	assert.False(t, inverted)
	inside := out.GetVecbAt(size/2, size/2)
	assert.Equal(t, []uint8{10, 200, 30}, []uint8{inside[0], inside[1], inside[2]})
	outside := out.GetVecbAt(2, 2)
	assert.Equal(t, []uint8{128, 128, 128}, []uint8{outside[0], outside[1], outside[2]})
}

func writeImage(t *testing.T, path string, img gocv.Mat) {
	t.Helper()
	defer img.Close()
	require.NoError(t, images.Write(path, img, 95))
}

func TestProcess(t *testing.T) {
	in := t.TempDir()
	gen := imagetest.NewFrameGenerator(size, size)
	side := imagetest.SquareSide(size, size, 0.3)

	writeImage(t, filepath.Join(in, "object.jpg"), gen.WithSquare(black, white, size/2, size/2, side))
	writeImage(t, filepath.Join(in, "plain.png"), gen.Solid(90, 90, 90))
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.jpg"), []byte("not an image"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("ignored"), 0o644))

	paths, err := masks.ListImages(in)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	// Proposes the centred square only when the image has a bright centre.
	seg := &fakeSegmenter{detect: func(img gocv.Mat, conf float32) ([]inference.Proposal, error) {
		if img.GetVecbAt(size/2, size/2)[0] < 200 {
			return nil, nil
		}
		return []inference.Proposal{borderFrame(0.9), centeredSquare(0.7)}, nil
	}}

	opts := masks.DefaultOptions()
	opts.Workers = 2
	p := masks.New(seg, opts, zerolog.Nop())
	defer p.Close()

	finished := 0
	var mu sync.Mutex
	p.OnProgress(func(n int) {
		mu.Lock()
		finished += n
		mu.Unlock()
	})

	out := masks.Output{SegmentedDir: filepath.Join(t.TempDir(), "seg"), MaskDir: filepath.Join(t.TempDir(), "mask")}
	report, err := p.Process(context.Background(), paths, out)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, 3, finished)

	// ListImages sorts: broken.jpg, object.jpg, plain.png.
	broken, object, plain := report.Outcomes[0], report.Outcomes[1], report.Outcomes[2]

	assert.True(t, broken.Unsegmented)
	assert.ErrorIs(t, broken.Err, selection.ErrUnreadableCandidate)

	require.False(t, object.Unsegmented)
	assert.Equal(t, filepath.Join(out.SegmentedDir, "seg_object.jpg"), object.Segmented)
	assert.Equal(t, filepath.Join(out.MaskDir, "mask_object.png"), object.Mask)
	assert.FileExists(t, object.Segmented)
	assert.FileExists(t, object.Mask)
	assert.Greater(t, object.Centrality, 0.9)
	assert.Equal(t, "vase", object.Label)

	assert.True(t, plain.Unsegmented)
	assert.ErrorIs(t, plain.Err, selection.ErrNoValidObject)

	assert.Equal(t, []string{object.Segmented}, report.Segmented())
	assert.Len(t, report.Unsegmented(), 2)
	assert.Len(t, report.Diagnostics, 2)

	mask, err := images.Read(object.Mask)
	require.NoError(t, err)
	defer mask.Close()
	assert.Equal(t, size, mask.Rows())
}

func TestProcessCancelled(t *testing.T) {
	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) { return nil, nil }}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := masks.Output{SegmentedDir: t.TempDir(), MaskDir: t.TempDir()}
	report, err := p.Process(ctx, []string{"a.jpg", "b.jpg"}, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, seg.calls())
	assert.LessOrEqual(t, len(report.Outcomes), 2)
}

func TestProcessWriteFailure(t *testing.T) {
	in := t.TempDir()
	gen := imagetest.NewFrameGenerator(size, size)
	writeImage(t, filepath.Join(in, "object.jpg"), gen.Solid(90, 90, 90))

	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) {
		return []inference.Proposal{centeredSquare(0.9)}, nil
	}}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	out := masks.Output{SegmentedDir: t.TempDir(), MaskDir: t.TempDir()}
	// A directory squatting on the output name makes the write fail.
	require.NoError(t, os.Mkdir(filepath.Join(out.SegmentedDir, "seg_object.jpg"), 0o755))

	report, err := p.Process(context.Background(), []string{filepath.Join(in, "object.jpg")}, out)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	o := report.Outcomes[0]
	assert.True(t, o.Unsegmented)
	assert.ErrorIs(t, o.Err, selection.ErrOutputFailure)
	assert.NotErrorIs(t, o.Err, selection.ErrUnreadableCandidate)
}

func TestSelectMaskClosesProposalsOnFailure(t *testing.T) {
	var returned []inference.Proposal
	seg := &fakeSegmenter{detect: func(gocv.Mat, float32) ([]inference.Proposal, error) {
		returned = []inference.Proposal{centeredSquare(0.9)}
		return returned, errors.New("device lost")
	}}
	p := masks.New(seg, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	img := imagetest.NewFrameGenerator(size, size).Solid(0, 0, 0)
	defer img.Close()

	_, _, err := p.SelectMask(img)
	assert.ErrorIs(t, err, selection.ErrInferenceFailure)
	assert.Len(t, seg.calls(), 1)
	require.Len(t, returned, 1)
	// Closing a Mat resets it to the zero value.
	assert.Equal(t, gocv.Mat{}, returned[0].Mask)
}

func TestIsolateResizesMask(t *testing.T) {
	p := masks.New(&fakeSegmenter{}, masks.DefaultOptions(), zerolog.Nop())
	defer p.Close()

	src := imagetest.NewFrameGenerator(2*size, 2*size).Solid(10, 200, 30)
	defer src.Close()

	c := masks.Candidate{Proposal: centeredSquare(0.9)}
	defer c.Close()

	out, mask, _ := p.Isolate(src, &c)
	defer out.Close()
	defer mask.Close()

	assert.Equal(t, 2*size, mask.Rows())
	assert.Equal(t, uint8(255), mask.GetUCharAt(size, size))
	assert.Equal(t, uint8(0), mask.GetUCharAt(2, 2))
}

func TestListImagesMissingDir(t *testing.T) {
	_, err := masks.ListImages(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, selection.ErrUnreadableSource)
}
