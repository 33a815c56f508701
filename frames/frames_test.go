package frames_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/frames"
	"github.com/nvr-ai/go-photogrammetry/images/imagetest"
	"github.com/nvr-ai/go-photogrammetry/selection"
)

func checkerboardVideo(n int, fps float64) *imagetest.Video {
	gen := imagetest.NewFrameGenerator(160, 120)
	return &imagetest.Video{
		Frames: n,
		Rate:   fps,
		Render: func(int) gocv.Mat { return gen.Checkerboard(20) },
	}
}

func TestCompositeMonotonic(t *testing.T) {
	anchors := frames.DefaultAnchors()
	base := frames.Metrics{Sharpness: 100, Contrast: 20, Exposure: 0.5, Entropy: 0.5}
	q := frames.Composite(base, anchors)

	bumps := []frames.Metrics{
		{Sharpness: 200, Contrast: 20, Exposure: 0.5, Entropy: 0.5},
		{Sharpness: 100, Contrast: 40, Exposure: 0.5, Entropy: 0.5},
		{Sharpness: 100, Contrast: 20, Exposure: 0.9, Entropy: 0.5},
		{Sharpness: 100, Contrast: 20, Exposure: 0.5, Entropy: 0.9},
	}
	for _, m := range bumps {
		assert.Greater(t, frames.Composite(m, anchors), q)
	}

	assert.Equal(t, q, frames.Composite(base, anchors))
	assert.InDelta(t, 1.0, frames.Composite(frames.Metrics{Sharpness: 1e6, Contrast: 1e6, Exposure: 1, Entropy: 1}, anchors), 1e-9)
	assert.Zero(t, frames.Composite(frames.Metrics{}, anchors))
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []int{0, 4, 9}, frames.Linspace(10, 3))
	assert.Equal(t, []int{0, 1, 2}, frames.Linspace(3, 10))
	assert.Equal(t, []int{0}, frames.Linspace(100, 1))
	assert.Nil(t, frames.Linspace(0, 5))

	idx := frames.Linspace(300, 30)
	require.Len(t, idx, 30)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 299, idx[29])
	for i := 1; i < len(idx); i++ {
		assert.Greater(t, idx[i], idx[i-1])
	}
}

func TestAutoTarget(t *testing.T) {
	cases := []struct {
		name   string
		frames int
		fps    float64
		want   int
	}{
		{"very short clamps to minimum", 90, 30, frames.MinAutoTarget},
		{"short clip two per second", 600, 30, 40},
		{"medium clip one per second", 1800, 30, 60},
		{"long clip one every two seconds", 9000, 30, 150},
		{"very long clamps to maximum", 108000, 30, frames.MaxAutoTarget},
		{"unknown fps uses fallback", 600, 0, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, frames.AutoTarget(tc.frames, tc.fps))
		})
	}
}

func TestScorerRejectsEmptyFrame(t *testing.T) {
	s := frames.Scorer{Anchors: frames.DefaultAnchors()}
	_, err := s.Score(3, 0.1, gocv.NewMat())
	assert.Error(t, err)
}

func TestScorerVerticalRotates(t *testing.T) {
	gen := imagetest.NewFrameGenerator(160, 90)
	s := frames.Scorer{Anchors: frames.DefaultAnchors(), Vertical: true}

	c, err := s.Score(0, 0, gen.Checkerboard(10))
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 90, c.Frame.Cols())
	assert.Equal(t, 160, c.Frame.Rows())
}

func TestScorerRanksTextureAboveFlat(t *testing.T) {
	gen := imagetest.NewFrameGenerator(160, 120)
	s := frames.Scorer{Anchors: frames.DefaultAnchors()}

	board, err := s.Score(0, 0, gen.Checkerboard(20))
	require.NoError(t, err)
	defer board.Release()

	black, err := s.Score(1, 0, gen.Solid(0, 0, 0))
	require.NoError(t, err)
	defer black.Release()

	white, err := s.Score(2, 0, gen.Solid(255, 255, 255))
	require.NoError(t, err)
	defer white.Release()

	assert.Greater(t, board.Quality, black.Quality)
	assert.Greater(t, board.Quality, white.Quality)
	assert.InDelta(t, 0, black.Quality, 1e-9)
	assert.InDelta(t, 0, white.Quality, 1e-9)
}

func TestSelectConstantVideo(t *testing.T) {
	video := checkerboardVideo(300, 30)
	opts := frames.DefaultOptions()
	opts.Target = 10

	progress := 0
	p := frames.New(opts, zerolog.Nop())
	p.OnProgress(func(n int) { progress += n })

	result, err := p.Select(context.Background(), video)
	require.NoError(t, err)
	defer result.Release()

	require.Len(t, result.Frames, 10)
	assert.Equal(t, selection.Normal, result.Policy.Tier)
	assert.Equal(t, 0, result.Frames[0].Index)
	assert.Equal(t, 299, result.Frames[9].Index)
	for i := 1; i < len(result.Frames); i++ {
		assert.Greater(t, result.Frames[i].Timestamp, result.Frames[i-1].Timestamp)
	}
	assert.Empty(t, result.Diagnostics)
	assert.Equal(t, video.Reads(), progress)
	assert.False(t, video.Closed(), "the caller owns the source")

	dir := t.TempDir()
	outputs, err := frames.Write(result, frames.WriteOptions{Dir: dir, JPEGQuality: 95})
	require.NoError(t, err)
	require.Len(t, outputs, 10)

	assert.Equal(t, filepath.Join(dir, "frame_001_0.00s.jpg"), outputs[0].Path)
	assert.Equal(t, filepath.Join(dir, "frame_010_9.97s.jpg"), outputs[9].Path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestSelectSampleSize(t *testing.T) {
	tests := []struct {
		name    string
		frames  int
		sampled int
	}{
		{"floor of ten", 40, 10},
		{"tenth of the timeline", 300, 30},
		{"capped at the clip", 6, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := checkerboardVideo(tt.frames, 30)
			opts := frames.DefaultOptions()
			opts.Target = 5

			result, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), video)
			require.NoError(t, err)
			defer result.Release()

			assert.Equal(t, tt.sampled, result.Sampled)
			assert.Equal(t, selection.Normal, result.Policy.Tier)
			// Statistics sample plus the over-sampled pool, which the emergency tier reuses.
			assert.Equal(t, tt.sampled+min(3*opts.Target, tt.frames), video.Reads())
		})
	}
}

func TestSelectBestEffortKeepsTopK(t *testing.T) {
	gen := imagetest.NewFrameGenerator(160, 120)
	const sampled, oversampled = 10, 15

	// Textured statistics sample, a black over-sampled pool that fails every threshold, then a
	// timeline where only every tenth frame has texture.
	reads := 0
	video := &imagetest.Video{
		Frames: 100,
		Rate:   25,
		Render: func(i int) gocv.Mat {
			reads++
			switch {
			case reads <= sampled:
				return gen.Checkerboard(20)
			case reads <= sampled+oversampled:
				return gen.Solid(0, 0, 0)
			case i%10 == 3:
				return gen.Checkerboard(20)
			}
			return gen.Solid(0, 0, 0)
		},
	}

	opts := frames.DefaultOptions()
	opts.Target = 5
	result, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), video)
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, selection.BestEffort, result.Policy.Tier)
	assert.Equal(t, opts.BestEffortFactor*opts.Target, result.Pool)
	require.Len(t, result.Frames, opts.Target)
	for _, f := range result.Frames {
		assert.Equal(t, 3, f.Index%10, "frame %d is not textured", f.Index)
	}
}

func TestSelectWorkersKeepOrder(t *testing.T) {
	opts := frames.DefaultOptions()
	opts.Target = 10

	sequential, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), checkerboardVideo(300, 30))
	require.NoError(t, err)
	defer sequential.Release()

	opts.Workers = 4
	parallel, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), checkerboardVideo(300, 30))
	require.NoError(t, err)
	defer parallel.Release()

	require.Len(t, parallel.Frames, len(sequential.Frames))
	for i := range sequential.Frames {
		assert.Equal(t, sequential.Frames[i].Index, parallel.Frames[i].Index)
	}
}

func TestSelectExcludesFlatFrames(t *testing.T) {
	gen := imagetest.NewFrameGenerator(160, 120)
	video := &imagetest.Video{
		Frames: 300,
		Rate:   30,
		Render: func(i int) gocv.Mat {
			switch {
			case i >= 100 && i < 130:
				return gen.Solid(0, 0, 0)
			case i >= 200 && i < 215:
				return gen.Solid(255, 255, 255)
			}
			return gen.Checkerboard(20)
		},
	}

	opts := frames.DefaultOptions()
	opts.Target = 10
	result, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), video)
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, selection.Normal, result.Policy.Tier)
	require.NotEmpty(t, result.Frames)
	for _, f := range result.Frames {
		flat := (f.Index >= 100 && f.Index < 130) || (f.Index >= 200 && f.Index < 215)
		assert.False(t, flat, "frame %d is a flat frame", f.Index)
	}
}

func TestSelectSkipsBrokenFrames(t *testing.T) {
	video := checkerboardVideo(300, 30)
	video.Broken = map[int]bool{0: true, 10: true}

	opts := frames.DefaultOptions()
	opts.Target = 10
	result, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), video)
	require.NoError(t, err)
	defer result.Release()

	require.NotEmpty(t, result.Diagnostics)
	for _, d := range result.Diagnostics {
		assert.True(t, errors.Is(d.Err, selection.ErrUnreadableCandidate))
	}
	for _, f := range result.Frames {
		assert.NotContains(t, []int{0, 10}, f.Index)
	}
}

func TestSelectNothingDecodes(t *testing.T) {
	video := &imagetest.Video{
		Frames: 50,
		Rate:   25,
		Render: func(int) gocv.Mat { return gocv.NewMat() },
	}

	opts := frames.DefaultOptions()
	opts.Target = 5
	_, err := frames.New(opts, zerolog.Nop()).Select(context.Background(), video)
	assert.ErrorIs(t, err, selection.ErrNoCandidates)
}

func TestSelectEmptySource(t *testing.T) {
	_, err := frames.New(frames.DefaultOptions(), zerolog.Nop()).Select(context.Background(), checkerboardVideo(0, 30))
	assert.ErrorIs(t, err, selection.ErrUnreadableSource)
}

func TestSelectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := frames.New(frames.DefaultOptions(), zerolog.Nop()).Select(ctx, checkerboardVideo(100, 30))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.avi")
	writer, err := gocv.VideoWriterFile(path, "MJPG", 10, 160, 120, true)
	require.NoError(t, err)
	if !writer.IsOpened() {
		writer.Close()
		t.Skip("MJPG writer unavailable")
	}
	gen := imagetest.NewFrameGenerator(160, 120)
	for i := 0; i < 20; i++ {
		frame := gen.Checkerboard(10 + i)
		require.NoError(t, writer.Write(frame))
		frame.Close()
	}
	require.NoError(t, writer.Close())

	video, err := frames.OpenVideo(path)
	require.NoError(t, err)
	defer video.Close()

	assert.Equal(t, path, video.Path())
	width, height := video.Size()
	assert.Equal(t, 160, width)
	assert.Equal(t, 120, height)
	assert.Equal(t, 20, video.FrameCount())
	assert.InDelta(t, 10, video.FPS(), 0.01)

	frame, err := video.ReadAt(7)
	require.NoError(t, err)
	defer frame.Close()
	assert.Equal(t, 120, frame.Rows())
}

func TestOpenVideoMissingFile(t *testing.T) {
	_, err := frames.OpenVideo(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, selection.ErrUnreadableSource)
}

func TestFileName(t *testing.T) {
	c := &frames.Candidate{Index: 299, Timestamp: 299.0 / 30, Quality: 0.51234}
	assert.Equal(t, "frame_010_9.97s.jpg", frames.FileName(10, c, false))
	assert.Equal(t, "frame_010_9.97s_q0.512.jpg", frames.FileName(10, c, true))
}
