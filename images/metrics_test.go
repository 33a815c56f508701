package images_test

import (
	"testing"

	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/images/imagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposure(t *testing.T) {
	var mid images.Histogram
	mid[128] = 1
	assert.Equal(t, 1.0, images.Exposure(mid))

	var dark images.Histogram
	dark[0] = 1
	assert.Equal(t, 0.0, images.Exposure(dark))

	var bright images.Histogram
	bright[255] = 1
	assert.Equal(t, 0.0, images.Exposure(bright))

	var mixed images.Histogram
	mixed[10] = 0.1
	mixed[240] = 0.1
	mixed[128] = 0.8
	assert.InDelta(t, 0.6, images.Exposure(mixed), 1e-9)
}

func TestEntropy(t *testing.T) {
	var single images.Histogram
	single[42] = 1
	assert.Equal(t, 0.0, images.Entropy(single))

	var uniform images.Histogram
	for i := range uniform {
		uniform[i] = 1.0 / 256
	}
	assert.InDelta(t, 1.0, images.Entropy(uniform), 1e-9)

	var two images.Histogram
	two[0], two[255] = 0.5, 0.5
	assert.InDelta(t, 1.0/8, images.Entropy(two), 1e-9)
}

func TestSolidFrameMetrics(t *testing.T) {
	gen := imagetest.NewFrameGenerator(64, 48)

	black := gen.Solid(0, 0, 0)
	defer black.Close()
	gray := images.ToGray(black)
	defer gray.Close()

	assert.InDelta(t, 0, images.Sharpness(gray), 1e-9)
	assert.InDelta(t, 0, images.Contrast(gray), 1e-9)

	hist, err := images.IntensityHistogram(gray)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hist[0], 1e-9)
	assert.Less(t, images.Exposure(hist), 0.2)
	assert.Equal(t, 0.0, images.Entropy(hist))
}

func TestCheckerboardIsSharperThanSolid(t *testing.T) {
	gen := imagetest.NewFrameGenerator(64, 64)

	board := gen.Checkerboard(8)
	defer board.Close()
	boardGray := images.ToGray(board)
	defer boardGray.Close()

	flat := gen.Solid(128, 128, 128)
	defer flat.Close()
	flatGray := images.ToGray(flat)
	defer flatGray.Close()

	assert.Greater(t, images.Sharpness(boardGray), images.Sharpness(flatGray))
	assert.Greater(t, images.Contrast(boardGray), 60.0)
	assert.Equal(t, 1, boardGray.Channels())
}

func TestSimilarity(t *testing.T) {
	gen := imagetest.NewFrameGenerator(64, 64)

	a := gen.Stripes(8, 0)
	defer a.Close()
	b := gen.Stripes(8, 0)
	defer b.Close()

	same, err := images.Similarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	red := gen.Solid(0, 0, 220)
	defer red.Close()
	blue := gen.Solid(220, 0, 0)
	defer blue.Close()

	different, err := images.Similarity(red, blue)
	require.NoError(t, err)
	assert.Less(t, different, 0.85)
}
