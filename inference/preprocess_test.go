package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLetterbox(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640)
	assert.InDelta(t, 0.5, lb.Scale, 1e-9)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 140, lb.PadY)
	assert.Equal(t, image.Rect(0, 140, 640, 500), lb.Content())

	lb = NewLetterbox(300, 600, 640)
	assert.InDelta(t, 640.0/600.0, lb.Scale, 1e-9)
	assert.Equal(t, 160, lb.PadX)
	assert.Equal(t, 0, lb.PadY)
}

func TestLetterboxToSource(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640)

	x, y := lb.ToSource(320, 320)
	assert.InDelta(t, 640, x, 1e-9)
	assert.InDelta(t, 360, y, 1e-9)

	// Points in the padding clamp to the source edge.
	x, y = lb.ToSource(0, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	x, y = lb.ToSource(640, 640)
	assert.InDelta(t, 1280, x, 1e-9)
	assert.InDelta(t, 720, y, 1e-9)
}

func TestPrepareInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	const size = 32
	dst := make([]float32, 3*size*size)
	lb, err := PrepareInput(img, size, dst)
	require.NoError(t, err)
	assert.Equal(t, 8, lb.PadY)

	red := dst[:size*size]
	green := dst[size*size : 2*size*size]

	// Padding rows hold the fill grey, content rows hold the image.
	assert.InDelta(t, letterboxFill, red[0], 1e-6)
	assert.InDelta(t, letterboxFill, green[0], 1e-6)
	mid := 16*size + 16
	assert.InDelta(t, 1.0, red[mid], 1e-6)
	assert.InDelta(t, 0.0, green[mid], 1e-6)
}

func TestPrepareInputShortBuffer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	_, err := PrepareInput(img, 640, make([]float32, 10))
	assert.Error(t, err)
}
