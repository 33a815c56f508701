// Package imagetest - Deterministic synthetic frames, masks and videos for tests.
package imagetest

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// FrameGenerator creates deterministic BGR test frames.
//
// @example
// gen := NewFrameGenerator(320, 240)
// frame := gen.Solid(128, 128, 128)
// defer frame.Close()
type FrameGenerator struct {
	Width  int
	Height int
}

// NewFrameGenerator creates a new frame generator with specified dimensions.
func NewFrameGenerator(width, height int) *FrameGenerator {
	return &FrameGenerator{Width: width, Height: height}
}

// Solid returns a frame filled with one BGR colour.
func (g *FrameGenerator) Solid(b, gr, r uint8) gocv.Mat {
	frame := gocv.NewMatWithSize(g.Height, g.Width, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(float64(b), float64(gr), float64(r), 0))
	return frame
}

// Checkerboard returns a black and white board with square cells of the given size. It has
// strong edges, high contrast and balanced exposure.
func (g *FrameGenerator) Checkerboard(cell int) gocv.Mat {
	frame := g.Solid(40, 40, 40)
	for y := 0; y < g.Height; y += cell {
		for x := 0; x < g.Width; x += cell {
			if (x/cell+y/cell)%2 == 0 {
				continue
			}
			gocv.Rectangle(&frame, image.Rect(x, y, x+cell, y+cell), color.RGBA{215, 215, 215, 0}, -1)
		}
	}
	return frame
}

// Stripes returns vertical bars cycling through hues. Offset shifts the pattern so consecutive
// offsets give distinct colour distributions.
func (g *FrameGenerator) Stripes(width, offset int) gocv.Mat {
	palette := []color.RGBA{
		{200, 40, 40, 0}, {40, 200, 40, 0}, {40, 40, 200, 0},
		{200, 200, 40, 0}, {40, 200, 200, 0}, {200, 40, 200, 0},
	}
	frame := g.Solid(120, 120, 120)
	for i, x := 0, 0; x < g.Width; i, x = i+1, x+width {
		c := palette[(i+offset)%len(palette)]
		gocv.Rectangle(&frame, image.Rect(x, 0, x+width, g.Height), c, -1)
	}
	return frame
}

// WithSquare returns a solid background with a filled square of side size centered at (cx, cy).
func (g *FrameGenerator) WithSquare(bg, fg color.RGBA, cx, cy, size int) gocv.Mat {
	frame := g.Solid(bg.B, bg.G, bg.R)
	half := size / 2
	gocv.Rectangle(&frame, image.Rect(cx-half, cy-half, cx-half+size, cy-half+size), fg, -1)
	return frame
}

// MaskGenerator creates single-channel 0/255 masks.
type MaskGenerator struct {
	Width  int
	Height int
}

// NewMaskGenerator creates a new mask generator with specified dimensions.
func NewMaskGenerator(width, height int) *MaskGenerator {
	return &MaskGenerator{Width: width, Height: height}
}

// Empty returns an all-background mask.
func (g *MaskGenerator) Empty() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), g.Height, g.Width, gocv.MatTypeCV8UC1)
}

// Full returns an all-foreground mask.
func (g *MaskGenerator) Full() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), g.Height, g.Width, gocv.MatTypeCV8UC1)
}

// Rect returns a mask with r filled.
func (g *MaskGenerator) Rect(r image.Rectangle) gocv.Mat {
	mask := g.Empty()
	gocv.Rectangle(&mask, r, color.RGBA{255, 255, 255, 0}, -1)
	return mask
}

// CenteredSquare returns a square mask covering approximately areaRatio of the image, centered.
func (g *MaskGenerator) CenteredSquare(areaRatio float64) gocv.Mat {
	side := SquareSide(g.Width, g.Height, areaRatio)
	x := (g.Width - side) / 2
	y := (g.Height - side) / 2
	return g.Rect(image.Rect(x, y, x+side, y+side))
}

// Frame returns a mask whose foreground is a band of the given thickness along all four borders.
func (g *MaskGenerator) Frame(thickness int) gocv.Mat {
	mask := g.Full()
	inner := image.Rect(thickness, thickness, g.Width-thickness, g.Height-thickness)
	gocv.Rectangle(&mask, inner, color.RGBA{0, 0, 0, 0}, -1)
	return mask
}

// SquareSide returns the side of a square covering areaRatio of a width x height image.
func SquareSide(width, height int, areaRatio float64) int {
	side := 0
	for (side+1)*(side+1) <= int(areaRatio*float64(width*height)) {
		side++
	}
	return side
}

// Video is an in-memory frame source. Render is called on every read, so each ReadAt returns a
// fresh Mat owned by the caller.
type Video struct {
	Frames int
	Rate   float64
	Render func(index int) gocv.Mat
	// Broken lists indices whose reads fail.
	Broken map[int]bool

	mu     sync.Mutex
	reads  int
	closed bool
}

// FrameCount returns the number of frames.
func (v *Video) FrameCount() int { return v.Frames }

// FPS returns the frame rate.
func (v *Video) FPS() float64 { return v.Rate }

// ReadAt renders frame index.
func (v *Video) ReadAt(index int) (gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return gocv.NewMat(), fmt.Errorf("video closed")
	}
	v.reads++
	if index < 0 || index >= v.Frames || v.Broken[index] {
		return gocv.NewMat(), fmt.Errorf("cannot decode frame %d", index)
	}
	return v.Render(index), nil
}

// Close marks the video closed.
func (v *Video) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Reads returns how many ReadAt calls were made.
func (v *Video) Reads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reads
}

// Closed reports whether Close was called.
func (v *Video) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
