package inference

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// letterboxFill is the grey used for padding, matching YOLO training.
const letterboxFill = 114.0 / 255.0

// Letterbox maps between source image coordinates and a square model input that holds the
// aspect-preserving resize of the source, centred and padded.
type Letterbox struct {
	// Scale is the source-to-input resize factor.
	Scale float64
	// PadX and PadY are the left and top padding in input pixels.
	PadX, PadY int
	// Size is the side of the square model input.
	Size int
	// SrcW and SrcH are the source dimensions.
	SrcW, SrcH int
}

// NewLetterbox computes the letterbox geometry for a srcW x srcH image into a size x size input.
func NewLetterbox(srcW, srcH, size int) Letterbox {
	scale := math.Min(float64(size)/float64(srcW), float64(size)/float64(srcH))
	w, h := scaled(srcW, scale), scaled(srcH, scale)
	return Letterbox{
		Scale: scale,
		PadX:  (size - w) / 2,
		PadY:  (size - h) / 2,
		Size:  size,
		SrcW:  srcW,
		SrcH:  srcH,
	}
}

// Content returns the input-space rectangle holding image data.
func (l Letterbox) Content() image.Rectangle {
	return image.Rect(l.PadX, l.PadY, l.PadX+scaled(l.SrcW, l.Scale), l.PadY+scaled(l.SrcH, l.Scale))
}

// ToSource maps an input-space point to source coordinates, clamped to the source bounds.
func (l Letterbox) ToSource(x, y float64) (float64, float64) {
	sx := (x - float64(l.PadX)) / l.Scale
	sy := (y - float64(l.PadY)) / l.Scale
	return clamp(sx, 0, float64(l.SrcW)), clamp(sy, 0, float64(l.SrcH))
}

func scaled(v int, scale float64) int {
	s := int(math.Round(float64(v) * scale))
	if s < 1 {
		s = 1
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// PrepareInput letterboxes img into dst as a planar RGB tensor scaled to [0, 1], the layout YOLO
// style models expect ([1, 3, size, size]).
//
// Arguments:
//   - img: The image to prepare.
//   - size: The side of the square model input.
//   - dst: The destination tensor data to populate.
//
// Returns:
//   - Letterbox: The geometry used, for mapping results back.
//   - error: An error if the input preparation fails.
func PrepareInput(img image.Image, size int, dst []float32) (Letterbox, error) {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return Letterbox{}, fmt.Errorf("destination tensor only holds %d floats, needs "+
			"%d (make sure it's the right shape!)", len(dst), channelSize*3)
	}
	b := img.Bounds()
	if b.Empty() {
		return Letterbox{}, fmt.Errorf("empty image")
	}

	lb := NewLetterbox(b.Dx(), b.Dy(), size)
	content := lb.Content()

	for i := range dst[:channelSize*3] {
		dst[i] = letterboxFill
	}

	resized := resize.Resize(uint(content.Dx()), uint(content.Dy()), img, resize.Bilinear)
	rb := resized.Bounds()

	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	for y := 0; y < content.Dy(); y++ {
		row := (content.Min.Y + y) * size
		for x := 0; x < content.Dx(); x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			i := row + content.Min.X + x
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
		}
	}
	return lb, nil
}
