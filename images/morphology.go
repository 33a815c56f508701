package images

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// MaskRefiner smooths a binary foreground mask before it is applied to its source image:
//
//  1. Close with a small ellipse to bridge one-pixel gaps.
//  2. Open with the same ellipse to drop speckles.
//  3. Close with a larger ellipse to fill small holes inside the object.
//
// The structuring elements are allocated once. A refiner is safe for concurrent use because
// Refine only reads the kernels. Always call Close() to release them.
type MaskRefiner struct {
	Small gocv.Mat // 3x3 ellipse
	Large gocv.Mat // 5x5 ellipse
}

// NewMaskRefiner allocates the structuring elements.
func NewMaskRefiner() *MaskRefiner {
	return &MaskRefiner{
		Small: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3)),
		Large: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5)),
	}
}

// Refine returns a smoothed copy of mask.
func (r *MaskRefiner) Refine(mask gocv.Mat) gocv.Mat {
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, r.Small)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, r.Small)

	out := gocv.NewMat()
	gocv.MorphologyEx(opened, &out, gocv.MorphClose, r.Large)
	return out
}

// Close releases the structuring elements.
func (r *MaskRefiner) Close() {
	r.Small.Close()
	r.Large.Close()
}

// Binarize maps every pixel of a single-channel mask above threshold to 255 and the rest to 0.
func Binarize(mask gocv.Mat, threshold float32) gocv.Mat {
	out := gocv.NewMat()
	gocv.Threshold(mask, &out, threshold, 255, gocv.ThresholdBinary)
	return out
}

// InvertMask returns the logical inverse of a 0/255 mask.
func InvertMask(mask gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.BitwiseNot(mask, &out)
	return out
}

// ApplyMask copies the foreground of src onto a canvas filled with background. Pass
// color.RGBA{} for a zeroed background.
func ApplyMask(src, mask gocv.Mat, background color.RGBA) gocv.Mat {
	out := gocv.NewMatWithSize(src.Rows(), src.Cols(), src.Type())
	out.SetTo(gocv.NewScalar(float64(background.B), float64(background.G), float64(background.R), 0))
	src.CopyToWithMask(&out, mask)
	return out
}
