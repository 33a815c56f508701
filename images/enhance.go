package images

import (
	"image"

	"gocv.io/x/gocv"
)

// Enhance boosts local contrast and edges to help a detector on flat, low-light captures: CLAHE
// on the L channel in Lab space, then a 3x3 sharpening kernel.
func Enhance(bgr gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(3.0, image.Pt(8, 8))
	defer clahe.Close()
	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(channels[0], &equalized)
	equalized.CopyTo(&channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	restored := gocv.NewMat()
	defer restored.Close()
	gocv.CvtColor(merged, &restored, gocv.ColorLabToBGR)

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			kernel.SetFloatAt(y, x, -1)
		}
	}
	kernel.SetFloatAt(1, 1, 9)

	out := gocv.NewMat()
	gocv.Filter2D(restored, &out, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return out
}
