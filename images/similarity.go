package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// HSV histogram layout used for frame similarity.
var (
	hsvBins   = []int{50, 60, 60}
	hsvRanges = []float64{0, 180, 0, 256, 0, 256}
)

// ColorHistogram computes the min-max normalised 50x60x60 HSV histogram of a BGR image.
//
// The result is large (180k bins) so callers comparing many frames should compute it once per
// frame and Close it when the frame is released.
func ColorHistogram(bgr gocv.Mat) (gocv.Mat, error) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()

	hist := gocv.NewMat()
	if err := gocv.CalcHist([]gocv.Mat{hsv}, []int{0, 1, 2}, mask, &hist, hsvBins, hsvRanges, false); err != nil {
		hist.Close()
		return gocv.NewMat(), errors.Wrap(err, "computing hsv histogram")
	}
	gocv.Normalize(hist, &hist, 0, 1, gocv.NormMinMax)
	return hist, nil
}

// CompareHistograms correlates two histograms from ColorHistogram. The result is in [-1,1]
// with 1 for identical distributions.
func CompareHistograms(a, b gocv.Mat) float64 {
	return float64(gocv.CompareHist(a, b, gocv.HistCmpCorrel))
}

// Similarity is a convenience that builds both histograms and compares them.
func Similarity(a, b gocv.Mat) (float64, error) {
	ha, err := ColorHistogram(a)
	if err != nil {
		return 0, err
	}
	defer ha.Close()
	hb, err := ColorHistogram(b)
	if err != nil {
		return 0, err
	}
	defer hb.Close()
	return CompareHistograms(ha, hb), nil
}
