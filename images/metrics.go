// Package images - Image quality metrics, histogram similarity and binary-mask geometry built on
// gocv.
//
// Every function that produces a gocv.Mat hands ownership to the caller, who must Close it.
// Functions taking a Mat never retain it.
package images

import (
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	// exposureBins is the width of the dark and bright bands of the 256-bin intensity histogram.
	exposureBins = 21
	// maxEntropyBits is the entropy of a uniform 256-bin histogram.
	maxEntropyBits = 8.0
)

// Histogram is a 256-bin intensity histogram normalised to fractions of the pixel count.
type Histogram [256]float64

// ToGray returns a single-channel copy of src. BGR and BGRA inputs are converted, single-channel
// inputs are copied.
func ToGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

// Sharpness returns the variance of the Laplacian of a grayscale image. Higher values mean
// crisper edges.
func Sharpness(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	std := stdDev(lap)
	return std * std
}

// Contrast returns the standard deviation of grayscale intensities.
func Contrast(gray gocv.Mat) float64 {
	return stdDev(gray)
}

func stdDev(src gocv.Mat) float64 {
	mean := gocv.NewMat()
	defer mean.Close()
	std := gocv.NewMat()
	defer std.Close()
	gocv.MeanStdDev(src, &mean, &std)
	if std.Empty() {
		return 0
	}
	return std.GetDoubleAt(0, 0)
}

// IntensityHistogram computes the normalised 256-bin histogram of a grayscale image.
//
// Arguments:
//   - gray: A single-channel 8-bit image.
//
// Returns:
//   - Histogram: Bin fractions summing to 1 for a non-empty image.
//   - error: If OpenCV fails to compute the histogram.
func IntensityHistogram(gray gocv.Mat) (Histogram, error) {
	var out Histogram
	total := float64(gray.Rows() * gray.Cols())
	if total == 0 {
		return out, nil
	}

	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	err := gocv.CalcHist([]gocv.Mat{gray}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)
	if err != nil {
		return out, errors.Wrap(err, "computing intensity histogram")
	}

	for i := range out {
		out[i] = float64(hist.GetFloatAt(i, 0)) / total
	}
	return out, nil
}

// Exposure scores how well exposed an image is from its intensity histogram: 1 minus twice the
// share of pixels in the darkest and brightest 21 bins, floored at 0.
func Exposure(h Histogram) float64 {
	clipped := 0.0
	for i := 0; i < exposureBins; i++ {
		clipped += h[i] + h[len(h)-1-i]
	}
	return math.Max(0, 1-2*clipped)
}

// Entropy returns the Shannon entropy of the histogram in bits divided by 8, capped at 1.
func Entropy(h Histogram) float64 {
	bits := 0.0
	for _, p := range h {
		if p > 0 {
			bits -= p * math.Log2(p)
		}
	}
	return math.Min(bits/maxEntropyBits, 1)
}
