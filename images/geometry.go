package images

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Geometry of a binary mask. Masks are single-channel 8-bit images where any non-zero pixel is
// foreground.

// FillRatio returns the share of foreground pixels.
func FillRatio(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

// Borders holds the foreground pixel count along each one-pixel image border.
type Borders struct {
	Top, Bottom, Left, Right int
}

// BorderCounts counts foreground pixels on the four outermost rows and columns.
func BorderCounts(mask gocv.Mat) Borders {
	h, w := mask.Rows(), mask.Cols()
	if h == 0 || w == 0 {
		return Borders{}
	}
	return Borders{
		Top:    countRegion(mask, image.Rect(0, 0, w, 1)),
		Bottom: countRegion(mask, image.Rect(0, h-1, w, h)),
		Left:   countRegion(mask, image.Rect(0, 0, 1, h)),
		Right:  countRegion(mask, image.Rect(w-1, 0, w, h)),
	}
}

// EdgeRatio returns the border foreground count divided by 2(h+w).
func EdgeRatio(mask gocv.Mat) float64 {
	h, w := mask.Rows(), mask.Cols()
	if h == 0 || w == 0 {
		return 0
	}
	b := BorderCounts(mask)
	return float64(b.Top+b.Bottom+b.Left+b.Right) / float64(2*(h+w))
}

// TouchesBorder reports whether any single border has more than fraction of its length in the
// foreground.
func TouchesBorder(mask gocv.Mat, fraction float64) bool {
	h, w := mask.Rows(), mask.Cols()
	b := BorderCounts(mask)
	rowLimit := float64(w) * fraction
	colLimit := float64(h) * fraction
	return float64(b.Top) > rowLimit || float64(b.Bottom) > rowLimit ||
		float64(b.Left) > colLimit || float64(b.Right) > colLimit
}

// CenterRegion returns the central window spanning half the height and half the width.
func CenterRegion(width, height int) image.Rectangle {
	ch, cw := height/2, width/2
	return image.Rect(cw/2, ch/2, cw+cw/2, ch+ch/2)
}

// CenterFillRatio returns the share of foreground pixels inside CenterRegion.
func CenterFillRatio(mask gocv.Mat) float64 {
	r := CenterRegion(mask.Cols(), mask.Rows())
	area := r.Dx() * r.Dy()
	if area == 0 {
		return 0
	}
	return float64(countRegion(mask, r)) / float64(area)
}

// Centroid returns the integer centroid of the foreground from image moments.
func Centroid(mask gocv.Mat) (image.Point, bool) {
	m := gocv.Moments(mask, true)
	if m["m00"] == 0 {
		return image.Point{}, false
	}
	return image.Pt(int(m["m10"]/m["m00"]), int(m["m01"]/m["m00"])), true
}

// Centrality is 1 minus the distance of the foreground centroid from the image center, divided by
// the center-to-corner distance. An empty mask scores 0.
func Centrality(mask gocv.Mat) float64 {
	c, ok := Centroid(mask)
	if !ok {
		return 0
	}
	cx, cy := mask.Cols()/2, mask.Rows()/2
	maxDist := math.Hypot(float64(cx), float64(cy))
	if maxDist == 0 {
		return 0
	}
	return 1 - math.Hypot(float64(c.X-cx), float64(c.Y-cy))/maxDist
}

// Compactness multiplies the isoperimetric ratio 4πA/P² of the largest external contour by its
// solidity (contour area over convex hull area), capped at 1. Returns 0 without a contour.
func Compactness(mask gocv.Mat) float64 {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return 0
	}

	best, bestArea := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best, bestArea = i, area
		}
	}
	contour := contours.At(best)

	hullArea := convexHullArea(contour)
	solidity := 0.0
	if hullArea > 0 {
		solidity = bestArea / hullArea
	}

	perimeter := gocv.ArcLength(contour, true)
	if perimeter <= 0 {
		return 0
	}
	return math.Min(4*math.Pi*bestArea/(perimeter*perimeter)*solidity, 1)
}

func convexHullArea(contour gocv.PointVector) float64 {
	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(contour, &hull, false, false)
	if hull.Empty() {
		return 0
	}

	points := contour.ToPoints()
	hullPoints := make([]image.Point, 0, hull.Rows())
	for i := 0; i < hull.Rows(); i++ {
		idx := int(hull.GetIntAt(i, 0))
		if idx >= 0 && idx < len(points) {
			hullPoints = append(hullPoints, points[idx])
		}
	}
	if len(hullPoints) < 3 {
		return 0
	}

	pv := gocv.NewPointVectorFromPoints(hullPoints)
	defer pv.Close()
	return gocv.ContourArea(pv)
}

func countRegion(mask gocv.Mat, r image.Rectangle) int {
	region := mask.Region(r)
	defer region.Close()
	return gocv.CountNonZero(region)
}
