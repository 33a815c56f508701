package images

import "image"

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Width returns the horizontal extent, 0 for inverted boxes.
func (r Rect) Width() int { return max(r.X2-r.X1, 0) }

// Height returns the vertical extent, 0 for inverted boxes.
func (r Rect) Height() int { return max(r.Y2-r.Y1, 0) }

// Area returns Width*Height.
func (r Rect) Area() int { return r.Width() * r.Height() }

// Clamp restricts the box to a width x height image.
func (r Rect) Clamp(width, height int) Rect {
	return Rect{
		X1: min(max(r.X1, 0), width),
		Y1: min(max(r.Y1, 0), height),
		X2: min(max(r.X2, 0), width),
		Y2: min(max(r.Y2, 0), height),
	}
}

// Rectangle converts to the standard library type for Mat.Region and drawing.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// AspectScore is min(w/h, h/w): 1 for a square box, towards 0 for extreme aspect ratios.
// Degenerate boxes score 0.5.
func (r Rect) AspectScore() float64 {
	w, h := float64(r.Width()), float64(r.Height())
	if w <= 0 || h <= 0 {
		return 0.5
	}
	return min(w/h, h/w)
}

// CalculateIoU measures the overlap of two boxes as intersection area over union area.
//
//	IoU = Area of Intersection / Area of Union
//
// 1.0 means identical boxes, 0.0 means no overlap.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
func CalculateIoU(r, o Rect) float32 {
	// The overlap starts at the later of the two starts and ends at the earlier of the two ends.
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Inclusion-exclusion: Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return float32(interArea) / float32(unionArea)
}
