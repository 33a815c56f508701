// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-photogrammetry/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in source image pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// Anchor is the model output column the result was decoded from.
	Anchor int
}

// SortByScore orders detections by descending score. Equal scores keep their anchor order.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}
