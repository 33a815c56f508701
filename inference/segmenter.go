// Package inference - Segmentation model capability, ONNX Runtime sessions and model input
// preparation.
package inference

import (
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
)

// Proposal is one instance returned by a segmentation model.
type Proposal struct {
	// Mask is a single-channel 0/255 image at the source resolution.
	Mask gocv.Mat
	// Confidence is the detection score in [0,1].
	Confidence float32
	// Box is the detection box in source pixel coordinates.
	Box     images.Rect
	ClassID int
	// Label is the model's name for ClassID.
	Label string
}

// Close releases the mask.
func (p *Proposal) Close() {
	p.Mask.Close()
}

// CloseAll releases every proposal mask.
func CloseAll(proposals []Proposal) {
	for i := range proposals {
		proposals[i].Close()
	}
}

// Segmenter detects object instances in an image.
//
// Implementations must be safe for concurrent use. Wrappers around runtimes that are not must
// serialise Detect internally.
type Segmenter interface {
	// Detect returns every instance scoring at least confidence. The caller owns the masks.
	Detect(img gocv.Mat, confidence float32) ([]Proposal, error)
	// Close releases the model.
	Close() error
}
