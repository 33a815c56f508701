package frames

import (
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
)

// Composite weights. Recalibrating the anchors is fine, the weights are fixed.
const (
	weightSharpness = 0.4
	weightContrast  = 0.3
	weightExposure  = 0.2
	weightEntropy   = 0.1
)

// Metrics is the per-frame measurement breakdown.
type Metrics struct {
	// Sharpness is the variance of the Laplacian.
	Sharpness float64 `json:"sharpness"`
	// Contrast is the grayscale standard deviation.
	Contrast float64 `json:"contrast"`
	// Exposure is in [0,1], low for clipped shadows or highlights.
	Exposure float64 `json:"exposure"`
	// Entropy is the normalised histogram entropy in [0,1].
	Entropy float64 `json:"entropy"`
}

// Anchors are the raw values at which sharpness and contrast saturate.
type Anchors struct {
	Sharpness float64 `yaml:"sharpness"`
	Contrast  float64 `yaml:"contrast"`
}

// DefaultAnchors returns the empirical scale anchors.
func DefaultAnchors() Anchors {
	return Anchors{Sharpness: 500, Contrast: 60}
}

// Composite folds metrics into a quality score in [0,1]. It is non-decreasing in every metric.
func Composite(m Metrics, a Anchors) float64 {
	return weightSharpness*saturate(m.Sharpness, a.Sharpness) +
		weightContrast*saturate(m.Contrast, a.Contrast) +
		weightExposure*m.Exposure +
		weightEntropy*m.Entropy
}

func saturate(v, anchor float64) float64 {
	if anchor <= 0 {
		return 1
	}
	return math.Min(math.Max(v, 0)/anchor, 1)
}

// Measure computes the metric breakdown of a BGR frame.
func Measure(frame gocv.Mat) (Metrics, error) {
	gray := images.ToGray(frame)
	defer gray.Close()

	hist, err := images.IntensityHistogram(gray)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Sharpness: images.Sharpness(gray),
		Contrast:  images.Contrast(gray),
		Exposure:  images.Exposure(hist),
		Entropy:   images.Entropy(hist),
	}, nil
}

// Scorer turns decoded frames into candidates.
type Scorer struct {
	Anchors Anchors
	// Vertical rotates landscape frames 90° clockwise before scoring.
	Vertical bool
}

// Score measures frame and wraps it in a Candidate. Score takes ownership of frame: it is either
// stored in the candidate or closed.
//
// Arguments:
//   - index: The frame position in the source.
//   - timestamp: The frame time in seconds.
//   - frame: The decoded BGR frame.
//
// Returns:
//   - *Candidate: The scored candidate.
//   - error: If the frame is empty or cannot be measured.
func (s Scorer) Score(index int, timestamp float64, frame gocv.Mat) (*Candidate, error) {
	if frame.Empty() {
		frame.Close()
		return nil, errors.Errorf("frame %d is empty", index)
	}

	if s.Vertical && frame.Cols() > frame.Rows() {
		rotated := gocv.NewMat()
		gocv.Rotate(frame, &rotated, gocv.Rotate90Clockwise)
		frame.Close()
		frame = rotated
	}

	m, err := Measure(frame)
	if err != nil {
		frame.Close()
		return nil, errors.Wrapf(err, "measuring frame %d", index)
	}

	return &Candidate{
		Index:     index,
		Timestamp: timestamp,
		Frame:     frame,
		Metrics:   m,
		Quality:   Composite(m, s.Anchors),
	}, nil
}
