// Package frames - Quality-driven frame selection from video for photogrammetry.
//
// A video is sampled to learn its quality distribution, candidates are drawn uniformly over the
// whole timeline and filtered through a threshold ladder, and the survivors are deduplicated by
// colour-histogram similarity before being written out in capture order.
package frames

import (
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
)

// Candidate is one decoded, scored frame.
type Candidate struct {
	// Index is the frame position in the source video.
	Index int
	// Timestamp is Index divided by the frame rate, in seconds.
	Timestamp float64
	// Frame holds the decoded BGR pixels until Release.
	Frame gocv.Mat
	Metrics
	// Quality is the composite score of Metrics.
	Quality float64

	hist     gocv.Mat
	histErr  error
	histDone bool
	released bool
}

// Histogram returns the cached HSV histogram of the frame, computing it on first use.
func (c *Candidate) Histogram() (gocv.Mat, error) {
	if !c.histDone {
		c.hist, c.histErr = images.ColorHistogram(c.Frame)
		c.histDone = true
	}
	return c.hist, c.histErr
}

// Release frees the native memory held by the candidate. Safe to call more than once.
func (c *Candidate) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	c.Frame.Close()
	if c.histDone && c.histErr == nil {
		c.hist.Close()
	}
}

// Similarity correlates the colour histograms of two candidates. A pair whose histograms cannot
// be computed counts as identical.
func Similarity(a, b *Candidate) float64 {
	ha, err := a.Histogram()
	if err != nil {
		return 1
	}
	hb, err := b.Histogram()
	if err != nil {
		return 1
	}
	return images.CompareHistograms(ha, hb)
}
