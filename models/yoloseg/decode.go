package yoloseg

import (
	"math"

	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/inference"
	"github.com/nvr-ai/go-photogrammetry/models/postprocess"
)

// Detection is one decoded instance before mask assembly.
type Detection struct {
	postprocess.Result
	// Input is the box in model input pixels (x1, y1, x2, y2).
	Input [4]float32
	// Coefficients weight the prototype masks.
	Coefficients []float32
}

// Decode turns output0 into detections scoring at least confidence, after class-agnostic NMS.
//
// Arguments:
//   - output: The output0 data, channel-major ([rows][anchors]).
//   - cfg: The model layout.
//   - confidence: The minimum class score.
//   - lb: The letterbox used to prepare the input.
//
// Returns:
//   - []Detection: Detections by descending score, at most cfg.MaxDetections.
func Decode(output []float32, cfg Config, confidence float32, lb inference.Letterbox) []Detection {
	n := cfg.Anchors
	if len(output) < cfg.Rows()*n {
		return nil
	}

	candidates := make([]Detection, 0, 64)
	for idx := 0; idx < n; idx++ {
		classID := 0
		probability := float32(-1e9)
		for col := 0; col < cfg.NumClasses; col++ {
			p := output[n*(col+4)+idx]
			if p > probability {
				probability = p
				classID = col
			}
		}
		if probability < confidence {
			continue
		}

		xc, yc := output[idx], output[n+idx]
		w, h := output[2*n+idx], output[3*n+idx]
		in := [4]float32{xc - w/2, yc - h/2, xc + w/2, yc + h/2}

		x1, y1 := lb.ToSource(float64(in[0]), float64(in[1]))
		x2, y2 := lb.ToSource(float64(in[2]), float64(in[3]))
		box := images.Rect{
			X1: int(math.Floor(x1)),
			Y1: int(math.Floor(y1)),
			X2: int(math.Ceil(x2)),
			Y2: int(math.Ceil(y2)),
		}
		if box.Area() == 0 {
			continue
		}

		coeffs := make([]float32, cfg.NumMasks)
		base := 4 + cfg.NumClasses
		for k := range coeffs {
			coeffs[k] = output[n*(base+k)+idx]
		}

		candidates = append(candidates, Detection{
			Result:       postprocess.Result{Box: box, Score: probability, Class: classID, Anchor: idx},
			Input:        in,
			Coefficients: coeffs,
		})
	}

	results := make([]postprocess.Result, len(candidates))
	byAnchor := make(map[int]Detection, len(candidates))
	for i, c := range candidates {
		results[i] = c.Result
		byAnchor[c.Anchor] = c
	}
	postprocess.SortByScore(results)
	kept := postprocess.ApplyGreedyNMS(results, postprocess.NMSConfig{
		IoUThreshold: cfg.IoUThreshold,
		ClassAware:   false,
	})
	if cfg.MaxDetections > 0 && len(kept) > cfg.MaxDetections {
		kept = kept[:cfg.MaxDetections]
	}

	detections := make([]Detection, len(kept))
	for i, r := range kept {
		detections[i] = byAnchor[r.Anchor]
	}
	return detections
}
