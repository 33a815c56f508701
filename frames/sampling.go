package frames

import "math"

// Linspace returns n frame indices spread evenly over [0, total-1], truncated toward zero.
// When n >= total every index is returned. Indices are strictly increasing.
func Linspace(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{0}
	}

	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := i * (total - 1) / (n - 1)
		if len(out) > 0 && idx <= out[len(out)-1] {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// Target count bounds for AutoTarget.
const (
	MinAutoTarget = 10
	MaxAutoTarget = 200
)

// AutoTarget derives a frame budget from the video duration. Short clips get a denser sampling
// rate than long ones:
//
//	duration <= 30s   2 frames per second
//	duration <= 120s  1 frame per second
//	duration <= 600s  1 frame every 2 seconds
//	longer            1 frame every 4 seconds
//
// The result is clamped to [MinAutoTarget, MaxAutoTarget].
func AutoTarget(frames int, fps float64) int {
	if fps <= 0 {
		fps = fallbackFPS
	}
	duration := float64(frames) / fps

	var rate float64
	switch {
	case duration <= 30:
		rate = 2
	case duration <= 120:
		rate = 1
	case duration <= 600:
		rate = 0.5
	default:
		rate = 0.25
	}

	target := int(math.Round(duration * rate))
	return min(max(target, MinAutoTarget), MaxAutoTarget)
}
