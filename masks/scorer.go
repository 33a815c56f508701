// Package masks - Main-object mask selection among segmentation proposals.
//
// Every proposal is scored for how much it looks like the single foreground subject of a
// photogrammetry capture: medium sized, centred, compact, clear of the image borders. Proposals
// shaped like an inverted or whole-frame segmentation are vetoed outright.
package masks

import (
	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/inference"
)

// Importance weights.
const (
	weightConfidence  = 0.20
	weightArea        = 0.25
	weightCentrality  = 0.30
	weightCompactness = 0.15
	weightShape       = 0.10
)

// Thresholds are the empirically tuned constants of the scorer and the inversion fix.
type Thresholds struct {
	// MinArea is the minimum fill ratio for a proposal to be considered at all.
	MinArea float64 `yaml:"min_area"`

	// A proposal is background when EdgeRatio > BackgroundEdge, CenterFill < BackgroundCenter and
	// FillRatio > BackgroundFill all hold.
	BackgroundEdge   float64 `yaml:"background_edge"`
	BackgroundCenter float64 `yaml:"background_center"`
	BackgroundFill   float64 `yaml:"background_fill"`

	// BorderFraction is the share of a single border's length above which BorderPenalty applies.
	BorderFraction float64 `yaml:"border_fraction"`
	BorderPenalty  float64 `yaml:"border_penalty"`

	// CenteredAbove and CenteredBoost reward well centred subjects when centring is preferred.
	CenteredAbove float64 `yaml:"centered_above"`
	CenteredBoost float64 `yaml:"centered_boost"`

	// A winning mask filling more than InvertAbove is replaced by its inverse when the inverse
	// fill lies in [InvertMin, InvertMax].
	InvertAbove float64 `yaml:"invert_above"`
	InvertMin   float64 `yaml:"invert_min"`
	InvertMax   float64 `yaml:"invert_max"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinArea:          0.08,
		BackgroundEdge:   0.7,
		BackgroundCenter: 0.3,
		BackgroundFill:   0.6,
		BorderFraction:   0.1,
		BorderPenalty:    0.7,
		CenteredAbove:    0.7,
		CenteredBoost:    1.2,
		InvertAbove:      0.8,
		InvertMin:        0.1,
		InvertMax:        0.6,
	}
}

// Candidate is a scored proposal.
type Candidate struct {
	inference.Proposal

	AreaRatio float64 `json:"area_ratio"`
	// EdgeRatio, CenterFill are the background veto inputs.
	EdgeRatio  float64 `json:"edge_ratio"`
	CenterFill float64 `json:"center_fill"`

	AreaScore     float64 `json:"area_score"`
	Centrality    float64 `json:"centrality"`
	Compactness   float64 `json:"compactness"`
	BorderPenalty float64 `json:"border_penalty"`
	ShapeScore    float64 `json:"shape_score"`

	// Background is set by the veto. Importance is 0 for background.
	Background bool    `json:"background"`
	TooSmall   bool    `json:"too_small"`
	Importance float64 `json:"importance"`
}

// Valid reports whether the candidate may be selected.
func (c *Candidate) Valid() bool {
	return !c.TooSmall && !c.Background && c.Importance > 0
}

// Scorer computes importance scores.
type Scorer struct {
	Thresholds Thresholds
	// PreferCentered boosts the centrality of subjects already close to the centre.
	PreferCentered bool
}

// Score measures p. The proposal's mask stays owned by the returned candidate.
//
// Arguments:
//   - p: A proposal whose mask has the source image size.
//
// Returns:
//   - Candidate: The scored candidate, flagged TooSmall or Background when not selectable.
func (s Scorer) Score(p inference.Proposal) Candidate {
	t := s.Thresholds
	c := Candidate{Proposal: p, BorderPenalty: 1}

	c.AreaRatio = images.FillRatio(p.Mask)
	if c.AreaRatio < t.MinArea {
		c.TooSmall = true
		return c
	}

	c.EdgeRatio = images.EdgeRatio(p.Mask)
	c.CenterFill = images.CenterFillRatio(p.Mask)
	if c.EdgeRatio > t.BackgroundEdge && c.CenterFill < t.BackgroundCenter && c.AreaRatio > t.BackgroundFill {
		c.Background = true
		return c
	}

	c.AreaScore = AreaScore(c.AreaRatio)

	c.Centrality = images.Centrality(p.Mask)
	if s.PreferCentered && c.Centrality > t.CenteredAbove {
		c.Centrality = min(c.Centrality*t.CenteredBoost, 1)
	}

	c.Compactness = images.Compactness(p.Mask)
	if images.TouchesBorder(p.Mask, t.BorderFraction) {
		c.BorderPenalty = t.BorderPenalty
	}
	c.ShapeScore = p.Box.AspectScore()

	c.Importance = c.BorderPenalty * (weightConfidence*float64(p.Confidence) +
		weightArea*c.AreaScore +
		weightCentrality*c.Centrality +
		weightCompactness*c.Compactness +
		weightShape*c.ShapeScore)
	return c
}

// AreaScore ramps up to 1 over fill ratios [0,0.1], stays flat to 0.7, then ramps down to 0 at
// full frame.
func AreaScore(ratio float64) float64 {
	switch {
	case ratio < 0.1:
		return max(ratio, 0) / 0.1
	case ratio > 0.7:
		return max(1-ratio, 0) / 0.3
	default:
		return 1
	}
}

// Best scores every proposal and returns the valid candidate with the highest importance, ties
// going to the earlier proposal. Masks of every other proposal are closed.
//
// Returns:
//   - *Candidate: The winner, or nil when no proposal is valid.
//   - []Candidate: All scored candidates in proposal order, for reporting. Only the winner's mask
//     is still open.
func (s Scorer) Best(proposals []inference.Proposal) (*Candidate, []Candidate) {
	scored := make([]Candidate, len(proposals))
	best := -1
	for i, p := range proposals {
		scored[i] = s.Score(p)
		if !scored[i].Valid() {
			continue
		}
		if best < 0 || scored[i].Importance > scored[best].Importance {
			best = i
		}
	}

	for i := range scored {
		if i != best {
			scored[i].Proposal.Close()
		}
	}
	if best < 0 {
		return nil, scored
	}
	winner := scored[best]
	return &winner, scored
}
