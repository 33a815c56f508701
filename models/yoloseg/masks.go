package yoloseg

import (
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-photogrammetry/inference"
)

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

// Masks assembles a 0/255 source-resolution mask per detection from the prototypes.
//
// Each mask is the sigmoid of the coefficient-weighted prototype sum, zeroed outside the detection
// box, cropped to the letterboxed content and resized to the source image.
//
// Arguments:
//   - detections: The decoded detections.
//   - proto: The output1 data ([NumMasks][ProtoSize*ProtoSize]).
//   - cfg: The model layout.
//   - lb: The letterbox used to prepare the input.
//
// Returns:
//   - []gocv.Mat: One CV_8U mask per detection. The caller must Close them.
//   - error: An error if the prototypes do not match the layout.
func Masks(detections []Detection, proto []float32, cfg Config, lb inference.Letterbox) ([]gocv.Mat, error) {
	if len(detections) == 0 {
		return nil, nil
	}
	ps := cfg.ProtoSize
	area := ps * ps
	if len(proto) < cfg.NumMasks*area {
		return nil, fmt.Errorf("prototype output holds %d values, needs %d", len(proto), cfg.NumMasks*area)
	}

	coeffs := make([]float32, 0, len(detections)*cfg.NumMasks)
	for _, d := range detections {
		coeffs = append(coeffs, d.Coefficients...)
	}
	a := tensor.New(tensor.WithShape(len(detections), cfg.NumMasks), tensor.WithBacking(coeffs))
	p := tensor.New(tensor.WithShape(cfg.NumMasks, area), tensor.WithBacking(proto[:cfg.NumMasks*area]))
	product, err := tensor.MatMul(a, p)
	if err != nil {
		return nil, fmt.Errorf("error combining prototypes: %w", err)
	}
	data, ok := product.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected prototype product type %T", product.Data())
	}

	ratio := float64(ps) / float64(cfg.InputSize)
	crop := protoRect(lb.Content(), ratio, ps)

	masks := make([]gocv.Mat, 0, len(detections))
	for i, d := range detections {
		box := protoRect(image.Rect(
			int(math.Floor(float64(d.Input[0]))),
			int(math.Floor(float64(d.Input[1]))),
			int(math.Ceil(float64(d.Input[2]))),
			int(math.Ceil(float64(d.Input[3]))),
		), ratio, ps)

		m, err := assemble(data[i*area:(i+1)*area], ps, box, crop, lb, cfg.MaskThreshold)
		if err != nil {
			for j := range masks {
				masks[j].Close()
			}
			return nil, err
		}
		masks = append(masks, m)
	}
	return masks, nil
}

func assemble(values []float32, ps int, box, crop image.Rectangle, lb inference.Letterbox, threshold float32) (gocv.Mat, error) {
	probs := gocv.NewMatWithSize(ps, ps, gocv.MatTypeCV32F)
	defer probs.Close()

	for y := 0; y < ps; y++ {
		for x := 0; x < ps; x++ {
			var v float32
			if image.Pt(x, y).In(box) {
				v = sigmoid(values[y*ps+x])
			}
			probs.SetFloatAt(y, x, v)
		}
	}

	region := probs.Region(crop)
	defer region.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(lb.SrcW, lb.SrcH), 0, 0, gocv.InterpolationLinear)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(resized, &binary, threshold, 255, gocv.ThresholdBinary)

	mask := gocv.NewMat()
	if err := binary.ConvertTo(&mask, gocv.MatTypeCV8U); err != nil {
		mask.Close()
		return gocv.NewMat(), fmt.Errorf("error converting mask: %w", err)
	}
	return mask, nil
}

// protoRect scales an input-space rectangle to prototype space, rounding outwards and keeping at
// least one cell.
func protoRect(r image.Rectangle, ratio float64, ps int) image.Rectangle {
	out := image.Rect(
		int(math.Floor(float64(r.Min.X)*ratio)),
		int(math.Floor(float64(r.Min.Y)*ratio)),
		int(math.Ceil(float64(r.Max.X)*ratio)),
		int(math.Ceil(float64(r.Max.Y)*ratio)),
	).Intersect(image.Rect(0, 0, ps, ps))
	if out.Empty() {
		x := min(max(int(float64(r.Min.X)*ratio), 0), ps-1)
		y := min(max(int(float64(r.Min.Y)*ratio), 0), ps-1)
		out = image.Rect(x, y, x+1, y+1)
	}
	return out
}
