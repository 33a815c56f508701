package yoloseg

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/inference"
	"github.com/nvr-ai/go-photogrammetry/inference/providers"
	"github.com/nvr-ai/go-photogrammetry/models"
)

// Segmenter runs a YOLO segmentation export through ONNX Runtime.
type Segmenter struct {
	cfg     Config
	classes models.OutputClassSet
	session *inference.Session
}

var _ inference.Segmenter = (*Segmenter)(nil)

// NewSegmenter loads the model described by cfg.
//
// Arguments:
//   - cfg: The model layout and runtime settings.
//
// Returns:
//   - *Segmenter: The segmenter. The caller must Close it.
//   - error: An error if the provider or session cannot be created.
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := providers.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	provider, err := providers.NewProvider(backend)
	if err != nil {
		return nil, err
	}

	size := int64(cfg.InputSize)
	session, err := inference.NewSession(provider, inference.SessionArgs{
		ModelPath:   cfg.ModelPath,
		InputNames:  []string{"images"},
		OutputNames: []string{"output0", "output1"},
		InputShapes: [][]int64{{1, 3, size, size}},
		OutputShapes: [][]int64{
			{1, int64(cfg.Rows()), int64(cfg.Anchors)},
			{1, int64(cfg.NumMasks), int64(cfg.ProtoSize), int64(cfg.ProtoSize)},
		},
		LibraryPath: cfg.LibraryPath,
		Tuning:      cfg.Tuning,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", cfg.ModelPath, err)
	}

	return &Segmenter{cfg: cfg, classes: cfg.Classes(), session: session}, nil
}

// Detect returns every instance scoring at least confidence, with masks at the source resolution.
// Calls are serialised on the underlying session.
func (s *Segmenter) Detect(img gocv.Mat, confidence float32) ([]inference.Proposal, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	src, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("error converting image: %w", err)
	}

	var lb inference.Letterbox
	var proposals []inference.Proposal

	err = s.session.Run(
		func(inputs []*ort.Tensor[float32]) error {
			var err error
			lb, err = inference.PrepareInput(src, s.cfg.InputSize, inputs[0].GetData())
			return err
		},
		func(outputs []*ort.Tensor[float32]) error {
			detections := Decode(outputs[0].GetData(), s.cfg, confidence, lb)
			masks, err := Masks(detections, outputs[1].GetData(), s.cfg, lb)
			if err != nil {
				return err
			}
			proposals = make([]inference.Proposal, len(detections))
			for i, d := range detections {
				proposals[i] = inference.Proposal{
					Mask:       masks[i],
					Confidence: d.Score,
					Box:        d.Box.Clamp(lb.SrcW, lb.SrcH),
					ClassID:    d.Class,
					Label:      s.classes.Name(d.Class),
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return proposals, nil
}

// Stats returns the session inference counters.
func (s *Segmenter) Stats() inference.SessionStats {
	return s.session.Stats()
}

// Close releases the session.
func (s *Segmenter) Close() error {
	return s.session.Close()
}
