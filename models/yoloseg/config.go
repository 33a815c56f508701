// Package yoloseg - YOLO instance segmentation models (YOLOv8/YOLO11 -seg exports).
package yoloseg

import (
	"fmt"

	"github.com/nvr-ai/go-photogrammetry/inference/providers"
	"github.com/nvr-ai/go-photogrammetry/models"
)

// Config describes a YOLO segmentation export.
//
// The model takes images [1, 3, InputSize, InputSize] and produces output0
// [1, 4+NumClasses+NumMasks, Anchors] and output1 [1, NumMasks, ProtoSize, ProtoSize].
type Config struct {
	ModelPath  string `json:"modelPath"  yaml:"model_path"`
	InputSize  int    `json:"inputSize"  yaml:"input_size"`
	NumClasses int    `json:"numClasses" yaml:"num_classes"`
	NumMasks   int    `json:"numMasks"   yaml:"num_masks"`
	ProtoSize  int    `json:"protoSize"  yaml:"proto_size"`
	Anchors    int    `json:"anchors"    yaml:"anchors"`
	// IoUThreshold is the class-agnostic NMS overlap threshold.
	IoUThreshold float32 `json:"iouThreshold"  yaml:"iou_threshold"`
	// MaskThreshold binarises the sigmoid mask probabilities.
	MaskThreshold float32 `json:"maskThreshold" yaml:"mask_threshold"`
	// MaxDetections caps the instances kept after NMS.
	MaxDetections int `json:"maxDetections" yaml:"max_detections"`
	// ClassNames labels a custom export. Empty uses the COCO labels.
	ClassNames []string `json:"classNames,omitempty" yaml:"class_names,omitempty"`

	Backend     string           `json:"backend"     yaml:"backend"`
	LibraryPath string           `json:"libraryPath" yaml:"library_path"`
	Tuning      providers.Tuning `json:"tuning"      yaml:"tuning"`
}

// DefaultConfig returns the layout of a 640px COCO export such as yolov8n-seg.onnx.
func DefaultConfig() Config {
	return Config{
		ModelPath:     "yolov8n-seg.onnx",
		InputSize:     640,
		NumClasses:    80,
		NumMasks:      32,
		ProtoSize:     160,
		Anchors:       8400,
		IoUThreshold:  0.45,
		MaskThreshold: 0.5,
		MaxDetections: 100,
		Backend:       string(providers.CPUProviderBackend),
		Tuning:        providers.DefaultTuning(),
	}
}

// Classes returns the label set for the export.
func (c Config) Classes() models.OutputClassSet {
	if len(c.ClassNames) > 0 {
		return models.NewClassSet(c.ClassNames)
	}
	return models.YOLOClasses
}

// Rows is the number of values per anchor in output0.
func (c Config) Rows() int {
	return 4 + c.NumClasses + c.NumMasks
}

// Validate reports layout values that cannot describe a model.
func (c Config) Validate() error {
	switch {
	case c.ModelPath == "":
		return fmt.Errorf("yoloseg: model path is required")
	case c.InputSize <= 0 || c.ProtoSize <= 0 || c.Anchors <= 0:
		return fmt.Errorf("yoloseg: input size, proto size and anchors must be positive")
	case c.NumClasses <= 0 || c.NumMasks <= 0:
		return fmt.Errorf("yoloseg: class and mask counts must be positive")
	case c.MaskThreshold <= 0 || c.MaskThreshold >= 1:
		return fmt.Errorf("yoloseg: mask threshold %.2f outside (0,1)", c.MaskThreshold)
	case len(c.ClassNames) > 0 && len(c.ClassNames) != c.NumClasses:
		return fmt.Errorf("yoloseg: %d class names for %d classes", len(c.ClassNames), c.NumClasses)
	}
	return nil
}
