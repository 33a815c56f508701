// Package models - Label sets for the instance segmentation models.
package models

import "fmt"

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet is the full list of labels a model family predicts.
type OutputClassSet struct {
	// Classes that are supported and mappable.
	Classes []OutputClass
}

// NewClassSet indexes names in order from zero.
func NewClassSet(names []string) OutputClassSet {
	classes := make([]OutputClass, len(names))
	for i, name := range names {
		classes[i] = OutputClass{Index: i, Name: name}
	}
	return OutputClassSet{Classes: classes}
}

// Name returns the label for idx, or "class_<idx>" when idx is outside the set.
func (s OutputClassSet) Name(idx int) string {
	if idx >= 0 && idx < len(s.Classes) {
		return s.Classes[idx].Name
	}
	return fmt.Sprintf("class_%d", idx)
}

// Index returns the index of the label name.
func (s OutputClassSet) Index(name string) (int, error) {
	for _, c := range s.Classes {
		if c.Name == name {
			return c.Index, nil
		}
	}
	return -1, fmt.Errorf("name %q not found", name)
}

// Len returns the number of labels.
func (s OutputClassSet) Len() int {
	return len(s.Classes)
}

// YOLOClasses is the 80-label COCO set that YOLO -seg exports index from zero.
var YOLOClasses = NewClassSet([]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
})
