package frames

import (
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/selection"
)

// fallbackFPS is assumed when a container does not report a frame rate.
const fallbackFPS = 30.0

// Source is a seekable, exclusively owned frame source. Implementations are not required to be
// safe for concurrent use: the pipeline reads from a single goroutine.
type Source interface {
	// FrameCount returns the number of frames in the source.
	FrameCount() int
	// FPS returns the nominal frame rate.
	FPS() float64
	// ReadAt decodes frame index. The caller owns the returned Mat.
	ReadAt(index int) (gocv.Mat, error)
	// Close releases the decoder.
	Close() error
}

// Video decodes a file through an OpenCV VideoCapture.
type Video struct {
	path    string
	capture *gocv.VideoCapture
	frames  int
	fps     float64
	width   int
	height  int
}

// OpenVideo opens path for random access. The returned Video must be closed by the caller on every
// path, typically with defer right after the error check.
//
// Returns:
//   - *Video: The opened decoder.
//   - error: Wrapping selection.ErrUnreadableSource if the file will not open or has no frames.
func OpenVideo(path string) (*Video, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, errors.Wrapf(selection.ErrUnreadableSource, "opening %s: %v", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Wrapf(selection.ErrUnreadableSource, "opening %s", path)
	}

	frames := int(capture.Get(gocv.VideoCaptureFrameCount))
	if frames <= 0 {
		capture.Close()
		return nil, errors.Wrapf(selection.ErrUnreadableSource, "%s reports %d frames", path, frames)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) {
		fps = fallbackFPS
	}

	return &Video{
		path:    path,
		capture: capture,
		frames:  frames,
		fps:     fps,
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// FrameCount returns the number of frames reported by the container.
func (v *Video) FrameCount() int { return v.frames }

// FPS returns the container frame rate.
func (v *Video) FPS() float64 { return v.fps }

// Size returns the frame width and height.
func (v *Video) Size() (int, int) { return v.width, v.height }

// Path returns the file the video was opened from.
func (v *Video) Path() string { return v.path }

// ReadAt seeks to index and decodes one frame.
func (v *Video) ReadAt(index int) (gocv.Mat, error) {
	if index < 0 || index >= v.frames {
		return gocv.NewMat(), errors.Errorf("frame %d out of range [0,%d)", index, v.frames)
	}
	v.capture.Set(gocv.VideoCapturePosFrames, float64(index))

	frame := gocv.NewMat()
	if ok := v.capture.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.NewMat(), errors.Errorf("decoding frame %d of %s", index, v.path)
	}
	return frame, nil
}

// Close releases the underlying capture.
func (v *Video) Close() error {
	if v.capture == nil {
		return nil
	}
	err := v.capture.Close()
	v.capture = nil
	return err
}
