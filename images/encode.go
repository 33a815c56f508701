package images

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageFormat represents supported output formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
)

// FormatFromPath infers the format from a file extension, defaulting to JPEG.
func FormatFromPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG
	default:
		return FormatJPEG
	}
}

// Write encodes img to path. jpegQuality is used for JPEG output only and is clamped to [1,100].
//
// Arguments:
//   - path: Destination file. The extension decides the encoder.
//   - img: The image to encode.
//   - jpegQuality: JPEG quality.
//
// Returns:
//   - error: If the image is empty or OpenCV fails to write it.
func Write(path string, img gocv.Mat, jpegQuality int) error {
	if img.Empty() {
		return errors.Errorf("refusing to write empty image to %s", path)
	}

	var ok bool
	switch FormatFromPath(path) {
	case FormatPNG:
		ok = gocv.IMWrite(path, img)
	default:
		q := min(max(jpegQuality, 1), 100)
		ok = gocv.IMWriteWithParams(path, img, []int{int(gocv.IMWriteJpegQuality), q})
	}
	if !ok {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

// Read decodes the image at path as BGR.
func Read(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), errors.Errorf("failed to decode %s", path)
	}
	return img, nil
}

// Checksum generates a deterministic MD5 checksum of the pixel data of a Mat.
//
// Arguments:
//   - mat: The Mat to compute checksum for.
//
// Returns:
//   - A hex-encoded MD5 checksum string, or "empty".
func Checksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}
	hash := md5.New()
	hash.Write(mat.ToBytes())
	return fmt.Sprintf("%x", hash.Sum(nil))
}
