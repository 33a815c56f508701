package frames

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-photogrammetry/images"
)

// WriteOptions controls how selected frames are persisted.
type WriteOptions struct {
	Dir         string `yaml:"dir"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	// EmbedScore appends the quality score to each file name.
	EmbedScore bool `yaml:"embed_score"`
}

// Output describes one written frame.
type Output struct {
	Path      string  `json:"path"`
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Quality   float64 `json:"quality"`
	Checksum  string  `json:"checksum"`
}

// FileName returns the name of the seq-th (1-based) output frame.
func FileName(seq int, c *Candidate, embedScore bool) string {
	if embedScore {
		return fmt.Sprintf("frame_%03d_%.2fs_q%.3f.jpg", seq, c.Timestamp, c.Quality)
	}
	return fmt.Sprintf("frame_%03d_%.2fs.jpg", seq, c.Timestamp)
}

// Write encodes the frames of result into opts.Dir in chronological order.
//
// Arguments:
//   - result: The selection to persist.
//   - opts: Destination and encoding options.
//
// Returns:
//   - []Output: One entry per written file, in chronological order.
//   - error: If the directory cannot be created or a frame cannot be encoded.
func Write(result *Result, opts WriteOptions) ([]Output, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %s", opts.Dir)
	}

	outputs := make([]Output, 0, len(result.Frames))
	for i, c := range result.Frames {
		path := filepath.Join(opts.Dir, FileName(i+1, c, opts.EmbedScore))
		if err := images.Write(path, c.Frame, opts.JPEGQuality); err != nil {
			return outputs, errors.Wrapf(err, "writing frame %d", c.Index)
		}
		outputs = append(outputs, Output{
			Path:      path,
			Index:     c.Index,
			Timestamp: c.Timestamp,
			Quality:   c.Quality,
			Checksum:  images.Checksum(c.Frame),
		})
	}
	return outputs, nil
}

// Extract opens the video at path, selects frames and writes them.
//
// Arguments:
//   - ctx: Cancels decoding.
//   - path: The video file.
//   - opts: Selection options.
//   - out: Output options.
//   - logger: Receives progress and tier decisions.
//
// Returns:
//   - []Output: The written files.
//   - *Result: The selection with frames already released.
//   - error: selection.ErrUnreadableSource, selection.ErrNoCandidates or an I/O error.
func Extract(ctx context.Context, path string, opts Options, out WriteOptions, logger zerolog.Logger) ([]Output, *Result, error) {
	video, err := OpenVideo(path)
	if err != nil {
		return nil, nil, err
	}
	defer video.Close()

	result, err := New(opts, logger).Select(ctx, video)
	if err != nil {
		return nil, nil, err
	}
	defer result.Release()

	outputs, err := Write(result, out)
	if err != nil {
		return outputs, result, err
	}
	return outputs, result, nil
}
