// Package selection - Adaptive threshold ladders and greedy deduplication shared by the frame and
// mask pipelines.
package selection

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnreadableSource is returned when a video will not open or reports zero frames. Fatal.
	ErrUnreadableSource = errors.New("unreadable source")
	// ErrUnreadableCandidate marks a single frame or image that failed to decode.
	ErrUnreadableCandidate = errors.New("unreadable candidate")
	// ErrNoCandidatesAboveThreshold is recorded each time a tier comes back empty.
	ErrNoCandidatesAboveThreshold = errors.New("no candidates above threshold")
	// ErrNoCandidates is returned when even the best-effort tier produced nothing.
	ErrNoCandidates = errors.New("no candidates")
	// ErrNoValidObject marks an image where no confidence tier produced a usable mask.
	ErrNoValidObject = errors.New("no valid object")
	// ErrInferenceFailure marks a segmentation model call that returned an error.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrOutputFailure marks a selected image or mask that could not be written.
	ErrOutputFailure = errors.New("output failure")
)

// Diagnostic is one recovered error and the candidate it was raised for.
type Diagnostic struct {
	// Subject identifies the candidate, e.g. "frame 120" or an image file name.
	Subject string
	// Err is the wrapped error. errors.Is against the sentinels above gives its kind.
	Err error
}

// String renders the diagnostic for logs and reports.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %v", d.Subject, d.Err)
}

// Diagnostics accumulates recovered errors. It is safe for concurrent use.
type Diagnostics struct {
	mu      sync.Mutex
	entries []Diagnostic
}

// Record appends err for subject. Nil errors are ignored.
func (d *Diagnostics) Record(subject string, err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, Diagnostic{Subject: subject, Err: err})
}

// Entries returns a copy of everything recorded so far, in record order.
func (d *Diagnostics) Entries() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Diagnostic, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of recorded diagnostics.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Count returns how many recorded errors match kind.
func (d *Diagnostics) Count(kind error) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if errors.Is(e.Err, kind) {
			n++
		}
	}
	return n
}
