// Package inference - Inference sessions.
package inference

import (
	"fmt"
	"sync"
	"time"

	"github.com/nvr-ai/go-photogrammetry/inference/providers"
	ort "github.com/yalue/onnxruntime_go"
)

// SessionArgs represents the arguments for creating a new ONNX session.
type SessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The input node names, in the order of InputShapes.
	InputNames []string
	// The output node names, in the order of OutputShapes.
	OutputNames []string
	// The shape of each preallocated input tensor, e.g. [1, 3, 640, 640].
	InputShapes [][]int64
	// The shape of each preallocated output tensor.
	OutputShapes [][]int64
	// The ONNX Runtime shared library. Empty uses the platform default.
	LibraryPath string
	// Threading and graph settings.
	Tuning providers.Tuning
}

// SessionStats holds inference counters for a session.
type SessionStats struct {
	Inferences int64
	Total      time.Duration
}

// Average returns the mean inference time.
func (s SessionStats) Average() time.Duration {
	if s.Inferences == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Inferences)
}

// Session represents a model session from the onnxruntime with preallocated float32 tensors.
//
// Run is serialised because the bound tensors are shared between calls.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	Inputs  []*ort.Tensor[float32]
	Outputs []*ort.Tensor[float32]

	inferences int64
	total      time.Duration
}

// NewSession creates a new ONNX Runtime session with preallocated input and output tensors.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Tensor allocation: fixed-shape buffers for input/output data.
//  3. Session options: tuning and the execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - provider: The provider for the session.
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session. The caller must Close it.
//   - error: An error if the session creation fails.
func NewSession(provider providers.ExecutionProvider, args SessionArgs) (*Session, error) {
	if len(args.InputNames) != len(args.InputShapes) || len(args.OutputNames) != len(args.OutputShapes) {
		return nil, fmt.Errorf("session names and shapes differ in length")
	}

	if err := providers.InitializeEnvironment(args.LibraryPath); err != nil {
		return nil, err
	}

	s := &Session{}
	for _, shape := range args.InputShapes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("error creating input tensor: %w", err)
		}
		s.Inputs = append(s.Inputs, t)
	}
	for _, shape := range args.OutputShapes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("error creating output tensor: %w", err)
		}
		s.Outputs = append(s.Outputs, t)
	}

	options, err := providers.NewSessionOptions(provider, args.Tuning)
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	inputs := make([]ort.Value, len(s.Inputs))
	for i, t := range s.Inputs {
		inputs[i] = t
	}
	outputs := make([]ort.Value, len(s.Outputs))
	for i, t := range s.Outputs {
		outputs[i] = t
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		args.InputNames,
		args.OutputNames,
		inputs,
		outputs,
		options,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}
	s.session = session

	return s, nil
}

// Run executes the model over the bound tensors. fill writes the inputs and read consumes the
// outputs, both while the session is held.
func (s *Session) Run(fill func(inputs []*ort.Tensor[float32]) error, read func(outputs []*ort.Tensor[float32]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return fmt.Errorf("session is closed")
	}

	if fill != nil {
		if err := fill(s.Inputs); err != nil {
			return err
		}
	}

	start := time.Now()
	err := s.session.Run()
	s.inferences++
	s.total += time.Since(start)
	if err != nil {
		return fmt.Errorf("error running ORT session: %w", err)
	}

	if read != nil {
		return read(s.Outputs)
	}
	return nil
}

// Stats returns the inference counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionStats{Inferences: s.inferences, Total: s.total}
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.Inputs {
		t.Destroy()
	}
	s.Inputs = nil
	for _, t := range s.Outputs {
		t.Destroy()
	}
	s.Outputs = nil

	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
	}
	return nil
}
