// Package providers - ONNX Runtime session tuning.
package providers

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Tuning contains the ONNX Runtime threading and graph settings shared by every backend.
type Tuning struct {
	// IntraOpThreads sets threads for parallelizing ops. 0 lets ONNX Runtime decide.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intra_op_threads"`
	// InterOpThreads sets threads for parallelizing independent ops.
	InterOpThreads int `json:"interOpThreads" yaml:"inter_op_threads"`
	// Parallel runs independent graph branches concurrently.
	Parallel bool `json:"parallel"       yaml:"parallel"`
	// Extended enables the extended graph rewrites (fusion, constant folding). Otherwise only basic
	// optimizations run.
	Extended bool `json:"extended"       yaml:"extended"`
}

// DefaultTuning returns a tuning sized to the host.
func DefaultTuning() Tuning {
	numCPU := runtime.NumCPU()

	intra := numCPU
	if intra > 8 {
		intra = 8
	}

	return Tuning{
		IntraOpThreads: intra,
		InterOpThreads: 1,
		Extended:       true,
	}
}

// NewSessionOptions creates session options for provider with tuning applied.
//
// The caller must Destroy the result.
//
// Arguments:
//   - provider: The execution provider to append.
//   - tuning: The threading and graph settings.
//
// Returns:
//   - *ort.SessionOptions: The configured session options.
//   - error: An error if any option could not be applied.
func NewSessionOptions(provider ExecutionProvider, tuning Tuning) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	level := ort.GraphOptimizationLevelEnableBasic
	if tuning.Extended {
		level = ort.GraphOptimizationLevelEnableExtended
	}
	mode := ort.ExecutionModeSequential
	if tuning.Parallel {
		mode = ort.ExecutionModeParallel
	}

	steps := []func() error{
		func() error { return options.SetGraphOptimizationLevel(level) },
		func() error { return options.SetExecutionMode(mode) },
		func() error { return options.SetIntraOpNumThreads(tuning.IntraOpThreads) },
		func() error { return options.SetInterOpNumThreads(tuning.InterOpThreads) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to apply session options: %w", err)
		}
	}

	if provider != nil {
		if err := provider.Append(options); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	return options, nil
}
