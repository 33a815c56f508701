// Package providers - Apple CoreML execution provider.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags, see coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly              uint32 = 0x001
	coreMLFlagEnableOnSubgraph        uint32 = 0x002
	coreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
	coreMLFlagOnlyAllowStaticShapes   uint32 = 0x008
	coreMLFlagCreateMLProgram         uint32 = 0x010
	coreMLFlagUseCPUAndGPU            uint32 = 0x020
)

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// MLProgram creates an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or
	// macOS 12+). The default is NeuralNetwork.
	MLProgram bool `json:"mlProgram"                yaml:"mlProgram"`
	// ComputeUnits is one of ALL (default), CPUOnly, CPUAndGPU, CPUAndNeuralEngine.
	ComputeUnits string `json:"computeUnits"             yaml:"computeUnits"`
	// RequireStaticInputShapes only lets CoreML take nodes whose inputs have static shapes.
	RequireStaticInputShapes bool `json:"requireStaticInputShapes" yaml:"requireStaticInputShapes"`
	// EnableOnSubgraphs lets CoreML run inside the body of control flow operators.
	EnableOnSubgraphs bool `json:"enableOnSubgraphs"        yaml:"enableOnSubgraphs"`
}

// Flags returns the CoreML provider flag word for the options.
func (o CoreMLOptions) Flags() (uint32, error) {
	var flags uint32
	if o.MLProgram {
		flags |= coreMLFlagCreateMLProgram
	}
	if o.RequireStaticInputShapes {
		flags |= coreMLFlagOnlyAllowStaticShapes
	}
	if o.EnableOnSubgraphs {
		flags |= coreMLFlagEnableOnSubgraph
	}
	switch o.ComputeUnits {
	case "", "ALL":
	case "CPUOnly":
		flags |= coreMLFlagUseCPUOnly
	case "CPUAndGPU":
		flags |= coreMLFlagUseCPUAndGPU
	case "CPUAndNeuralEngine":
		flags |= coreMLFlagOnlyEnableDeviceWithANE
	default:
		return 0, fmt.Errorf("unknown CoreML compute units %q", o.ComputeUnits)
	}
	return flags, nil
}

func (CoreMLOptions) isProviderOptions() {}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Options returns the options of the CoreML provider.
func (p *CoreMLProvider) Options() ProviderOptions {
	return p.options
}

// Append enables CoreML on options.
func (p *CoreMLProvider) Append(options *ort.SessionOptions) error {
	flags, err := p.options.Flags()
	if err != nil {
		return err
	}
	if err := options.AppendExecutionProviderCoreML(flags); err != nil {
		return fmt.Errorf("error enabling CoreML: %w", err)
	}
	return nil
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{
		options: options,
	}
}
