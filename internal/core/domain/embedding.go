package domain

import "time"

// Device is the compute device an embedding model runs on.
type Device string

// Supported devices.
const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceDML  Device = "dml"
)

// IsValid returns true if the device is recognised.
func (d Device) IsValid() bool {
	switch d {
	case DeviceAuto, DeviceCPU, DeviceCUDA, DeviceDML:
		return true
	default:
		return false
	}
}

// IsGPU reports whether the device is a GPU backend.
func (d Device) IsGPU() bool {
	return d == DeviceCUDA || d == DeviceDML
}

// Quantization is the numeric precision of model weights.
type Quantization string

// Supported quantizations.
const (
	QuantAuto Quantization = "auto"
	QuantFP32 Quantization = "fp32"
	QuantFP16 Quantization = "fp16"
	QuantQ8   Quantization = "q8"
	QuantQ4   Quantization = "q4"
)

// IsValid returns true if the quantization is recognised.
func (q Quantization) IsValid() bool {
	switch q {
	case QuantAuto, QuantFP32, QuantFP16, QuantQ8, QuantQ4:
		return true
	default:
		return false
	}
}

// ResolvedEmbedderConfig is the effective runtime configuration of an
// embedder. It is computed once and may only transition from GPU to CPU.
type ResolvedEmbedderConfig struct {
	// Model is the embedding model name.
	Model string `json:"model" toml:"model"`

	// Backend is the provider that runs the model.
	Backend string `json:"backend" toml:"backend"`

	// Dimensions is the output vector size.
	Dimensions int `json:"dimensions" toml:"dimensions"`

	// RequestedDevice is the device asked for in settings.
	RequestedDevice Device `json:"requested_device" toml:"requested_device"`

	// Device is the device actually in use.
	Device Device `json:"device" toml:"device"`

	// Quantization is the precision actually in use.
	Quantization Quantization `json:"quantization" toml:"quantization"`

	// GPUDetected is true when a usable GPU was found at resolution.
	GPUDetected bool `json:"gpu_detected" toml:"gpu_detected"`

	// GPUUsed is true while the model runs on a GPU.
	GPUUsed bool `json:"gpu_used" toml:"gpu_used"`

	// FallbackReason explains a GPU to CPU transition.
	FallbackReason string `json:"fallback_reason,omitempty" toml:"fallback_reason,omitempty"`

	// ResolvedAt is when the configuration was computed or last changed.
	ResolvedAt time.Time `json:"resolved_at" toml:"resolved_at"`
}

// FellBack reports whether the embedder moved from GPU to CPU.
func (c ResolvedEmbedderConfig) FellBack() bool {
	return c.FallbackReason != ""
}
