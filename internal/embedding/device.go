package embedding

import (
	"os"
	"runtime"
	"time"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// PlatformGPU returns the GPU device used on goos, or cpu when the
// platform has none supported.
func PlatformGPU(goos string) domain.Device {
	switch goos {
	case "linux":
		return domain.DeviceCUDA
	case "windows":
		return domain.DeviceDML
	default:
		return domain.DeviceCPU
	}
}

// DetectGPU reports whether a usable GPU is present on this machine.
// NVIDIA drivers are looked for on Linux; DirectML is assumed on Windows.
func DetectGPU() bool {
	switch runtime.GOOS {
	case "linux":
		if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
			return true
		}
		return cmdrun.Available("nvidia-smi")
	case "windows":
		return true
	default:
		return false
	}
}

// Resolve computes the runtime configuration for cfg.
func Resolve(cfg Config, goos string, gpuDetected bool) domain.ResolvedEmbedderConfig {
	requested := cfg.Device
	if requested == "" {
		requested = domain.DeviceAuto
	}

	device := requested
	if requested == domain.DeviceAuto {
		device = domain.DeviceCPU
		if cfg.PreferGPU && gpuDetected {
			device = PlatformGPU(goos)
		}
	}

	return domain.ResolvedEmbedderConfig{
		Model:           cfg.Model,
		Backend:         cfg.Backend,
		Dimensions:      cfg.Dimensions,
		RequestedDevice: requested,
		Device:          device,
		Quantization:    resolveQuantization(cfg.Quantization, device),
		GPUDetected:     gpuDetected,
		GPUUsed:         device.IsGPU(),
		ResolvedAt:      time.Now().UTC(),
	}
}

func resolveQuantization(q domain.Quantization, device domain.Device) domain.Quantization {
	if q != "" && q != domain.QuantAuto {
		return q
	}
	if device.IsGPU() {
		return domain.QuantFP16
	}
	return domain.QuantQ8
}

// toCPU returns the configuration after a GPU failure.
func toCPU(cur domain.ResolvedEmbedderConfig, requested domain.Quantization, reason string) domain.ResolvedEmbedderConfig {
	next := cur
	next.Device = domain.DeviceCPU
	next.GPUUsed = false
	next.Quantization = resolveQuantization(requested, domain.DeviceCPU)
	next.FallbackReason = reason
	next.ResolvedAt = time.Now().UTC()
	return next
}
