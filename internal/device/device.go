package device

import (
	"context"
	"os/exec"
	"time"
)

// Backend identifies the compute substrate the model runs on.
type Backend string

const (
	BackendCPU    Backend = "cpu"
	BackendNvidia Backend = "gpu_nvidia"
	BackendAMD    Backend = "gpu_amd"
)

// Precision is the numeric mode the model computes in.
type Precision string

const (
	PrecisionInt8    Precision = "int8"
	PrecisionFloat16 Precision = "float16"
	PrecisionFloat32 Precision = "float32"
)

// Config is the resolved compute configuration. It is fixed for the
// process lifetime once Resolve returns.
type Config struct {
	Backend   Backend
	Precision Precision
}

// Probe reports whether an accelerator family is present and usable.
type Probe func(ctx context.Context) bool

// Resolver decides which backend and precision to run on. Probes are
// injectable so resolution is testable without hardware.
type Resolver struct {
	NvidiaProbe Probe
	AMDProbe    Probe
}

func NewResolver() *Resolver {
	return &Resolver{
		NvidiaProbe: commandProbe("nvidia-smi", "-L"),
		AMDProbe:    commandProbe("rocm-smi", "--showid"),
	}
}

// Resolve picks the best available backend: NVIDIA with float16, then
// AMD with float16, then cpu with int8. Probe failures count as "not
// available" and are never propagated.
func (r *Resolver) Resolve(ctx context.Context) Config {
	if r.NvidiaProbe != nil && r.NvidiaProbe(ctx) {
		return Config{Backend: BackendNvidia, Precision: PrecisionFloat16}
	}
	if r.AMDProbe != nil && r.AMDProbe(ctx) {
		return Config{Backend: BackendAMD, Precision: PrecisionFloat16}
	}
	return Config{Backend: BackendCPU, Precision: PrecisionInt8}
}

// ForBackend returns the config for an explicitly requested backend,
// bypassing probes. GPU backends get float16, cpu gets int8.
func ForBackend(backend Backend) Config {
	switch backend {
	case BackendNvidia, BackendAMD:
		return Config{Backend: backend, Precision: PrecisionFloat16}
	default:
		return Config{Backend: BackendCPU, Precision: PrecisionInt8}
	}
}

// commandProbe runs a driver CLI and treats any failure (missing
// binary, non-zero exit, hang) as absence of the accelerator.
func commandProbe(name string, args ...string) Probe {
	return func(ctx context.Context) bool {
		if _, err := exec.LookPath(name); err != nil {
			return false
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return exec.CommandContext(ctx, name, args...).Run() == nil
	}
}
