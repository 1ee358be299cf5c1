// Package hardware probes the local machine for the memory capacity used by
// the cleanup scorer to flag models that cannot run on the detected
// hardware. Detection is best-effort: an unknown capacity disables the
// incompatibility signal rather than failing cleanup.
package hardware

import "context"

// Info describes the detected hardware relevant to model compatibility.
type Info struct {
	// TotalMemoryBytes is system RAM. Zero when detection failed.
	TotalMemoryBytes uint64

	// GPUMemoryBytes is the largest single-device VRAM found. Zero when no
	// GPU was detected.
	GPUMemoryBytes uint64
}

// UsableBytes returns the memory budget a model must fit into: the larger of
// GPU memory and system RAM.
func (i Info) UsableBytes() uint64 {
	if i.GPUMemoryBytes > i.TotalMemoryBytes {
		return i.GPUMemoryBytes
	}
	return i.TotalMemoryBytes
}

// Detector reports hardware capacity.
type Detector interface {
	Detect(ctx context.Context) (Info, error)
}

// GenericDetector reads system memory from the OS. It never errors; missing
// information is reported as zero.
type GenericDetector struct{}

// NewDetector creates the platform detector.
func NewDetector() *GenericDetector {
	return &GenericDetector{}
}

// Detect implements Detector.
func (d *GenericDetector) Detect(ctx context.Context) (Info, error) {
	return Info{
		TotalMemoryBytes: totalSystemMemory(),
		GPUMemoryBytes:   gpuMemoryBytes(ctx),
	}, nil
}

// StaticDetector returns a fixed Info; used in tests and for configuration
// overrides.
type StaticDetector struct {
	Info Info
}

// Detect implements Detector.
func (d *StaticDetector) Detect(_ context.Context) (Info, error) {
	return d.Info, nil
}
