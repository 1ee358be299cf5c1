package hardware

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// gpuMemoryBytes queries nvidia-smi for per-device VRAM. Zero when the tool
// is missing or its output is unusable.
func gpuMemoryBytes(ctx context.Context) uint64 {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0
	}
	return parseGPUMemory(string(out))
}

// parseGPUMemory reads nvidia-smi csv output, one MiB total per device line,
// and returns the largest device's capacity in bytes.
func parseGPUMemory(out string) uint64 {
	var largest uint64
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "MiB"))
		if line == "" {
			continue
		}
		mib, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			continue
		}
		if b := mib << 20; b > largest {
			largest = b
		}
	}
	return largest
}
