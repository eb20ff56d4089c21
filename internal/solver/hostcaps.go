package solver

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// hostKernelName marks a launch configuration that runs on the host
// reference path rather than a WGSL entry point.
const hostKernelName = "host-reference"

// hostChunkHint sizes per-goroutine work chunks for the host path. Wide
// vector units amortize loop overhead over longer runs, so chunks grow
// when the probe finds them.
func hostChunkHint() int {
	if wideVectors() {
		return 4096
	}
	return 1024
}

func wideVectors() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX2
	case "arm64":
		return cpu.ARM64.HasASIMD
	}
	return false
}
