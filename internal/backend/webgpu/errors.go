package webgpu

import "errors"

// ErrUnsupported is returned on platforms without WebGPU bindings, and by
// New when device creation fails outright.
var ErrUnsupported = errors.New("webgpu: not supported on this platform")
