// Copyright 2026 Kestrel ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu exposes the WebGPU compute backend that runs the f32
// device kernels selected by the solver registry. On platforms without
// the native wgpu bindings every call returns ErrUnsupported, so callers
// can probe with IsAvailable and fall back to the host reference path.
//
// Example:
//
//	gpu, err := webgpu.New()
//	if err != nil {
//	    // host path only
//	}
//	defer gpu.Release()
package webgpu

import (
	"github.com/kestrel-ml/kestrel/internal/backend/webgpu"
)

// Backend owns a WebGPU device and its shader and pipeline caches.
type Backend = webgpu.Backend

// ErrUnsupported is returned on platforms without WebGPU bindings.
var ErrUnsupported = webgpu.ErrUnsupported

// New creates a Backend on the default adapter.
func New() (*Backend, error) { return webgpu.New() }

// IsAvailable reports whether a WebGPU device can be created.
func IsAvailable() bool { return webgpu.IsAvailable() }
