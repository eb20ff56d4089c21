//go:build !windows

// Package webgpu runs the device kernels through WebGPU. On platforms
// where the go-webgpu bindings are unavailable every entry point reports
// ErrUnsupported so callers fall back to the host path.
package webgpu

import (
	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/ops"
	"github.com/kestrel-ml/kestrel/internal/solver"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// Backend is a placeholder on platforms without WebGPU bindings.
type Backend struct{}

func New() (*Backend, error) { return nil, ErrUnsupported }

func IsAvailable() bool { return false }

func (b *Backend) AdapterName() string { return "unavailable" }

func (b *Backend) Release() {}

func (b *Backend) BNForwardInfer(layout bn.Layout, x, y, scale, bias, estMean, estVar *tensor.RawTensor, epsilon float64, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}

func (b *Backend) WhereForward(cond, input, other, output *tensor.RawTensor, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}

func (b *Backend) WhereBackward(cond, outputGrad, inputGrad, otherGrad *tensor.RawTensor, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}

func (b *Backend) NLLLossUnreduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}

func (b *Backend) Argmin(input, output *tensor.RawTensor, dim int, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}

func (b *Backend) AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq *tensor.RawTensor, acfg ops.AdamConfig, cfg solver.LaunchConfig) error {
	return ErrUnsupported
}
