// Copyright 2026 Kestrel ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package ops provides the public API for the auxiliary primitives:
// NLL loss, KL-divergence loss, Where, Unfold, Adam, and Argmin.
package ops

import (
	"github.com/kestrel-ml/kestrel/internal/ops"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ErrInvalidParameter reports shape, dtype, or configuration mismatches.
var ErrInvalidParameter = ops.ErrInvalidParameter

// Reduction selects how a loss is reduced.
type Reduction = ops.Reduction

// Reduction constants.
const (
	ReductionNone Reduction = ops.ReductionNone
	ReductionSum  Reduction = ops.ReductionSum
	ReductionMean Reduction = ops.ReductionMean
)

// ParseReduction maps "none", "sum", or "mean" to a Reduction.
func ParseReduction(s string) (Reduction, error) { return ops.ParseReduction(s) }

// NLLLossUnreduceForward computes per-position weighted NLL loss.
func NLLLossUnreduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64) error {
	return ops.NLLLossUnreduceForward(input, target, weight, output, ignoreIndex)
}

// NLLLossReduceForward computes the NLL loss summed and divided by divisor.
func NLLLossReduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64, divisor float64) error {
	return ops.NLLLossReduceForward(input, target, weight, output, ignoreIndex, divisor)
}

// NLLLossUnreduceBackward scatters per-position gradients into inputGrad.
func NLLLossUnreduceBackward(inputGrad, target, weight, outputGrad *tensor.RawTensor, ignoreIndex int64) error {
	return ops.NLLLossUnreduceBackward(inputGrad, target, weight, outputGrad, ignoreIndex)
}

// NLLLossReduceBackward scatters the reduced gradient into inputGrad.
func NLLLossReduceBackward(inputGrad, target, weight, outputGrad *tensor.RawTensor, ignoreIndex int64, divisor float64) error {
	return ops.NLLLossReduceBackward(inputGrad, target, weight, outputGrad, ignoreIndex, divisor)
}

// NLLLossMeanDivisor counts the non-ignored target positions.
func NLLLossMeanDivisor(target *tensor.RawTensor, ignoreIndex int64) (float64, error) {
	return ops.NLLLossMeanDivisor(target, ignoreIndex)
}

// GetNLLLossReduceForwardWorkspaceSize reports the reduction scratch bytes.
func GetNLLLossReduceForwardWorkspaceSize(target, output *tensor.RawTensor) (int, error) {
	return ops.GetNLLLossReduceForwardWorkspaceSize(target, output)
}

// KLDivLossUnreduceForward computes pointwise KL divergence.
func KLDivLossUnreduceForward(input, target, output *tensor.RawTensor, logTarget bool) error {
	return ops.KLDivLossUnreduceForward(input, target, output, logTarget)
}

// KLDivLossReduceForward computes KL divergence summed and divided by divisor.
func KLDivLossReduceForward(input, target, output *tensor.RawTensor, logTarget bool, divisor float64) error {
	return ops.KLDivLossReduceForward(input, target, output, logTarget, divisor)
}

// KLDivLossBackward computes input and/or target gradients; nil gradient
// tensors are skipped.
func KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad *tensor.RawTensor, logTarget bool, divisor float64) error {
	return ops.KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad, logTarget, divisor)
}

// WhereForward selects input or other elements by condition with broadcast.
func WhereForward(cond, input, other, output *tensor.RawTensor) error {
	return ops.WhereForward(cond, input, other, output)
}

// WhereBackward routes the output gradient by condition; nil gradient
// tensors are skipped and broadcast operands accumulate.
func WhereBackward(cond, outputGrad, inputGrad, otherGrad *tensor.RawTensor) error {
	return ops.WhereBackward(cond, outputGrad, inputGrad, otherGrad)
}

// UnfoldParams describes the im2col window geometry.
type UnfoldParams = ops.UnfoldParams

// UnfoldForward extracts sliding local blocks (im2col).
func UnfoldForward(input, output *tensor.RawTensor, p UnfoldParams) error {
	return ops.UnfoldForward(input, output, p)
}

// UnfoldBackward scatter-adds block gradients back over the input.
func UnfoldBackward(inputGrad, outputGrad *tensor.RawTensor, p UnfoldParams) error {
	return ops.UnfoldBackward(inputGrad, outputGrad, p)
}

// AdamConfig carries Adam hyperparameters and policy switches.
type AdamConfig = ops.AdamConfig

// DefaultAdamConfig returns conventional Adam hyperparameters.
func DefaultAdamConfig() AdamConfig { return ops.DefaultAdamConfig() }

// AdamStep applies cfg.StepCount Adam updates to params in place.
func AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq *tensor.RawTensor, cfg AdamConfig) error {
	return ops.AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq, cfg)
}

// ArgminForward writes the index of the smallest element along dim.
func ArgminForward(input, output *tensor.RawTensor, dim int) error {
	return ops.ArgminForward(input, output, dim)
}
