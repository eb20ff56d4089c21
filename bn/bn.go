// Copyright 2026 Kestrel ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package bn provides the public API for the batch-normalization
// statistics engine: forward training, forward inference, and backward,
// in per-activation and spatial layouts.
//
// Example:
//
//	cfg := bn.Config{Epsilon: 1e-5, ExpAvgFactor: 0.1, SaveStats: true, TrackRunningStats: true}
//	err := bn.ForwardTrain(bn.Spatial, x, y, scale, bias, stats, cfg)
package bn

import (
	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ErrInvalidParameter reports shape, dtype, or configuration mismatches.
var ErrInvalidParameter = bn.ErrInvalidParameter

// Layout selects the normalization grouping.
type Layout = bn.Layout

// Layout constants.
const (
	PerActivation Layout = bn.PerActivation
	Spatial       Layout = bn.Spatial
)

// Config carries the scalar knobs of a batch-norm call.
type Config = bn.Config

// Stats bundles the optional running and saved statistic buffers.
type Stats = bn.Stats

// GroupCount returns the number of statistic groups for the layout.
func GroupCount(layout Layout, c, h, w int) int {
	return bn.GroupCount(layout, c, h, w)
}

// ForwardTrain normalizes x into y with batch statistics and updates the
// buffers in stats according to cfg.
func ForwardTrain(layout Layout, x, y, scale, bias *tensor.RawTensor, stats Stats, cfg Config) error {
	return bn.ForwardTrain(layout, x, y, scale, bias, stats, cfg)
}

// ForwardInfer normalizes x into y with estimated statistics; when both
// estimates are nil, batch statistics are computed and nothing is mutated.
func ForwardInfer(layout Layout, x, y, scale, bias, estMean, estVar *tensor.RawTensor, epsilon float64) error {
	return bn.ForwardInfer(layout, x, y, scale, bias, estMean, estVar, epsilon)
}

// Backward computes dx, dscale, and dbias from dy, reusing saved statistics
// when present and recomputing them otherwise.
func Backward(layout Layout, x, dy, dx, scale, dscale, dbias, savedMean, savedInvVar *tensor.RawTensor, epsilon float64) error {
	return bn.Backward(layout, x, dy, dx, scale, dscale, dbias, savedMean, savedInvVar, epsilon)
}
