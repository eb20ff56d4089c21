// Copyright 2026 Kestrel ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensor descriptors and
// buffers in the Kestrel primitives library.
//
// The package re-exports the core types:
//   - RawTensor: shape/stride/dtype descriptor over a refcounted buffer
//   - Shape, DataType, Device: core type definitions
//   - Values/StoreValues: typed views with half-precision decoding
//
// Example:
//
//	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, tensor.CPU)
//	vals, _ := tensor.Values[float64](x)
package tensor

import (
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// DType is a constraint for tensor storage types.
type DType = tensor.DType

// Elem is a constraint for float element types usable in kernels.
type Elem = tensor.Elem

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Int32    DataType = tensor.Int32
	Int64    DataType = tensor.Int64
	Uint8    DataType = tensor.Uint8
	Bool     DataType = tensor.Bool
)

// Device identifies where a tensor's buffer lives.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// RawTensor is the low-level tensor: a typed descriptor over a
// reference-counted byte buffer.
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed tensor of the given shape and dtype.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice builds a tensor from existing data, inferring the dtype from T.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, device)
}

// Values returns the tensor's elements as []T, decoding half-precision
// storage when needed. The view is zero-copy when storage already matches T.
func Values[T Elem](r *RawTensor) ([]T, error) {
	return tensor.Values[T](r)
}

// StoreValues writes vals back into r, encoding to the storage dtype.
func StoreValues[T Elem](r *RawTensor, vals []T) error {
	return tensor.StoreValues(r, vals)
}

// BroadcastShapes computes the broadcast result shape of a and b.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
