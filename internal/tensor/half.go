package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// The half-precision formats are storage-only: kernels never do arithmetic on
// 16-bit values. Values and StoreValues bridge between a tensor's storage
// dtype and the compute type a kernel was instantiated with.

// bfloat16 is the upper half of a float32; rounding is to-nearest-even to
// match hardware convert instructions.
func bfloat16ToFloat32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}

func float32ToBFloat16(f float32) uint16 {
	u := math.Float32bits(f)
	rounding := uint32(0x7fff + ((u >> 16) & 1))
	return uint16((u + rounding) >> 16)
}

// Values decodes the tensor's storage into a slice of the compute type T.
// Float32 and Float64 storage matching T is returned as a zero-copy view;
// every other combination allocates and converts.
func Values[T Elem](r *RawTensor) ([]T, error) {
	n := r.NumElements()
	var dummy T

	switch any(dummy).(type) {
	case float32:
		switch r.DType() {
		case Float32:
			return any(r.AsFloat32()).([]T), nil
		case Float64:
			src := r.AsFloat64()
			out := make([]float32, n)
			for i, v := range src {
				out[i] = float32(v)
			}
			return any(out).([]T), nil
		case Float16:
			src := r.AsUint16()
			out := make([]float32, n)
			for i, bits := range src {
				out[i] = float16.Frombits(bits).Float32()
			}
			return any(out).([]T), nil
		case BFloat16:
			src := r.AsUint16()
			out := make([]float32, n)
			for i, bits := range src {
				out[i] = bfloat16ToFloat32(bits)
			}
			return any(out).([]T), nil
		}
	case float64:
		switch r.DType() {
		case Float64:
			return any(r.AsFloat64()).([]T), nil
		case Float32:
			src := r.AsFloat32()
			out := make([]float64, n)
			for i, v := range src {
				out[i] = float64(v)
			}
			return any(out).([]T), nil
		case Float16:
			src := r.AsUint16()
			out := make([]float64, n)
			for i, bits := range src {
				out[i] = float64(float16.Frombits(bits).Float32())
			}
			return any(out).([]T), nil
		case BFloat16:
			src := r.AsUint16()
			out := make([]float64, n)
			for i, bits := range src {
				out[i] = float64(bfloat16ToFloat32(bits))
			}
			return any(out).([]T), nil
		}
	}
	return nil, fmt.Errorf("cannot decode %s storage as compute type %T", r.DType(), dummy)
}

// StoreValues encodes a compute-type slice back into the tensor's storage.
// It is the inverse of Values; zero-copy views need no store (the data is
// already in place), but callers are expected not to rely on that and always
// pair Values with StoreValues for output tensors.
func StoreValues[T Elem](r *RawTensor, vals []T) error {
	if len(vals) != r.NumElements() {
		return fmt.Errorf("value count %d does not match tensor size %d", len(vals), r.NumElements())
	}

	switch r.DType() {
	case Float32:
		dst := r.AsFloat32()
		for i, v := range vals {
			dst[i] = float32(v)
		}
	case Float64:
		dst := r.AsFloat64()
		for i, v := range vals {
			dst[i] = float64(v)
		}
	case Float16:
		dst := r.AsUint16()
		for i, v := range vals {
			dst[i] = float16.Fromfloat32(float32(v)).Bits()
		}
	case BFloat16:
		dst := r.AsUint16()
		for i, v := range vals {
			dst[i] = float32ToBFloat16(float32(v))
		}
	default:
		return fmt.Errorf("cannot encode compute values into %s storage", r.DType())
	}
	return nil
}
