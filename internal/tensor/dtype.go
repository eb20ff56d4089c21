// Package tensor provides the descriptor and raw-buffer types shared by every
// primitive in the library: shapes with row-major strides, runtime data types
// (including the half-precision storage formats), and the reference-counted
// RawTensor that host references, solvers, and device kernels all consume.
package tensor

// Elem is a constraint for the compute types a kernel can be instantiated
// with. Storage-only formats (Float16, BFloat16) are decoded to one of these
// before any arithmetic happens; accumulation is widened further by the
// kernel itself.
type Elem interface {
	~float32 | ~float64
}

// DType is a constraint for types that can live in a RawTensor buffer.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~bool
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors. Float16 and BFloat16 are storage-only:
// they are decoded to float32 for computation.
const (
	Float32 DataType = iota
	Float64
	Float16
	BFloat16
	Int32
	Int64
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16, BFloat16:
		return 2
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the data type holds floating-point values,
// including the half-precision storage formats.
func (dt DataType) IsFloat() bool {
	switch dt {
	case Float32, Float64, Float16, BFloat16:
		return true
	default:
		return false
	}
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Float16 // raw half bits
	case bool:
		return Bool
	default:
		panic("unsupported type")
	}
}
