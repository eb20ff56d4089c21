package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
//  1. Compare shapes element-wise from right to left
//  2. Dimensions are compatible if they are equal or one of them is 1
//  3. Missing dimensions are treated as 1
//
// Returns the broadcast shape, a flag indicating whether any operand actually
// needs broadcasting, and an error if the shapes are incompatible.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	out := make(Shape, maxLen)
	needsBroadcast := len(a) != len(b)

	for i := 0; i < maxLen; i++ {
		dimA, dimB := 1, 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		switch {
		case dimA == dimB:
			out[maxLen-1-i] = dimA
		case dimA == 1:
			out[maxLen-1-i] = dimB
			needsBroadcast = true
		case dimB == 1:
			out[maxLen-1-i] = dimA
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}

	return out, needsBroadcast, nil
}
