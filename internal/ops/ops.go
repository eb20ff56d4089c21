// Package ops implements the host reference paths for the auxiliary
// primitives: NLL loss, KL-divergence loss, Where (masked select), Unfold
// (im2col), the Adam optimizer step, and Argmin.
//
// Each primitive is a closed-form per-element or per-group transform with a
// Forward/Backward entry-point pair over RawTensors. The primitives share no
// state with each other or with the batch-norm engine. Arithmetic runs in
// float64 and results are stored back in the tensor's storage precision, so
// the same entry points serve float32, float64, and the half formats.
package ops

import (
	"errors"
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ErrInvalidParameter reports a shape, dtype, or configuration mismatch.
var ErrInvalidParameter = errors.New("ops: invalid parameter")

// Reduction selects how a loss is folded into its output tensor.
type Reduction int

const (
	// ReductionNone emits one loss value per element.
	ReductionNone Reduction = iota
	// ReductionSum divides the total by 1.
	ReductionSum
	// ReductionMean divides the total by the contributing element count.
	ReductionMean
)

func (r Reduction) String() string {
	switch r {
	case ReductionNone:
		return "none"
	case ReductionSum:
		return "sum"
	case ReductionMean:
		return "mean"
	}
	return fmt.Sprintf("reduction(%d)", int(r))
}

// ParseReduction maps the conventional mode strings to a Reduction.
func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "none":
		return ReductionNone, nil
	case "sum":
		return ReductionSum, nil
	case "mean":
		return ReductionMean, nil
	default:
		return 0, fmt.Errorf("%w: unknown reduction mode %q", ErrInvalidParameter, s)
	}
}

// targetValues decodes an integer class-index tensor.
func targetValues(t *tensor.RawTensor) ([]int64, error) {
	switch t.DType() {
	case tensor.Int64:
		return t.AsInt64(), nil
	case tensor.Int32:
		src := t.AsInt32()
		out := make([]int64, len(src))
		for i, v := range src {
			out[i] = int64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: target dtype %s is not an integer type", ErrInvalidParameter, t.DType())
	}
}

// conditionValues decodes a Bool or Uint8 condition tensor into flags.
func conditionValues(t *tensor.RawTensor) ([]bool, error) {
	switch t.DType() {
	case tensor.Bool:
		return t.AsBool(), nil
	case tensor.Uint8:
		src := t.AsUint8()
		out := make([]bool, len(src))
		for i, v := range src {
			out[i] = v != 0
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: condition dtype %s must be bool or uint8", ErrInvalidParameter, t.DType())
	}
}
