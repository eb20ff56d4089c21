package ops

import (
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ArgminForward writes into output the index of the smallest input element
// along dim. Ties resolve to the first occurrence. The output holds int64
// indices and its shape is the input shape with dim removed (size-1 kept
// dims are the caller's concern).
func ArgminForward(input, output *tensor.RawTensor, dim int) error {
	shape := input.Shape()
	if len(shape) == 0 {
		return fmt.Errorf("%w: argmin input must have at least one dimension", ErrInvalidParameter)
	}
	if dim < 0 || dim >= len(shape) {
		return fmt.Errorf("%w: argmin dim %d out of range for %d-d input", ErrInvalidParameter, dim, len(shape))
	}
	if output.DType() != tensor.Int64 {
		return fmt.Errorf("%w: argmin output must be int64, got %s", ErrInvalidParameter, output.DType())
	}

	reduceSize := shape[dim]
	outer := 1
	for _, d := range shape[:dim] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	if output.NumElements() != outer*inner {
		return fmt.Errorf("%w: argmin output has %d elements, want %d", ErrInvalidParameter, output.NumElements(), outer*inner)
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	out := output.AsInt64()

	parallel.For(outer*inner, func(o int) {
		outerIdx, innerIdx := o/inner, o%inner
		base := outerIdx*reduceSize*inner + innerIdx

		best := in[base]
		bestIdx := int64(0)
		for r := 1; r < reduceSize; r++ {
			if v := in[base+r*inner]; v < best {
				best = v
				bestIdx = int64(r)
			}
		}
		out[o] = bestIdx
	}, parallel.DefaultConfig())

	return nil
}
