package ops

import (
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// Where is a broadcasting element select: output = condition ? input : other.
// Broadcasting uses flat modulo index arithmetic over the flattened operands
// (index % operand_size) rather than materializing broadcast copies. That
// arithmetic is exact only when each operand is a contiguous trailing tile
// of the output, so operands whose broadcast dimensions sit between real
// dimensions (e.g. (2,1,3) against a (2,4,3) output) are rejected rather
// than silently mis-indexed.

// suffixTile reports whether a row-major operand of shape op repeats
// cleanly under flat modulo indexing over out: after dropping leading
// size-1 dims, op must equal the trailing dims of out.
func suffixTile(op, out tensor.Shape) bool {
	for len(op) > 0 && op[0] == 1 {
		op = op[1:]
	}
	if len(op) > len(out) {
		return false
	}
	tail := out[len(out)-len(op):]
	for i := range op {
		if op[i] != tail[i] {
			return false
		}
	}
	return true
}

func whereOutputShape(condition, input, other *tensor.RawTensor) (tensor.Shape, error) {
	s, _, err := tensor.BroadcastShapes(input.Shape(), other.Shape())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	s, _, err = tensor.BroadcastShapes(s, condition.Shape())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	for name, t := range map[string]*tensor.RawTensor{"condition": condition, "input": input, "other": other} {
		if !suffixTile(t.Shape(), s) {
			return nil, fmt.Errorf("%w: where %s shape %v does not tile output shape %v contiguously",
				ErrInvalidParameter, name, t.Shape(), s)
		}
	}
	return s, nil
}

// WhereForward selects input where condition holds, other elsewhere.
func WhereForward(condition, input, other, output *tensor.RawTensor) error {
	outShape, err := whereOutputShape(condition, input, other)
	if err != nil {
		return err
	}
	if !output.Shape().Equal(outShape) {
		return fmt.Errorf("%w: where output shape %v, want broadcast shape %v",
			ErrInvalidParameter, output.Shape(), outShape)
	}

	cond, err := conditionValues(condition)
	if err != nil {
		return err
	}
	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	oth, err := tensor.Values[float64](other)
	if err != nil {
		return err
	}

	out := make([]float64, output.NumElements())
	condSize, inSize, othSize := len(cond), len(in), len(oth)
	parallel.For(len(out), func(i int) {
		if cond[i%condSize] {
			out[i] = in[i%inSize]
		} else {
			out[i] = oth[i%othSize]
		}
	}, parallel.DefaultConfig())

	return tensor.StoreValues(output, out)
}

// WhereBackward routes the output gradient to whichever operand was
// selected; the unselected operand receives zero. Either gradient tensor may
// be nil to skip it. Broadcast operands accumulate the gradients of every
// output position they fed, under the same contiguous-tile rule as the
// forward pass.
func WhereBackward(condition, outputGrad, inputGrad, otherGrad *tensor.RawTensor) error {
	outShape := outputGrad.Shape()
	if !suffixTile(condition.Shape(), outShape) {
		return fmt.Errorf("%w: where condition shape %v does not tile output gradient shape %v contiguously",
			ErrInvalidParameter, condition.Shape(), outShape)
	}
	for name, t := range map[string]*tensor.RawTensor{"input": inputGrad, "other": otherGrad} {
		if t != nil && !suffixTile(t.Shape(), outShape) {
			return fmt.Errorf("%w: where %s gradient shape %v does not tile output gradient shape %v contiguously",
				ErrInvalidParameter, name, t.Shape(), outShape)
		}
	}

	cond, err := conditionValues(condition)
	if err != nil {
		return err
	}
	dout, err := tensor.Values[float64](outputGrad)
	if err != nil {
		return err
	}

	size := len(dout)
	condSize := len(cond)

	if inputGrad != nil {
		din := make([]float64, inputGrad.NumElements())
		for i := 0; i < size; i++ {
			if cond[i%condSize] {
				din[i%len(din)] += dout[i]
			}
		}
		if err := tensor.StoreValues(inputGrad, din); err != nil {
			return err
		}
	}
	if otherGrad != nil {
		doth := make([]float64, otherGrad.NumElements())
		for i := 0; i < size; i++ {
			if !cond[i%condSize] {
				doth[i%len(doth)] += dout[i]
			}
		}
		return tensor.StoreValues(otherGrad, doth)
	}
	return nil
}
