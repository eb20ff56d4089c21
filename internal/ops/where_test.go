package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func TestWhereForward(t *testing.T) {
	cond := fromBool(t, tensor.Shape{4}, []bool{true, false, true, false})
	input := fromF64(t, tensor.Shape{4}, []float64{1, 2, 3, 4})
	other := fromF64(t, tensor.Shape{4}, []float64{-1, -2, -3, -4})
	output := newT(t, tensor.Shape{4}, tensor.Float64)

	require.NoError(t, WhereForward(cond, input, other, output))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 3, -4}, out)
}

func TestWhereForwardUint8Condition(t *testing.T) {
	cond, err := tensor.FromSlice([]uint8{1, 0, 1}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	input := fromF64(t, tensor.Shape{3}, []float64{5, 6, 7})
	other := fromF64(t, tensor.Shape{3}, []float64{0, 0, 0})
	output := newT(t, tensor.Shape{3}, tensor.Float64)

	require.NoError(t, WhereForward(cond, input, other, output))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 0, 7}, out)
}

func TestWhereForwardBroadcast(t *testing.T) {
	// Scalar condition against a 2x2 pair of operands.
	cond := fromBool(t, tensor.Shape{1}, []bool{true})
	input := fromF64(t, tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	other := fromF64(t, tensor.Shape{2, 2}, []float64{9, 9, 9, 9})
	output := newT(t, tensor.Shape{2, 2}, tensor.Float64)

	require.NoError(t, WhereForward(cond, input, other, output))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, out)

	// Scalar input broadcast against a full-size condition.
	cond = fromBool(t, tensor.Shape{2, 2}, []bool{true, false, false, true})
	input = fromF64(t, tensor.Shape{1}, []float64{7})
	require.NoError(t, WhereForward(cond, input, other, output))
	out, err = tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 9, 9, 7}, out)
}

func TestWhereForwardSuffixBroadcast(t *testing.T) {
	// A trailing-dims operand tiles the output cleanly under flat modulo
	// indexing: input {4, 3} repeats once per outer row of {2, 4, 3}.
	cond := make([]bool, 24)
	for i := range cond {
		cond[i] = true
	}
	condT := fromBool(t, tensor.Shape{2, 4, 3}, cond)
	in := make([]float64, 12)
	for i := range in {
		in[i] = float64(i)
	}
	input := fromF64(t, tensor.Shape{4, 3}, in)
	other := fromF64(t, tensor.Shape{2, 4, 3}, make([]float64, 24))
	output := newT(t, tensor.Shape{2, 4, 3}, tensor.Float64)

	require.NoError(t, WhereForward(condT, input, other, output))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, append(append([]float64{}, in...), in...), out)
}

func TestWhereForwardMidAxisBroadcastRejected(t *testing.T) {
	// An operand broadcast along a middle axis does not repeat cleanly
	// under flat modulo indexing, so it must be refused rather than
	// produce values from the wrong rows.
	cond := make([]bool, 24)
	for i := range cond {
		cond[i] = true
	}
	condT := fromBool(t, tensor.Shape{2, 4, 3}, cond)
	input := fromF64(t, tensor.Shape{2, 1, 3}, []float64{10, 11, 12, 20, 21, 22})
	other := fromF64(t, tensor.Shape{2, 4, 3}, make([]float64, 24))
	output := newT(t, tensor.Shape{2, 4, 3}, tensor.Float64)

	err := WhereForward(condT, input, other, output)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestWhereForwardShapeMismatch(t *testing.T) {
	cond := fromBool(t, tensor.Shape{3}, []bool{true, true, true})
	input := fromF64(t, tensor.Shape{2}, []float64{1, 2})
	other := fromF64(t, tensor.Shape{2}, []float64{3, 4})
	output := newT(t, tensor.Shape{3}, tensor.Float64)

	err := WhereForward(cond, input, other, output)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestWhereBackward(t *testing.T) {
	cond := fromBool(t, tensor.Shape{4}, []bool{true, false, true, false})
	outputGrad := fromF64(t, tensor.Shape{4}, []float64{10, 20, 30, 40})
	inputGrad := newT(t, tensor.Shape{4}, tensor.Float64)
	otherGrad := newT(t, tensor.Shape{4}, tensor.Float64)

	require.NoError(t, WhereBackward(cond, outputGrad, inputGrad, otherGrad))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	doth, err := tensor.Values[float64](otherGrad)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0, 30, 0}, din)
	assert.Equal(t, []float64{0, 20, 0, 40}, doth)
}

func TestWhereBackwardBroadcastAccumulates(t *testing.T) {
	// A scalar input that fed every selected position receives the sum of
	// their gradients.
	cond := fromBool(t, tensor.Shape{4}, []bool{true, false, true, true})
	outputGrad := fromF64(t, tensor.Shape{4}, []float64{1, 2, 3, 4})
	inputGrad := newT(t, tensor.Shape{1}, tensor.Float64)

	require.NoError(t, WhereBackward(cond, outputGrad, inputGrad, nil))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	assert.Equal(t, []float64{1 + 3 + 4}, din)
}

func TestWhereBackwardMidAxisBroadcastRejected(t *testing.T) {
	cond := make([]bool, 24)
	for i := range cond {
		cond[i] = true
	}
	condT := fromBool(t, tensor.Shape{2, 4, 3}, cond)
	outputGrad := fromF64(t, tensor.Shape{2, 4, 3}, make([]float64, 24))

	// Gradient buffer broadcast along a middle axis cannot accumulate
	// correctly under flat modulo indexing.
	inputGrad := newT(t, tensor.Shape{2, 1, 3}, tensor.Float64)
	err := WhereBackward(condT, outputGrad, inputGrad, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	// Same rule applies to the other-branch gradient.
	otherGrad := newT(t, tensor.Shape{2, 1, 3}, tensor.Float64)
	err = WhereBackward(condT, outputGrad, nil, otherGrad)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestWhereBackwardConditionShapeMismatch(t *testing.T) {
	cond := fromBool(t, tensor.Shape{2, 1, 3}, make([]bool, 6))
	outputGrad := fromF64(t, tensor.Shape{2, 4, 3}, make([]float64, 24))
	inputGrad := newT(t, tensor.Shape{2, 4, 3}, tensor.Float64)

	err := WhereBackward(cond, outputGrad, inputGrad, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestWhereBackwardNilGradsSkipped(t *testing.T) {
	cond := fromBool(t, tensor.Shape{2}, []bool{true, false})
	outputGrad := fromF64(t, tensor.Shape{2}, []float64{1, 2})

	assert.NoError(t, WhereBackward(cond, outputGrad, nil, nil))
}
