package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

const ignoreNone int64 = -100

// One batch, three classes, two spatial positions. Class-major layout:
// input[n,t,d1,d2] = in[n*6 + t*2 + rest].
func nllFixture(t *testing.T) (input, target, weight *tensor.RawTensor) {
	t.Helper()
	input = fromF64(t, tensor.Shape{1, 3, 1, 2}, []float64{
		0.1, 0.2, // class 0
		1.0, 2.0, // class 1
		3.0, 4.0, // class 2
	})
	target = fromI64(t, tensor.Shape{1, 1, 2}, []int64{2, 1})
	weight = fromF64(t, tensor.Shape{3}, []float64{1, 2, 0.5})
	return input, target, weight
}

func TestNLLLossUnreduceForward(t *testing.T) {
	input, target, weight := nllFixture(t)
	output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)

	require.NoError(t, NLLLossUnreduceForward(input, target, weight, output, ignoreNone))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	// -weight[2]*input[0,2,0,0] and -weight[1]*input[0,1,0,1].
	assert.InDelta(t, -0.5*3.0, out[0], 1e-12)
	assert.InDelta(t, -2.0*2.0, out[1], 1e-12)
}

func TestNLLLossUnreduceForwardNilWeight(t *testing.T) {
	input, target, _ := nllFixture(t)
	output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)

	require.NoError(t, NLLLossUnreduceForward(input, target, nil, output, ignoreNone))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3.0, -2.0}, out)
}

func TestNLLLossIgnoredTargetEmitsZero(t *testing.T) {
	input, _, weight := nllFixture(t)
	target := fromI64(t, tensor.Shape{1, 1, 2}, []int64{2, ignoreNone})
	output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)

	require.NoError(t, NLLLossUnreduceForward(input, target, weight, output, ignoreNone))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.5, 0}, out)

	// Ignored positions must not dilute the mean divisor either.
	div, err := NLLLossMeanDivisor(target, ignoreNone)
	require.NoError(t, err)
	assert.Equal(t, 1.0, div)
}

func TestNLLLossReduceForward(t *testing.T) {
	input, target, weight := nllFixture(t)
	output := newT(t, tensor.Shape{1}, tensor.Float64)

	// Sum reduction uses divisor 1.
	require.NoError(t, NLLLossReduceForward(input, target, weight, output, ignoreNone, 1))
	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.InDelta(t, -1.5+-4.0, out[0], 1e-12)

	// Mean reduction divides by the contributing count.
	div, err := NLLLossMeanDivisor(target, ignoreNone)
	require.NoError(t, err)
	require.NoError(t, NLLLossReduceForward(input, target, weight, output, ignoreNone, div))
	out, err = tensor.Values[float64](output)
	require.NoError(t, err)
	assert.InDelta(t, (-1.5+-4.0)/2, out[0], 1e-12)
}

func TestNLLLossUnreduceBackward(t *testing.T) {
	_, target, weight := nllFixture(t)
	inputGrad := newT(t, tensor.Shape{1, 3, 1, 2}, tensor.Float64)
	outputGrad := fromF64(t, tensor.Shape{1, 1, 2}, []float64{2, 7})

	require.NoError(t, NLLLossUnreduceBackward(inputGrad, target, weight, outputGrad, ignoreNone))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	want := make([]float64, 6)
	want[2*2+0] = -0.5 * 2 // class 2, position 0
	want[1*2+1] = -2.0 * 7 // class 1, position 1
	assert.Equal(t, want, din)
}

func TestNLLLossReduceBackward(t *testing.T) {
	_, target, weight := nllFixture(t)
	inputGrad := newT(t, tensor.Shape{1, 3, 1, 2}, tensor.Float64)
	outputGrad := fromF64(t, tensor.Shape{1}, []float64{3})

	require.NoError(t, NLLLossReduceBackward(inputGrad, target, weight, outputGrad, ignoreNone, 2))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	want := make([]float64, 6)
	want[2*2+0] = -0.5 * 3 / 2
	want[1*2+1] = -2.0 * 3 / 2
	assert.Equal(t, want, din)
}

func TestNLLLossWorkspaceSize(t *testing.T) {
	_, target, _ := nllFixture(t)
	output := newT(t, tensor.Shape{1}, tensor.Float32)

	size, err := GetNLLLossReduceForwardWorkspaceSize(target, output)
	require.NoError(t, err)
	assert.Equal(t, 2*4, size)
}

func TestNLLLossValidation(t *testing.T) {
	input, target, _ := nllFixture(t)

	t.Run("non-4D input", func(t *testing.T) {
		bad := fromF64(t, tensor.Shape{3, 2}, make([]float64, 6))
		output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)
		err := NLLLossUnreduceForward(bad, target, nil, output, ignoreNone)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("weight size mismatch", func(t *testing.T) {
		weight := fromF64(t, tensor.Shape{2}, []float64{1, 1})
		output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)
		err := NLLLossUnreduceForward(input, target, weight, output, ignoreNone)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("zero divisor", func(t *testing.T) {
		output := newT(t, tensor.Shape{1}, tensor.Float64)
		err := NLLLossReduceForward(input, target, nil, output, ignoreNone, 0)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestNLLLossTargetOutOfRange(t *testing.T) {
	input, _, weight := nllFixture(t)

	// Class 3 and a negative index are both outside [0, 3) and neither is
	// the ignore index, so every entry point must refuse them instead of
	// reading past the class axis.
	target := fromI64(t, tensor.Shape{1, 1, 2}, []int64{3, -1})

	t.Run("unreduce forward", func(t *testing.T) {
		output := newT(t, tensor.Shape{1, 1, 2}, tensor.Float64)
		err := NLLLossUnreduceForward(input, target, weight, output, ignoreNone)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("reduce forward", func(t *testing.T) {
		output := newT(t, tensor.Shape{1}, tensor.Float64)
		err := NLLLossReduceForward(input, target, weight, output, ignoreNone, 2)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("backward", func(t *testing.T) {
		inputGrad := newT(t, tensor.Shape{1, 3, 1, 2}, tensor.Float64)
		outputGrad := fromF64(t, tensor.Shape{1, 1, 2}, []float64{1, 1})
		err := NLLLossUnreduceBackward(inputGrad, target, weight, outputGrad, ignoreNone)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
