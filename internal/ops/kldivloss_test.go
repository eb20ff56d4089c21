package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func TestKLDivLossUnreduceForward(t *testing.T) {
	input := fromF64(t, tensor.Shape{4}, []float64{-1.0, -0.5, -2.0, 0.3})
	target := fromF64(t, tensor.Shape{4}, []float64{0.5, 0.25, 0.0, 0.25})
	output := newT(t, tensor.Shape{4}, tensor.Float64)

	require.NoError(t, KLDivLossUnreduceForward(input, target, output, false))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*(math.Log(0.5)+1.0), out[0], 1e-12)
	assert.InDelta(t, 0.25*(math.Log(0.25)+0.5), out[1], 1e-12)
	// Zero target contributes zero, not NaN.
	assert.Equal(t, 0.0, out[2])
	assert.InDelta(t, 0.25*(math.Log(0.25)-0.3), out[3], 1e-12)
}

func TestKLDivLossUnreduceForwardLogTarget(t *testing.T) {
	input := fromF64(t, tensor.Shape{3}, []float64{-1.0, 0.2, -0.7})
	target := fromF64(t, tensor.Shape{3}, []float64{-0.5, -1.5, 0.0})
	output := newT(t, tensor.Shape{3}, tensor.Float64)

	require.NoError(t, KLDivLossUnreduceForward(input, target, output, true))

	out, err := tensor.Values[float64](output)
	require.NoError(t, err)
	for i, tv := range []float64{-0.5, -1.5, 0.0} {
		in := []float64{-1.0, 0.2, -0.7}[i]
		assert.InDelta(t, math.Exp(tv)*(tv-in), out[i], 1e-12)
	}
}

func TestKLDivLossReduceForward(t *testing.T) {
	input := fromF64(t, tensor.Shape{2, 2}, []float64{-1.0, -0.5, -2.0, -0.25})
	target := fromF64(t, tensor.Shape{2, 2}, []float64{0.5, 0.25, 0.1, 0.15})
	unreduced := newT(t, tensor.Shape{2, 2}, tensor.Float64)
	reduced := newT(t, tensor.Shape{1}, tensor.Float64)

	require.NoError(t, KLDivLossUnreduceForward(input, target, unreduced, false))
	perElem, err := tensor.Values[float64](unreduced)
	require.NoError(t, err)
	sum := 0.0
	for _, v := range perElem {
		sum += v
	}

	require.NoError(t, KLDivLossReduceForward(input, target, reduced, false, 4))
	out, err := tensor.Values[float64](reduced)
	require.NoError(t, err)
	assert.InDelta(t, sum/4, out[0], 1e-12)
}

func TestKLDivLossBackward(t *testing.T) {
	input := fromF64(t, tensor.Shape{3}, []float64{-1.0, -0.5, -2.0})
	target := fromF64(t, tensor.Shape{3}, []float64{0.5, 0.0, 0.25})
	outputGrad := fromF64(t, tensor.Shape{3}, []float64{1.0, 2.0, -1.0})
	inputGrad := newT(t, tensor.Shape{3}, tensor.Float64)
	targetGrad := newT(t, tensor.Shape{3}, tensor.Float64)

	require.NoError(t, KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad, false, 1))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	dt, err := tensor.Values[float64](targetGrad)
	require.NoError(t, err)

	assert.InDelta(t, -0.5*1.0, din[0], 1e-12)
	assert.Equal(t, 0.0, din[1]) // zero target: flat in both arguments
	assert.InDelta(t, -0.25*-1.0, din[2], 1e-12)

	assert.InDelta(t, (math.Log(0.5)+1-(-1.0))*1.0, dt[0], 1e-12)
	assert.Equal(t, 0.0, dt[1])
	assert.InDelta(t, (math.Log(0.25)+1-(-2.0))*-1.0, dt[2], 1e-12)
}

func TestKLDivLossBackwardLogTarget(t *testing.T) {
	input := fromF64(t, tensor.Shape{2}, []float64{-1.0, 0.4})
	target := fromF64(t, tensor.Shape{2}, []float64{-0.5, -2.0})
	outputGrad := fromF64(t, tensor.Shape{2}, []float64{1.0, 3.0})
	inputGrad := newT(t, tensor.Shape{2}, tensor.Float64)
	targetGrad := newT(t, tensor.Shape{2}, tensor.Float64)

	require.NoError(t, KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad, true, 1))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	dt, err := tensor.Values[float64](targetGrad)
	require.NoError(t, err)

	assert.InDelta(t, -math.Exp(-0.5)*1.0, din[0], 1e-12)
	assert.InDelta(t, -math.Exp(-2.0)*3.0, din[1], 1e-12)
	assert.InDelta(t, math.Exp(-0.5)*(-0.5-(-1.0)+1)*1.0, dt[0], 1e-12)
	assert.InDelta(t, math.Exp(-2.0)*(-2.0-0.4+1)*3.0, dt[1], 1e-12)
}

func TestKLDivLossBackwardReduced(t *testing.T) {
	input := fromF64(t, tensor.Shape{2}, []float64{-1.0, -0.5})
	target := fromF64(t, tensor.Shape{2}, []float64{0.5, 0.25})
	outputGrad := fromF64(t, tensor.Shape{1}, []float64{4.0})
	inputGrad := newT(t, tensor.Shape{2}, tensor.Float64)

	// Mean over two elements: the scalar gradient is broadcast and divided.
	require.NoError(t, KLDivLossBackward(inputGrad, nil, input, target, outputGrad, false, 2))

	din, err := tensor.Values[float64](inputGrad)
	require.NoError(t, err)
	assert.InDelta(t, -0.5*4.0/2, din[0], 1e-12)
	assert.InDelta(t, -0.25*4.0/2, din[1], 1e-12)
}

func TestKLDivLossValidation(t *testing.T) {
	input := fromF64(t, tensor.Shape{2}, []float64{0, 0})
	target3 := fromF64(t, tensor.Shape{3}, []float64{0, 0, 0})
	output := newT(t, tensor.Shape{2}, tensor.Float64)

	err := KLDivLossUnreduceForward(input, target3, output, false)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	target := fromF64(t, tensor.Shape{2}, []float64{0.5, 0.5})
	reduced := newT(t, tensor.Shape{1}, tensor.Float64)
	err = KLDivLossReduceForward(input, target, reduced, false, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
