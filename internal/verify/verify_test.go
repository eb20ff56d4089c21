package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func TestCompareWithinTolerance(t *testing.T) {
	want := []float64{1.0, -2.0, 0.0, 100.0}
	got := []float64{1.0 + 1e-8, -2.0, 1e-13, 100.0 - 1e-6}

	res, err := Compare(got, want, ToleranceFor(tensor.Float64))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, -1, res.FirstBadIdx)
	assert.Greater(t, res.MaxAbsDiff, 0.0)
	assert.Greater(t, res.RMSDiff, 0.0)
}

func TestCompareFlagsMismatch(t *testing.T) {
	want := []float64{1.0, 2.0, 3.0}
	got := []float64{1.0, 2.5, 3.0}

	res, err := Compare(got, want, Tolerance{Abs: 1e-6, Rel: 1e-5})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 1, res.Mismatches)
	assert.Equal(t, 1, res.FirstBadIdx)
	assert.InDelta(t, 0.5, res.MaxAbsDiff, 1e-15)
	assert.Contains(t, res.String(), "FAILED")
}

func TestCompareRelativeScaling(t *testing.T) {
	// A 1e-4 absolute error is out of tolerance near zero but fine against
	// a value of 100 under a 1e-5 relative bound.
	tol := Tolerance{Abs: 1e-6, Rel: 1e-5}

	res, err := Compare([]float64{1e-4}, []float64{0}, tol)
	require.NoError(t, err)
	assert.False(t, res.OK())

	res, err = Compare([]float64{100.0001}, []float64{100}, tol)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestCompareNaN(t *testing.T) {
	nan := math.NaN()

	// NaN on one side only is a mismatch.
	res, err := Compare([]float64{nan}, []float64{1}, ToleranceFor(tensor.Float64))
	require.NoError(t, err)
	assert.False(t, res.OK())

	res, err = Compare([]float64{1}, []float64{nan}, ToleranceFor(tensor.Float64))
	require.NoError(t, err)
	assert.False(t, res.OK())

	// NaN on both sides agrees.
	res, err = Compare([]float64{nan}, []float64{nan}, ToleranceFor(tensor.Float64))
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestCompareLengthMismatch(t *testing.T) {
	_, err := Compare([]float64{1}, []float64{1, 2}, ToleranceFor(tensor.Float64))
	assert.Error(t, err)
}

func TestCompareEmpty(t *testing.T) {
	res, err := Compare(nil, nil, ToleranceFor(tensor.Float64))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 0, res.Count)
	assert.Contains(t, res.String(), "ok")
}

func TestToleranceFor(t *testing.T) {
	assert.Less(t, ToleranceFor(tensor.Float64).Abs, ToleranceFor(tensor.Float32).Abs)
	assert.Less(t, ToleranceFor(tensor.Float32).Rel, ToleranceFor(tensor.Float16).Rel)
	assert.Equal(t, ToleranceFor(tensor.Float16), ToleranceFor(tensor.BFloat16))
}

func TestCompareTensors(t *testing.T) {
	want, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	got, err := tensor.FromSlice([]float32{1, 2.00001, 3}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)

	res, err := CompareTensors(got, want)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 3, res.Count)
}
