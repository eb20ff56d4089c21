package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func newT(t *testing.T, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	require.NoError(t, err)
	return out
}

func fromF64(t *testing.T, shape tensor.Shape, vals []float64) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromSlice(vals, shape, tensor.CPU)
	require.NoError(t, err)
	return out
}

func fromF32(t *testing.T, shape tensor.Shape, vals []float32) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromSlice(vals, shape, tensor.CPU)
	require.NoError(t, err)
	return out
}

func fromI64(t *testing.T, shape tensor.Shape, vals []int64) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromSlice(vals, shape, tensor.CPU)
	require.NoError(t, err)
	return out
}

func fromBool(t *testing.T, shape tensor.Shape, vals []bool) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromSlice(vals, shape, tensor.CPU)
	require.NoError(t, err)
	return out
}

func TestParseReduction(t *testing.T) {
	tests := []struct {
		in   string
		want Reduction
	}{
		{"none", ReductionNone},
		{"sum", ReductionSum},
		{"mean", ReductionMean},
	}
	for _, tt := range tests {
		got, err := ParseReduction(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseReduction("max")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
