package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func TestSelectBNInferDevice(t *testing.T) {
	r := NewRegistry()
	p := &Problem{
		Op:      OpBNForwardInfer,
		DType:   tensor.Float32,
		Shape:   tensor.Shape{4, 8, 16, 16},
		Layout:  bn.PerActivation,
		Epsilon: 1e-5,
	}

	s, cfg, err := r.Select(p)
	require.NoError(t, err)
	assert.Equal(t, "BnFwdInferDevice", s.Name())
	assert.Equal(t, "bn_fwd_infer_per_activation", cfg.KernelName)
	assert.False(t, cfg.Host())
	// One thread per activation position: ceil(8*16*16 / 256).
	assert.Equal(t, uint32(8), cfg.GridX)

	p.Layout = bn.Spatial
	_, cfg, err = r.Select(p)
	require.NoError(t, err)
	assert.Equal(t, "bn_fwd_infer_spatial", cfg.KernelName)
}

func TestSelectBNFallsBackToHost(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		p    Problem
	}{
		{"float64 inference", Problem{
			Op: OpBNForwardInfer, DType: tensor.Float64,
			Shape: tensor.Shape{2, 4, 8, 8}, Epsilon: 1e-5,
		}},
		{"training", Problem{
			Op: OpBNForwardTrain, DType: tensor.Float32,
			Shape: tensor.Shape{2, 4, 8, 8}, Epsilon: 1e-5,
		}},
		{"backward", Problem{
			Op: OpBNBackward, DType: tensor.Float32,
			Shape: tensor.Shape{2, 4, 8, 8}, Epsilon: 1e-5,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cfg, err := r.Select(&tt.p)
			require.NoError(t, err)
			assert.Equal(t, "BnHostReference", s.Name())
			assert.True(t, cfg.Host())
			assert.Equal(t, uint32(bn.GroupCount(tt.p.Layout, 4, 8, 8)), cfg.GridX)
		})
	}
}

func TestSelectBNRejectsBadProblem(t *testing.T) {
	r := NewRegistry()

	// Host batch-norm insists on a positive epsilon, and the device path on
	// f32, so nothing accepts a zero-epsilon f64 problem.
	p := &Problem{
		Op:    OpBNForwardTrain,
		DType: tensor.Float64,
		Shape: tensor.Shape{2, 4, 8, 8},
	}
	_, _, err := r.Select(p)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestSelectWhereBackwardBroadcast(t *testing.T) {
	r := NewRegistry()
	p := &Problem{
		Op:        OpWhereBackward,
		DType:     tensor.Float32,
		Shape:     tensor.Shape{64},
		Broadcast: true,
	}

	// Broadcast gradients collide under the device scatter kernel.
	s, cfg, err := r.Select(p)
	require.NoError(t, err)
	assert.Equal(t, "AuxHostReference", s.Name())
	assert.True(t, cfg.Host())

	p.Broadcast = false
	s, cfg, err = r.Select(p)
	require.NoError(t, err)
	assert.Equal(t, "WhereDevice", s.Name())
	assert.Equal(t, "where_backward", cfg.KernelName)
}

func TestSelectAuxDeviceKernels(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		op     Op
		kernel string
	}{
		{OpWhereForward, "where_forward"},
		{OpNLLLossForward, "nllloss_unreduce_forward"},
		{OpArgmin, "argmin"},
		{OpAdamStep, "adam_step"},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			p := &Problem{Op: tt.op, DType: tensor.Float32, Shape: tensor.Shape{1000}}
			s, cfg, err := r.Select(p)
			require.NoError(t, err)
			assert.Equal(t, tt.kernel, cfg.KernelName)
			assert.False(t, cfg.Host())
			assert.Equal(t, uint32(deviceWorkgroupSize), cfg.WorkgroupSize)
			assert.Equal(t, uint32(4), cfg.GridX) // ceil(1000/256)
			assert.NotEmpty(t, s.Name())
		})
	}
}

func TestSelectAuxHostForNonDeviceDTypes(t *testing.T) {
	r := NewRegistry()

	for _, dt := range []tensor.DataType{tensor.Float64, tensor.Float16, tensor.BFloat16} {
		p := &Problem{Op: OpWhereForward, DType: dt, Shape: tensor.Shape{10}}
		s, cfg, err := r.Select(p)
		require.NoError(t, err)
		assert.Equal(t, "AuxHostReference", s.Name(), dt.String())
		assert.True(t, cfg.Host())
	}

	// KL-div and unfold have no device candidate at all.
	for _, op := range []Op{OpKLDivLossForward, OpUnfoldForward} {
		p := &Problem{Op: op, DType: tensor.Float32, Shape: tensor.Shape{10}}
		s, _, err := r.Select(p)
		require.NoError(t, err)
		assert.Equal(t, "AuxHostReference", s.Name(), op.String())
	}
}

func TestSelectEmptyProblem(t *testing.T) {
	r := NewRegistry()
	p := &Problem{Op: OpKLDivLossForward, DType: tensor.Float64, Shape: tensor.Shape{0}}
	_, _, err := r.Select(p)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestGrid1D(t *testing.T) {
	tests := []struct {
		n    int
		want uint32
	}{
		{1, 1},
		{256, 1},
		{257, 2},
		{0, 1}, // degenerate dispatch still needs one group
	}
	for _, tt := range tests {
		cfg := grid1D("k", tt.n, 256)
		assert.Equal(t, tt.want, cfg.GridX, "n=%d", tt.n)
		assert.Equal(t, uint32(1), cfg.GridY)
		assert.Equal(t, uint32(1), cfg.GridZ)
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "bn-forward-train", OpBNForwardTrain.String())
	assert.Equal(t, "adam-step", OpAdamStep.String())
	assert.Equal(t, "op(99)", Op(99).String())
}
