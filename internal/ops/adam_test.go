package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func adamFixture(t *testing.T, param, grad float64) (params, grads, expAvg, expAvgSq *tensor.RawTensor) {
	t.Helper()
	params = fromF64(t, tensor.Shape{1}, []float64{param})
	grads = fromF64(t, tensor.Shape{1}, []float64{grad})
	expAvg = newT(t, tensor.Shape{1}, tensor.Float64)
	expAvgSq = newT(t, tensor.Shape{1}, tensor.Float64)
	return params, grads, expAvg, expAvgSq
}

func scalar(t *testing.T, r *tensor.RawTensor) float64 {
	t.Helper()
	vals, err := tensor.Values[float64](r)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	return vals[0]
}

func TestAdamStepSingle(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.1

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	m := 0.5 * (1 - 0.9)
	v := 0.25 * (1 - 0.999)
	denom := math.Sqrt(v)/math.Sqrt(1-0.999) + 1e-8
	want := 1.0 - (0.1/(1-0.9))*m/denom
	assert.InDelta(t, want, scalar(t, params), 1e-15)
	assert.InDelta(t, m, scalar(t, expAvg), 1e-15)
	assert.InDelta(t, v, scalar(t, expAvgSq), 1e-15)
}

func TestAdamStepWeightDecay(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.1
	cfg.WeightDecay = 0.1

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	// Decay folds into the gradient: g = 0.5 + 1.0*0.1.
	g := 0.6
	m := g * (1 - 0.9)
	v := g * g * (1 - 0.999)
	denom := math.Sqrt(v)/math.Sqrt(1-0.999) + 1e-8
	want := 1.0 - (0.1/(1-0.9))*m/denom
	assert.InDelta(t, want, scalar(t, params), 1e-15)
}

func TestAdamStepMaximize(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.1
	cfg.Maximize = true

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	// Ascends: a positive gradient pushes the parameter up.
	assert.Greater(t, scalar(t, params), 1.0)
	assert.Less(t, scalar(t, expAvg), 0.0)
}

func TestAdamStepAMSGrad(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)
	maxExpAvgSq := newT(t, tensor.Shape{1}, tensor.Float64)
	cfg := DefaultAdamConfig()
	cfg.AMSGrad = true

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq, cfg))

	// From a zero start the running max equals the second moment.
	assert.Equal(t, scalar(t, expAvgSq), scalar(t, maxExpAvgSq))

	// A smaller gradient must not shrink the max.
	prevMax := scalar(t, maxExpAvgSq)
	require.NoError(t, tensor.StoreValues(grads, []float64{0.01}))
	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq, cfg))
	assert.GreaterOrEqual(t, scalar(t, maxExpAvgSq), prevMax)
}

func TestAdamStepAMPGradScale(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 1.0)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.1
	cfg.AMP = true
	cfg.GradScale = 2

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	// Scaled gradient 1.0/2 behaves exactly like an unscaled 0.5.
	refParams, refGrads, refM, refV := adamFixture(t, 1.0, 0.5)
	refCfg := DefaultAdamConfig()
	refCfg.LR = 0.1
	require.NoError(t, AdamStep(refParams, refGrads, refM, refV, nil, refCfg))
	assert.Equal(t, scalar(t, refParams), scalar(t, params))
}

func TestAdamStepFoundInfSkipsUpdate(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, math.Inf(1))
	cfg := DefaultAdamConfig()
	cfg.AMP = true
	cfg.FoundInf = true

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	assert.Equal(t, 1.0, scalar(t, params))
	assert.Equal(t, 0.0, scalar(t, expAvg))
	assert.Equal(t, 0.0, scalar(t, expAvgSq))
}

func TestAdamStepMultiStep(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.1
	cfg.StepCount = 3

	require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))

	// Reference: the same gradient replayed with an advancing step counter.
	param, m, v := 1.0, 0.0, 0.0
	for step := 1; step <= 3; step++ {
		bc1 := 1 - math.Pow(0.9, float64(step))
		bc2 := 1 - math.Pow(0.999, float64(step))
		m = m*0.9 + 0.5*0.1
		v = v*0.999 + 0.25*0.001
		param -= (0.1 / bc1) * m / (math.Sqrt(v)/math.Sqrt(bc2) + 1e-8)
	}
	assert.InDelta(t, param, scalar(t, params), 1e-12)
	assert.InDelta(t, m, scalar(t, expAvg), 1e-12)
	assert.InDelta(t, v, scalar(t, expAvgSq), 1e-12)
}

func TestAdamStepConvergesOnQuadratic(t *testing.T) {
	// Minimize (x-3)^2 from x=0; gradient recomputed every call.
	params := fromF64(t, tensor.Shape{1}, []float64{0})
	grads := newT(t, tensor.Shape{1}, tensor.Float64)
	expAvg := newT(t, tensor.Shape{1}, tensor.Float64)
	expAvgSq := newT(t, tensor.Shape{1}, tensor.Float64)
	cfg := DefaultAdamConfig()
	cfg.LR = 0.05

	for i := 0; i < 2000; i++ {
		x := scalar(t, params)
		require.NoError(t, tensor.StoreValues(grads, []float64{2 * (x - 3)}))
		cfg.StepCount = 1
		require.NoError(t, AdamStep(params, grads, expAvg, expAvgSq, nil, cfg))
	}
	assert.InDelta(t, 3.0, scalar(t, params), 0.05)
}

func TestAdamStepValidation(t *testing.T) {
	params, grads, expAvg, expAvgSq := adamFixture(t, 1.0, 0.5)

	t.Run("nil buffer", func(t *testing.T) {
		err := AdamStep(params, nil, expAvg, expAvgSq, nil, DefaultAdamConfig())
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("size mismatch", func(t *testing.T) {
		short := newT(t, tensor.Shape{2}, tensor.Float64)
		err := AdamStep(params, grads, short, expAvgSq, nil, DefaultAdamConfig())
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("amsgrad without max buffer", func(t *testing.T) {
		cfg := DefaultAdamConfig()
		cfg.AMSGrad = true
		err := AdamStep(params, grads, expAvg, expAvgSq, nil, cfg)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("non-positive step count", func(t *testing.T) {
		cfg := DefaultAdamConfig()
		cfg.StepCount = 0
		err := AdamStep(params, grads, expAvg, expAvgSq, nil, cfg)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("amp zero grad scale", func(t *testing.T) {
		cfg := DefaultAdamConfig()
		cfg.AMP = true
		cfg.GradScale = 0
		err := AdamStep(params, grads, expAvg, expAvgSq, nil, cfg)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
