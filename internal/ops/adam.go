package ops

import (
	"fmt"
	"math"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// AdamConfig holds the hyperparameters and policy switches for AdamStep.
//
// StepCount applies that many consecutive updates in one call, re-reading
// the gradient each step (the step counter drives bias correction, so a
// ten-step call equals ten one-step calls with an unchanged gradient).
// AMP enables mixed-precision handling: the gradient is divided by
// GradScale, and FoundInf skips the whole call (gradient overflow).
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	AMSGrad     bool
	Maximize    bool
	AMP         bool
	GradScale   float64
	FoundInf    bool
	StepCount   int
}

// DefaultAdamConfig returns the conventional Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LR:        0.001,
		Beta1:     0.9,
		Beta2:     0.999,
		Eps:       1e-8,
		GradScale: 1,
		StepCount: 1,
	}
}

// AdamStep applies cfg.StepCount Adam updates to params in place.
// expAvg/expAvgSq are the caller-owned first/second moment buffers, mutated
// in place; maxExpAvgSq is required only with AMSGrad. All buffers must
// match the parameter element count.
func AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq *tensor.RawTensor, cfg AdamConfig) error {
	n := params.NumElements()
	for name, t := range map[string]*tensor.RawTensor{"grads": grads, "expAvg": expAvg, "expAvgSq": expAvgSq} {
		if t == nil {
			return fmt.Errorf("%w: adam %s tensor is nil", ErrInvalidParameter, name)
		}
		if t.NumElements() != n {
			return fmt.Errorf("%w: adam %s has %d elements, want %d", ErrInvalidParameter, name, t.NumElements(), n)
		}
	}
	if cfg.AMSGrad {
		if maxExpAvgSq == nil || maxExpAvgSq.NumElements() != n {
			return fmt.Errorf("%w: amsgrad requires a maxExpAvgSq buffer of %d elements", ErrInvalidParameter, n)
		}
	}
	if cfg.StepCount <= 0 {
		return fmt.Errorf("%w: adam step count %d must be positive", ErrInvalidParameter, cfg.StepCount)
	}
	if cfg.AMP && cfg.GradScale == 0 {
		return fmt.Errorf("%w: adam grad scale must be nonzero", ErrInvalidParameter)
	}

	// Gradient overflow: skip the whole update, leaving every buffer as is.
	if cfg.AMP && cfg.FoundInf {
		return nil
	}

	p, err := tensor.Values[float64](params)
	if err != nil {
		return err
	}
	g, err := tensor.Values[float64](grads)
	if err != nil {
		return err
	}
	m, err := tensor.Values[float64](expAvg)
	if err != nil {
		return err
	}
	v, err := tensor.Values[float64](expAvgSq)
	if err != nil {
		return err
	}
	var vMax []float64
	if cfg.AMSGrad {
		if vMax, err = tensor.Values[float64](maxExpAvgSq); err != nil {
			return err
		}
	}

	parallel.For(n, func(i int) {
		param, m1, m2 := p[i], m[i], v[i]
		var m2Max float64
		if cfg.AMSGrad {
			m2Max = vMax[i]
		}

		for step := 1; step <= cfg.StepCount; step++ {
			grad := g[i]
			if cfg.Maximize {
				grad = -grad
			}
			if cfg.AMP {
				grad /= cfg.GradScale
			}

			biasCorrection1 := 1 - math.Pow(cfg.Beta1, float64(step))
			biasCorrection2 := 1 - math.Pow(cfg.Beta2, float64(step))

			if cfg.WeightDecay != 0 {
				grad += param * cfg.WeightDecay
			}

			m1 = m1*cfg.Beta1 + grad*(1-cfg.Beta1)
			m2 = m2*cfg.Beta2 + grad*grad*(1-cfg.Beta2)

			var denom float64
			if cfg.AMSGrad {
				if m2 > m2Max {
					m2Max = m2
				}
				denom = math.Sqrt(m2Max)/math.Sqrt(biasCorrection2) + cfg.Eps
			} else {
				denom = math.Sqrt(m2)/math.Sqrt(biasCorrection2) + cfg.Eps
			}

			param -= (cfg.LR / biasCorrection1) * m1 / denom
		}

		p[i], m[i], v[i] = param, m1, m2
		if cfg.AMSGrad {
			vMax[i] = m2Max
		}
	}, parallel.DefaultConfig())

	if err := tensor.StoreValues(params, p); err != nil {
		return err
	}
	if err := tensor.StoreValues(expAvg, m); err != nil {
		return err
	}
	if err := tensor.StoreValues(expAvgSq, v); err != nil {
		return err
	}
	if cfg.AMSGrad {
		return tensor.StoreValues(maxExpAvgSq, vMax)
	}
	return nil
}
