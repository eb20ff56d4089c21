package bn

import (
	"math"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// groupConfig is the parallel policy for group-level loops: one goroutine
// chunk owns a reduction group end-to-end, so groups never share accumulators.
func groupConfig() parallel.Config {
	cfg := parallel.DefaultConfig()
	cfg.MinChunkSize = 1
	return cfg
}

// elemIndex maps (group, ordinal-within-group) to a flat (N,C,H,W) offset.
// Per-activation: group g is a (c,h,w) position, ordinal e is the batch index.
// Spatial: group g is a channel, ordinal e enumerates (n, h*w).
func elemIndex(layout Layout, chw, hw int) func(g, e int) int {
	if layout == PerActivation {
		return func(g, e int) int { return e*chw + g }
	}
	return func(g, e int) int {
		return (e/hw)*chw + g*hw + e%hw
	}
}

func forwardTrain[T tensor.Elem](layout Layout, n, c, h, w int,
	x, y, scale, bias *tensor.RawTensor, stats Stats, cfg Config) error {

	xv, err := tensor.Values[T](x)
	if err != nil {
		return err
	}
	yv, err := tensor.Values[T](y)
	if err != nil {
		return err
	}
	scale64, err := tensor.Values[float64](scale)
	if err != nil {
		return err
	}
	bias64, err := tensor.Values[float64](bias)
	if err != nil {
		return err
	}

	var savedMean, savedInvVar, runMean, runVar []float64
	if cfg.SaveStats {
		if savedMean, err = tensor.Values[float64](stats.SavedMean); err != nil {
			return err
		}
		if savedInvVar, err = tensor.Values[float64](stats.SavedInvVar); err != nil {
			return err
		}
	}
	if cfg.TrackRunningStats {
		if runMean, err = tensor.Values[float64](stats.RunningMean); err != nil {
			return err
		}
		if runVar, err = tensor.Values[float64](stats.RunningVariance); err != nil {
			return err
		}
	}

	chw, hw := c*h*w, h*w
	count := groupSize(layout, n, h, w)
	groups := GroupCount(layout, c, h, w)
	index := elemIndex(layout, chw, hw)
	factor := cfg.ExpAvgFactor

	parallel.For(groups, func(g int) {
		// Pass 1: group mean.
		mean := 0.0
		for e := 0; e < count; e++ {
			mean += float64(xv[index(g, e)])
		}
		mean /= float64(count)

		// Pass 2: centered values and population variance. The centered
		// scratch is an explicit per-group temporary; it replaces the
		// original's trick of staging x-mean in the output buffer.
		centered := make([]float64, count)
		variance := 0.0
		for e := 0; e < count; e++ {
			d := float64(xv[index(g, e)]) - mean
			centered[e] = d
			variance += d * d
		}
		variance /= float64(count)

		invStd := 1.0 / math.Sqrt(variance+cfg.Epsilon)

		if cfg.SaveStats {
			savedMean[g] = mean
			savedInvVar[g] = invStd
		}
		if cfg.TrackRunningStats {
			runMean[g] = runMean[g]*(1-factor) + mean*factor
			// Bessel-corrected sample variance for the running estimate;
			// count==1 leaves the correction factor undefined, so the raw
			// variance is used instead.
			adjusted := variance
			if count > 1 {
				adjusted = variance * float64(count) / float64(count-1)
			}
			runVar[g] = runVar[g]*(1-factor) + adjusted*factor
		}

		// Pass 3: normalize and apply the affine transform.
		gamma, beta := scale64[g], bias64[g]
		for e := 0; e < count; e++ {
			yv[index(g, e)] = T(gamma*centered[e]*invStd + beta)
		}
	}, groupConfig())

	if err := tensor.StoreValues(y, yv); err != nil {
		return err
	}
	if cfg.SaveStats {
		if err := tensor.StoreValues(stats.SavedMean, savedMean); err != nil {
			return err
		}
		if err := tensor.StoreValues(stats.SavedInvVar, savedInvVar); err != nil {
			return err
		}
	}
	if cfg.TrackRunningStats {
		if err := tensor.StoreValues(stats.RunningMean, runMean); err != nil {
			return err
		}
		if err := tensor.StoreValues(stats.RunningVariance, runVar); err != nil {
			return err
		}
	}
	return nil
}
