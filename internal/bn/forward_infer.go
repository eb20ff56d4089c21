package bn

import (
	"math"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func forwardInfer[T tensor.Elem](layout Layout, n, c, h, w int,
	x, y, scale, bias, estMean, estVar *tensor.RawTensor, epsilon float64) error {

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

	chw, hw := c*h*w, h*w
	count := groupSize(layout, n, h, w)
	groups := GroupCount(layout, c, h, w)
	index := elemIndex(layout, chw, hw)

	if estMean != nil {
		mean64, err := tensor.Values[float64](estMean)
		if err != nil {
			return err
		}
		var64, err := tensor.Values[float64](estVar)
		if err != nil {
			return err
		}

		// Single pass: statistics are already known.
		parallel.For(groups, func(g int) {
			mean := mean64[g]
			invStd := 1.0 / math.Sqrt(var64[g]+epsilon)
			gamma, beta := scale64[g], bias64[g]
			for e := 0; e < count; e++ {
				idx := index(g, e)
				yv[idx] = T(gamma*(float64(xv[idx])-mean)*invStd + beta)
			}
		}, groupConfig())

		return tensor.StoreValues(y, yv)
	}

	// No estimated statistics: fall back to batch statistics, computed with
	// the same population-variance policy as training, but without touching
	// any running or saved buffers.
	parallel.For(groups, func(g int) {
		mean := 0.0
		for e := 0; e < count; e++ {
			mean += float64(xv[index(g, e)])
		}
		mean /= float64(count)

		variance := 0.0
		for e := 0; e < count; e++ {
			d := float64(xv[index(g, e)]) - mean
			variance += d * d
		}
		variance /= float64(count)

		invStd := 1.0 / math.Sqrt(variance+epsilon)
		gamma, beta := scale64[g], bias64[g]
		for e := 0; e < count; e++ {
			idx := index(g, e)
			yv[idx] = T(gamma*(float64(xv[idx])-mean)*invStd + beta)
		}
	}, groupConfig())

	return tensor.StoreValues(y, yv)
}
