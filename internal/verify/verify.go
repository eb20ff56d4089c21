// Package verify compares device results against host references using a
// per-dtype tolerance model: a relative bound scaled by the magnitude of
// the reference values, with an absolute floor near zero.
package verify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// Tolerance bounds for a comparison. Rel is applied against the larger
// magnitude of each pair; Abs dominates near zero.
type Tolerance struct {
	Abs float64
	Rel float64
}

// ToleranceFor returns the default bounds for results stored in dt.
// Accumulation happens in float64 on both paths, so the storage type sets
// the achievable precision.
func ToleranceFor(dt tensor.DataType) Tolerance {
	switch dt {
	case tensor.Float64:
		return Tolerance{Abs: 1e-12, Rel: 1e-10}
	case tensor.Float32:
		return Tolerance{Abs: 1e-6, Rel: 1e-5}
	case tensor.Float16, tensor.BFloat16:
		return Tolerance{Abs: 1e-3, Rel: 1e-2}
	}
	return Tolerance{Abs: 1e-6, Rel: 1e-5}
}

// Result summarizes one comparison.
type Result struct {
	Count       int
	Mismatches  int
	FirstBadIdx int
	MaxAbsDiff  float64
	RMSDiff     float64
}

// OK reports whether every element stayed within tolerance.
func (r Result) OK() bool { return r.Mismatches == 0 }

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("ok (%d values, max abs diff %.3g, rms %.3g)", r.Count, r.MaxAbsDiff, r.RMSDiff)
	}
	return fmt.Sprintf("FAILED: %d/%d values out of tolerance (first at %d, max abs diff %.3g, rms %.3g)",
		r.Mismatches, r.Count, r.FirstBadIdx, r.MaxAbsDiff, r.RMSDiff)
}

// Compare checks got against want element by element.
func Compare(got, want []float64, tol Tolerance) (Result, error) {
	if len(got) != len(want) {
		return Result{}, fmt.Errorf("verify: length mismatch: got %d values, want %d", len(got), len(want))
	}
	res := Result{Count: len(want), FirstBadIdx: -1}
	diffs := make([]float64, len(want))
	for i := range want {
		d := math.Abs(got[i] - want[i])
		diffs[i] = d
		if d > res.MaxAbsDiff {
			res.MaxAbsDiff = d
		}
		bad := math.IsNaN(got[i]) != math.IsNaN(want[i]) ||
			(!math.IsNaN(d) && !scalar.EqualWithinAbsOrRel(got[i], want[i], tol.Abs, tol.Rel))
		if bad {
			res.Mismatches++
			if res.FirstBadIdx < 0 {
				res.FirstBadIdx = i
			}
		}
	}
	if len(diffs) > 0 {
		res.RMSDiff = math.Sqrt(stat.Mean(squared(diffs), nil))
	}
	return res, nil
}

// CompareTensors decodes both tensors to float64 and compares with the
// default tolerance of got's storage type.
func CompareTensors(got, want *tensor.RawTensor) (Result, error) {
	gv, err := tensor.Values[float64](got)
	if err != nil {
		return Result{}, err
	}
	wv, err := tensor.Values[float64](want)
	if err != nil {
		return Result{}, err
	}
	return Compare(gv, wv, ToleranceFor(got.DType()))
}

func squared(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x * x
	}
	return out
}
