// Package bn implements the batch-normalization statistics engine:
// forward training, forward inference, and backward gradients, in both
// per-activation and spatial layouts.
//
// The two layouts share one mathematical contract and differ only in the
// reduction group: per-activation reduces over the batch dimension N
// independently for every (c,h,w) position (C*H*W groups of N elements),
// spatial reduces over N*H*W per channel (C groups of N*H*W elements).
//
// Numerics: statistics accumulate in float64 regardless of the storage
// type; normalization uses the population variance (divide by count) and
// invStd = 1/sqrt(var+eps). Bessel's correction (count/(count-1)) applies
// only to the running-variance update, and is skipped when count == 1.
package bn

import (
	"errors"
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ErrInvalidParameter reports a shape, dtype, or configuration mismatch.
// All entry points validate before touching any caller buffer, so a failed
// call never leaves running statistics partially updated.
var ErrInvalidParameter = errors.New("bn: invalid parameter")

// Layout selects the reduction-group policy.
type Layout int

const (
	// PerActivation reduces over N for every (c,h,w) position.
	PerActivation Layout = iota
	// Spatial reduces over N*H*W for every channel.
	Spatial
)

// String returns a human-readable layout name.
func (l Layout) String() string {
	switch l {
	case PerActivation:
		return "per-activation"
	case Spatial:
		return "spatial"
	default:
		return "unknown"
	}
}

// Config holds the scalar policy switches for a forward-training call.
type Config struct {
	Epsilon           float64 // added to variance before inversion; must be > 0
	ExpAvgFactor      float64 // EMA factor: new = old*(1-f) + stat*f
	SaveStats         bool    // write SavedMean/SavedInvVariance snapshots
	TrackRunningStats bool    // fold batch statistics into the running buffers
}

// Stats bundles the caller-owned statistics buffers for forward training.
// RunningMean/RunningVariance are mutated in place across training steps;
// SavedMean/SavedInvVariance are per-step snapshots consumed by Backward.
// Each pair is required only when the corresponding Config flag is set.
type Stats struct {
	RunningMean     *tensor.RawTensor
	RunningVariance *tensor.RawTensor
	SavedMean       *tensor.RawTensor
	SavedInvVar     *tensor.RawTensor
}

// dims unpacks a rank-4 (N, C, H, W) descriptor.
func dims(x *tensor.RawTensor) (n, c, h, w int, err error) {
	s := x.Shape()
	if len(s) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: input must be 4D (N,C,H,W), got %v", ErrInvalidParameter, s)
	}
	return s[0], s[1], s[2], s[3], nil
}

// GroupCount returns the number of reduction groups for a layout and the
// input dimensions: C*H*W per-activation, C spatial.
func GroupCount(layout Layout, c, h, w int) int {
	if layout == Spatial {
		return c
	}
	return c * h * w
}

// groupSize returns the number of elements jointly reduced per group.
func groupSize(layout Layout, n, h, w int) int {
	if layout == Spatial {
		return n * h * w
	}
	return n
}

func validateGroupBuffer(name string, t *tensor.RawTensor, groups int) error {
	if t == nil {
		return fmt.Errorf("%w: %s tensor is nil", ErrInvalidParameter, name)
	}
	if t.NumElements() != groups {
		return fmt.Errorf("%w: %s has %d elements, want %d (one per reduction group)",
			ErrInvalidParameter, name, t.NumElements(), groups)
	}
	if !t.DType().IsFloat() {
		return fmt.Errorf("%w: %s dtype %s is not a float type", ErrInvalidParameter, name, t.DType())
	}
	return nil
}

func validatePair(x, y *tensor.RawTensor) error {
	if x == nil || y == nil {
		return fmt.Errorf("%w: input/output tensor is nil", ErrInvalidParameter)
	}
	if !x.Shape().Equal(y.Shape()) {
		return fmt.Errorf("%w: input shape %v does not match output shape %v",
			ErrInvalidParameter, x.Shape(), y.Shape())
	}
	if !x.DType().IsFloat() || !y.DType().IsFloat() {
		return fmt.Errorf("%w: dtypes %s/%s are not float types", ErrInvalidParameter, x.DType(), y.DType())
	}
	return nil
}

// ForwardTrain computes batch statistics over each reduction group,
// normalizes x into y, applies the affine transform, and optionally saves
// snapshots and updates running statistics per cfg.
func ForwardTrain(layout Layout, x, y, scale, bias *tensor.RawTensor, stats Stats, cfg Config) error {
	if err := validatePair(x, y); err != nil {
		return err
	}
	n, c, h, w, err := dims(x)
	if err != nil {
		return err
	}
	if cfg.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon %g must be > 0", ErrInvalidParameter, cfg.Epsilon)
	}

	groups := GroupCount(layout, c, h, w)
	if err := validateGroupBuffer("scale", scale, groups); err != nil {
		return err
	}
	if err := validateGroupBuffer("bias", bias, groups); err != nil {
		return err
	}
	if cfg.SaveStats {
		if err := validateGroupBuffer("savedMean", stats.SavedMean, groups); err != nil {
			return err
		}
		if err := validateGroupBuffer("savedInvVar", stats.SavedInvVar, groups); err != nil {
			return err
		}
	}
	if cfg.TrackRunningStats {
		if err := validateGroupBuffer("runningMean", stats.RunningMean, groups); err != nil {
			return err
		}
		if err := validateGroupBuffer("runningVariance", stats.RunningVariance, groups); err != nil {
			return err
		}
	}

	switch x.DType() {
	case tensor.Float64:
		return forwardTrain[float64](layout, n, c, h, w, x, y, scale, bias, stats, cfg)
	default:
		return forwardTrain[float32](layout, n, c, h, w, x, y, scale, bias, stats, cfg)
	}
}

// ForwardInfer normalizes x into y using the caller-supplied estimated
// statistics (running mean/variance from training). When estMean/estVar are
// nil the batch statistics are computed exactly as in training, but nothing
// is saved or updated. No caller state is mutated.
func ForwardInfer(layout Layout, x, y, scale, bias, estMean, estVar *tensor.RawTensor, epsilon float64) error {
	if err := validatePair(x, y); err != nil {
		return err
	}
	n, c, h, w, err := dims(x)
	if err != nil {
		return err
	}
	if epsilon <= 0 {
		return fmt.Errorf("%w: epsilon %g must be > 0", ErrInvalidParameter, epsilon)
	}

	groups := GroupCount(layout, c, h, w)
	if err := validateGroupBuffer("scale", scale, groups); err != nil {
		return err
	}
	if err := validateGroupBuffer("bias", bias, groups); err != nil {
		return err
	}
	if (estMean == nil) != (estVar == nil) {
		return fmt.Errorf("%w: estimated mean and variance must be supplied together", ErrInvalidParameter)
	}
	if estMean != nil {
		if err := validateGroupBuffer("estimatedMean", estMean, groups); err != nil {
			return err
		}
		if err := validateGroupBuffer("estimatedVariance", estVar, groups); err != nil {
			return err
		}
	}

	switch x.DType() {
	case tensor.Float64:
		return forwardInfer[float64](layout, n, c, h, w, x, y, scale, bias, estMean, estVar, epsilon)
	default:
		return forwardInfer[float32](layout, n, c, h, w, x, y, scale, bias, estMean, estVar, epsilon)
	}
}

// Backward computes dx, dscale, and dbias from x and dy using the saved
// per-step statistics. When savedMean/savedInvVar are nil the statistics are
// recomputed from x with the same population-variance policy as the forward
// pass, so the two call patterns agree numerically.
func Backward(layout Layout, x, dy, dx, scale, dscale, dbias, savedMean, savedInvVar *tensor.RawTensor, epsilon float64) error {
	if err := validatePair(x, dy); err != nil {
		return err
	}
	if err := validatePair(x, dx); err != nil {
		return err
	}
	n, c, h, w, err := dims(x)
	if err != nil {
		return err
	}

	groups := GroupCount(layout, c, h, w)
	if err := validateGroupBuffer("scale", scale, groups); err != nil {
		return err
	}
	if err := validateGroupBuffer("dscale", dscale, groups); err != nil {
		return err
	}
	if err := validateGroupBuffer("dbias", dbias, groups); err != nil {
		return err
	}
	if (savedMean == nil) != (savedInvVar == nil) {
		return fmt.Errorf("%w: saved mean and inverse variance must be supplied together", ErrInvalidParameter)
	}
	if savedMean != nil {
		if err := validateGroupBuffer("savedMean", savedMean, groups); err != nil {
			return err
		}
		if err := validateGroupBuffer("savedInvVar", savedInvVar, groups); err != nil {
			return err
		}
	}
	if savedMean == nil && epsilon <= 0 {
		return fmt.Errorf("%w: epsilon %g must be > 0 when statistics are recomputed", ErrInvalidParameter, epsilon)
	}

	switch x.DType() {
	case tensor.Float64:
		return backward[float64](layout, n, c, h, w, x, dy, dx, scale, dscale, dbias, savedMean, savedInvVar, epsilon)
	default:
		return backward[float32](layout, n, c, h, w, x, dy, dx, scale, dscale, dbias, savedMean, savedInvVar, epsilon)
	}
}
