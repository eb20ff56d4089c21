package ops

import (
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// NLL loss over a rank-4 input (N, C, D1, D2) with class-index targets
// (N, D1, D2) and optional per-class weights (C):
//
//	loss[n,d1,d2] = -weight[target[n,d1,d2]] * input[n, target[n,d1,d2], d1, d2]
//
// Positions whose target equals ignoreIndex contribute exactly zero to the
// loss and to the input gradient. A nil weight tensor means unit weights.

func nllDims(input, target *tensor.RawTensor) (n, c, d1, d2 int, err error) {
	s := input.Shape()
	if len(s) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: nllloss input must be 4D (N,C,D1,D2), got %v", ErrInvalidParameter, s)
	}
	n, c, d1, d2 = s[0], s[1], s[2], s[3]
	if !target.Shape().Equal(tensor.Shape{n, d1, d2}) {
		return 0, 0, 0, 0, fmt.Errorf("%w: nllloss target shape %v, want %v",
			ErrInvalidParameter, target.Shape(), tensor.Shape{n, d1, d2})
	}
	return n, c, d1, d2, nil
}

// nllTargets decodes the class indices and rejects any that is neither a
// valid class in [0, c) nor ignoreIndex.
func nllTargets(target *tensor.RawTensor, c int, ignoreIndex int64) ([]int64, error) {
	tgt, err := targetValues(target)
	if err != nil {
		return nil, err
	}
	for i, t := range tgt {
		if t != ignoreIndex && (t < 0 || t >= int64(c)) {
			return nil, fmt.Errorf("%w: nllloss target[%d] = %d out of range for %d classes",
				ErrInvalidParameter, i, t, c)
		}
	}
	return tgt, nil
}

func nllWeights(weight *tensor.RawTensor, c int) ([]float64, error) {
	if weight == nil {
		w := make([]float64, c)
		for i := range w {
			w[i] = 1
		}
		return w, nil
	}
	if weight.NumElements() != c {
		return nil, fmt.Errorf("%w: nllloss weight has %d elements, want %d", ErrInvalidParameter, weight.NumElements(), c)
	}
	return tensor.Values[float64](weight)
}

// NLLLossUnreduceForward writes one loss value per target position.
func NLLLossUnreduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64) error {
	n, c, d1, d2, err := nllDims(input, target)
	if err != nil {
		return err
	}
	if !output.Shape().Equal(target.Shape()) {
		return fmt.Errorf("%w: nllloss output shape %v, want %v", ErrInvalidParameter, output.Shape(), target.Shape())
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	tgt, err := nllTargets(target, c, ignoreIndex)
	if err != nil {
		return err
	}
	w, err := nllWeights(weight, c)
	if err != nil {
		return err
	}

	out := make([]float64, n*d1*d2)
	parallel.For(len(out), func(i int) {
		t := tgt[i]
		if t == ignoreIndex {
			out[i] = 0
			return
		}
		nIdx := i / (d1 * d2)
		rest := i % (d1 * d2)
		out[i] = -w[t] * in[nIdx*c*d1*d2+int(t)*d1*d2+rest]
	}, parallel.DefaultConfig())

	return tensor.StoreValues(output, out)
}

// NLLLossReduceForward writes the summed loss divided by divisor into a
// single-element output (divisor 1 for sum, contributing count for mean).
func NLLLossReduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64, divisor float64) error {
	n, c, d1, d2, err := nllDims(input, target)
	if err != nil {
		return err
	}
	if output.NumElements() != 1 {
		return fmt.Errorf("%w: reduced nllloss output must hold one element, got %v", ErrInvalidParameter, output.Shape())
	}
	if divisor == 0 {
		return fmt.Errorf("%w: nllloss divisor must be nonzero", ErrInvalidParameter)
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	tgt, err := nllTargets(target, c, ignoreIndex)
	if err != nil {
		return err
	}
	w, err := nllWeights(weight, c)
	if err != nil {
		return err
	}

	sum := 0.0
	for i := 0; i < n*d1*d2; i++ {
		t := tgt[i]
		if t == ignoreIndex {
			continue
		}
		nIdx := i / (d1 * d2)
		rest := i % (d1 * d2)
		sum += -w[t] * in[nIdx*c*d1*d2+int(t)*d1*d2+rest]
	}

	return tensor.StoreValues(output, []float64{sum / divisor})
}

// NLLLossUnreduceBackward scatters -weight[target] * doutput into the input
// gradient; all other input positions receive zero.
func NLLLossUnreduceBackward(inputGrad, target, weight, outputGrad *tensor.RawTensor, ignoreIndex int64) error {
	return nllLossBackward(inputGrad, target, weight, outputGrad, ignoreIndex, 1, false)
}

// NLLLossReduceBackward is the backward of the reduced forward: the scalar
// output gradient is broadcast to every contributing position and divided by
// the same divisor the forward used.
func NLLLossReduceBackward(inputGrad, target, weight, outputGrad *tensor.RawTensor, ignoreIndex int64, divisor float64) error {
	if divisor == 0 {
		return fmt.Errorf("%w: nllloss divisor must be nonzero", ErrInvalidParameter)
	}
	return nllLossBackward(inputGrad, target, weight, outputGrad, ignoreIndex, divisor, true)
}

func nllLossBackward(inputGrad, target, weight, outputGrad *tensor.RawTensor, ignoreIndex int64, divisor float64, reduced bool) error {
	n, c, d1, d2, err := nllDims(inputGrad, target)
	if err != nil {
		return err
	}
	if reduced {
		if outputGrad.NumElements() != 1 {
			return fmt.Errorf("%w: reduced nllloss output gradient must hold one element, got %v",
				ErrInvalidParameter, outputGrad.Shape())
		}
	} else if !outputGrad.Shape().Equal(target.Shape()) {
		return fmt.Errorf("%w: nllloss output gradient shape %v, want %v",
			ErrInvalidParameter, outputGrad.Shape(), target.Shape())
	}

	dout, err := tensor.Values[float64](outputGrad)
	if err != nil {
		return err
	}
	tgt, err := nllTargets(target, c, ignoreIndex)
	if err != nil {
		return err
	}
	w, err := nllWeights(weight, c)
	if err != nil {
		return err
	}

	din := make([]float64, n*c*d1*d2)
	parallel.For(n*d1*d2, func(i int) {
		t := tgt[i]
		if t == ignoreIndex {
			return
		}
		g := dout[0]
		if !reduced {
			g = dout[i]
		}
		nIdx := i / (d1 * d2)
		rest := i % (d1 * d2)
		din[nIdx*c*d1*d2+int(t)*d1*d2+rest] = -w[t] * g / divisor
	}, parallel.DefaultConfig())

	return tensor.StoreValues(inputGrad, din)
}

// NLLLossMeanDivisor counts the target positions that contribute to the
// loss, i.e. those not equal to ignoreIndex. It is the divisor callers pass
// for mean reduction, so ignored positions do not dilute the mean.
func NLLLossMeanDivisor(target *tensor.RawTensor, ignoreIndex int64) (float64, error) {
	tgt, err := targetValues(target)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tgt {
		if t != ignoreIndex {
			count++
		}
	}
	return float64(count), nil
}

// GetNLLLossReduceForwardWorkspaceSize reports the scratch bytes the device
// reduction needs for a problem: one accumulator per target position in the
// output element type, halved per reduction round (allocated once up front).
func GetNLLLossReduceForwardWorkspaceSize(target, output *tensor.RawTensor) (int, error) {
	if output.NumElements() != 1 {
		return 0, fmt.Errorf("%w: reduced nllloss output must hold one element, got %v", ErrInvalidParameter, output.Shape())
	}
	return target.NumElements() * output.DType().Size(), nil
}
