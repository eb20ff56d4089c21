package ops

import (
	"fmt"
	"math"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// KL-divergence loss between an input distribution (given in log space) and
// a target distribution:
//
//	logTarget=false: loss = target * (log(target) - input)
//	logTarget=true:  loss = exp(target) * (target - input)
//
// In the non-log case a target of zero (or below) would produce NaN through
// log; such positions contribute exactly zero instead, matching the limit
// t*log(t) -> 0.

func kldivCheck(input, target *tensor.RawTensor) error {
	if !input.Shape().Equal(target.Shape()) {
		return fmt.Errorf("%w: kldivloss input shape %v does not match target shape %v",
			ErrInvalidParameter, input.Shape(), target.Shape())
	}
	return nil
}

func kldivPointwise(in, tgt []float64, logTarget bool) []float64 {
	out := make([]float64, len(in))
	parallel.For(len(in), func(i int) {
		t := tgt[i]
		if logTarget {
			out[i] = math.Exp(t) * (t - in[i])
		} else if t > 0 {
			out[i] = t * (math.Log(t) - in[i])
		}
	}, parallel.DefaultConfig())
	return out
}

// KLDivLossUnreduceForward writes one loss value per element.
func KLDivLossUnreduceForward(input, target, output *tensor.RawTensor, logTarget bool) error {
	if err := kldivCheck(input, target); err != nil {
		return err
	}
	if !output.Shape().Equal(input.Shape()) {
		return fmt.Errorf("%w: kldivloss output shape %v, want %v", ErrInvalidParameter, output.Shape(), input.Shape())
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	tgt, err := tensor.Values[float64](target)
	if err != nil {
		return err
	}
	return tensor.StoreValues(output, kldivPointwise(in, tgt, logTarget))
}

// KLDivLossReduceForward writes the summed loss divided by divisor into a
// single-element output.
func KLDivLossReduceForward(input, target, output *tensor.RawTensor, logTarget bool, divisor float64) error {
	if err := kldivCheck(input, target); err != nil {
		return err
	}
	if output.NumElements() != 1 {
		return fmt.Errorf("%w: reduced kldivloss output must hold one element, got %v", ErrInvalidParameter, output.Shape())
	}
	if divisor == 0 {
		return fmt.Errorf("%w: kldivloss divisor must be nonzero", ErrInvalidParameter)
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	tgt, err := tensor.Values[float64](target)
	if err != nil {
		return err
	}

	sum := 0.0
	for _, v := range kldivPointwise(in, tgt, logTarget) {
		sum += v
	}
	return tensor.StoreValues(output, []float64{sum / divisor})
}

// KLDivLossBackward computes the input and/or target gradients; either
// gradient tensor may be nil to skip it. For the reduced forward, pass the
// same divisor; for the unreduced forward pass divisor 1 and an outputGrad
// shaped like the input.
func KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad *tensor.RawTensor, logTarget bool, divisor float64) error {
	if err := kldivCheck(input, target); err != nil {
		return err
	}
	if divisor == 0 {
		return fmt.Errorf("%w: kldivloss divisor must be nonzero", ErrInvalidParameter)
	}
	reduced := outputGrad.NumElements() == 1 && input.NumElements() != 1
	if !reduced && !outputGrad.Shape().Equal(input.Shape()) {
		return fmt.Errorf("%w: kldivloss output gradient shape %v, want %v",
			ErrInvalidParameter, outputGrad.Shape(), input.Shape())
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}
	tgt, err := tensor.Values[float64](target)
	if err != nil {
		return err
	}
	dout, err := tensor.Values[float64](outputGrad)
	if err != nil {
		return err
	}

	var din, dtgt []float64
	if inputGrad != nil {
		if !inputGrad.Shape().Equal(input.Shape()) {
			return fmt.Errorf("%w: kldivloss input gradient shape %v, want %v",
				ErrInvalidParameter, inputGrad.Shape(), input.Shape())
		}
		din = make([]float64, len(in))
	}
	if targetGrad != nil {
		if !targetGrad.Shape().Equal(target.Shape()) {
			return fmt.Errorf("%w: kldivloss target gradient shape %v, want %v",
				ErrInvalidParameter, targetGrad.Shape(), target.Shape())
		}
		dtgt = make([]float64, len(tgt))
	}

	parallel.For(len(in), func(i int) {
		g := dout[0]
		if !reduced {
			g = dout[i]
		}
		g /= divisor
		t := tgt[i]

		if logTarget {
			et := math.Exp(t)
			if din != nil {
				din[i] = -et * g
			}
			if dtgt != nil {
				dtgt[i] = et * (t - in[i] + 1) * g
			}
			return
		}
		if t > 0 {
			if din != nil {
				din[i] = -t * g
			}
			if dtgt != nil {
				dtgt[i] = (math.Log(t) + 1 - in[i]) * g
			}
		}
	}, parallel.DefaultConfig())

	if din != nil {
		if err := tensor.StoreValues(inputGrad, din); err != nil {
			return err
		}
	}
	if dtgt != nil {
		return tensor.StoreValues(targetGrad, dtgt)
	}
	return nil
}
