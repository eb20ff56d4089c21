package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/kestrel-ml/kestrel/internal/ops"
	"github.com/kestrel-ml/kestrel/internal/solver"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func runNLLLoss(args []string) error {
	fs := flag.NewFlagSet("nllloss", flag.ExitOnError)
	dims := fs.String("dims", "8x10x4x4", "input dims as NxCxD1xD2")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
	reductionStr := fs.String("reduction", "mean", "none, sum, or mean")
	ignoreIndex := fs.Int64("ignore-index", -100, "target value excluded from the loss")
	weighted := fs.Bool("weighted", true, "use per-class weights")
	iter := fs.Int("iter", 1, "timing iterations")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	shape, err := parseDims(*dims, 4)
	if err != nil {
		return err
	}
	dtype, err := parseDType(*dtypeStr)
	if err != nil {
		return err
	}
	reduction, err := ops.ParseReduction(*reductionStr)
	if err != nil {
		return err
	}
	n, c, d1, d2 := shape[0], shape[1], shape[2], shape[3]
	targetShape := tensor.Shape{n, d1, d2}

	rng := rand.New(rand.NewSource(*seed))
	input, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	targets := make([]int64, targetShape.NumElements())
	for i := range targets {
		targets[i] = int64(rng.Intn(c))
	}
	target, err := tensor.FromSlice(targets, targetShape, tensor.CPU)
	if err != nil {
		return err
	}
	var weight *tensor.RawTensor
	if *weighted {
		if weight, err = randPositiveTensor(rng, tensor.Shape{c}, dtype); err != nil {
			return err
		}
	}

	if reduction == ops.ReductionNone {
		output, err := tensor.NewRaw(targetShape, dtype, tensor.CPU)
		if err != nil {
			return err
		}
		elapsed, err := timeIt(*iter, func() error {
			return ops.NLLLossUnreduceForward(input, target, weight, output, *ignoreIndex)
		})
		if err != nil {
			return err
		}
		fmt.Printf("nllloss fwd none %s %v: %v/iter (host)\n", dtype, shape, elapsed)
		return runNLLLossDevice(input, target, weight, output, *ignoreIndex, *iter)
	}

	divisor := 1.0
	if reduction == ops.ReductionMean {
		if divisor, err = ops.NLLLossMeanDivisor(target, *ignoreIndex); err != nil {
			return err
		}
	}
	output, err := tensor.NewRaw(tensor.Shape{1}, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	ws, err := ops.GetNLLLossReduceForwardWorkspaceSize(target, output)
	if err != nil {
		return err
	}
	elapsed, err := timeIt(*iter, func() error {
		return ops.NLLLossReduceForward(input, target, weight, output, *ignoreIndex, divisor)
	})
	if err != nil {
		return err
	}
	fmt.Printf("nllloss fwd %s %s %v: %v/iter (host, workspace %d bytes)\n", reduction, dtype, shape, elapsed, ws)

	inputGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	outputGrad, err := tensor.NewRaw(tensor.Shape{1}, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	if err := tensor.StoreValues(outputGrad, []float64{1}); err != nil {
		return err
	}
	elapsed, err = timeIt(*iter, func() error {
		return ops.NLLLossReduceBackward(inputGrad, target, weight, outputGrad, *ignoreIndex, divisor)
	})
	if err != nil {
		return err
	}
	fmt.Printf("nllloss bwd %s %s %v: %v/iter (host)\n", reduction, dtype, shape, elapsed)
	return nil
}

func runNLLLossDevice(input, target, weight, hostOut *tensor.RawTensor, ignoreIndex int64, iter int) error {
	problem := &solver.Problem{
		Op:         solver.OpNLLLossForward,
		DType:      input.DType(),
		Shape:      target.Shape(),
		HasWeights: weight != nil,
	}
	sel, cfg, err := solver.NewRegistry().Select(problem)
	if err != nil {
		return err
	}
	if cfg.Host() {
		return nil
	}
	dev := newDevice()
	if dev == nil {
		return nil
	}
	defer dev.Release()

	devOut, err := tensor.NewRaw(hostOut.Shape(), hostOut.DType(), tensor.CPU)
	if err != nil {
		return err
	}
	var weight32 *tensor.RawTensor
	if weight != nil {
		vals, err := tensor.Values[float32](weight)
		if err != nil {
			return err
		}
		if weight32, err = tensor.FromSlice(vals, weight.Shape(), tensor.CPU); err != nil {
			return err
		}
	}
	elapsed, err := timeIt(iter, func() error {
		return dev.NLLLossUnreduceForward(input, target, weight32, devOut, ignoreIndex, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("nllloss fwd none %v: %v/iter (device, %s)\n", input.Shape(), elapsed, sel.Name())
	return reportVerify("nllloss", devOut, hostOut)
}

func runKLDivLoss(args []string) error {
	fs := flag.NewFlagSet("kldivloss", flag.ExitOnError)
	dims := fs.String("dims", "32x128", "input dims, e.g. 32x128")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
	reductionStr := fs.String("reduction", "mean", "none, sum, or mean")
	logTarget := fs.Bool("log-target", false, "targets are log-probabilities")
	iter := fs.Int("iter", 1, "timing iterations")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	shape, err := parseDims(*dims, 0)
	if err != nil {
		return err
	}
	dtype, err := parseDType(*dtypeStr)
	if err != nil {
		return err
	}
	reduction, err := ops.ParseReduction(*reductionStr)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	input, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	var target *tensor.RawTensor
	if *logTarget {
		target, err = randTensor(rng, shape, dtype)
	} else {
		target, err = randPositiveTensor(rng, shape, dtype)
	}
	if err != nil {
		return err
	}

	if reduction == ops.ReductionNone {
		output, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return err
		}
		elapsed, err := timeIt(*iter, func() error {
			return ops.KLDivLossUnreduceForward(input, target, output, *logTarget)
		})
		if err != nil {
			return err
		}
		fmt.Printf("kldivloss fwd none %s %v: %v/iter (host)\n", dtype, shape, elapsed)
		return nil
	}

	divisor := 1.0
	if reduction == ops.ReductionMean {
		divisor = float64(shape.NumElements())
	}
	output, err := tensor.NewRaw(tensor.Shape{1}, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err := timeIt(*iter, func() error {
		return ops.KLDivLossReduceForward(input, target, output, *logTarget, divisor)
	})
	if err != nil {
		return err
	}
	fmt.Printf("kldivloss fwd %s %s %v: %v/iter (host)\n", reduction, dtype, shape, elapsed)

	inputGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	targetGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	outputGrad, err := tensor.NewRaw(tensor.Shape{1}, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	if err := tensor.StoreValues(outputGrad, []float64{1}); err != nil {
		return err
	}
	elapsed, err = timeIt(*iter, func() error {
		return ops.KLDivLossBackward(inputGrad, targetGrad, input, target, outputGrad, *logTarget, divisor)
	})
	if err != nil {
		return err
	}
	fmt.Printf("kldivloss bwd %s %s %v: %v/iter (host)\n", reduction, dtype, shape, elapsed)
	return nil
}
