package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/kestrel-ml/kestrel/internal/ops"
	"github.com/kestrel-ml/kestrel/internal/solver"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func runWhere(args []string) error {
	fs := flag.NewFlagSet("where", flag.ExitOnError)
	dims := fs.String("dims", "64x64", "operand dims, e.g. 64x64")
	condDims := fs.String("cond-dims", "", "condition dims (default: same as operands)")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
	iter := fs.Int("iter", 1, "timing iterations")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	shape, err := parseDims(*dims, 0)
	if err != nil {
		return err
	}
	condShape := shape
	if *condDims != "" {
		if condShape, err = parseDims(*condDims, 0); err != nil {
			return err
		}
	}
	dtype, err := parseDType(*dtypeStr)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	input, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	other, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	condVals := make([]bool, condShape.NumElements())
	for i := range condVals {
		condVals[i] = rng.Intn(2) == 1
	}
	cond, err := tensor.FromSlice(condVals, condShape, tensor.CPU)
	if err != nil {
		return err
	}
	output, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}

	elapsed, err := timeIt(*iter, func() error {
		return ops.WhereForward(cond, input, other, output)
	})
	if err != nil {
		return err
	}
	fmt.Printf("where fwd %s %v cond %v: %v/iter (host)\n", dtype, shape, condShape, elapsed)

	outputGrad, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	inputGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	otherGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err = timeIt(*iter, func() error {
		return ops.WhereBackward(cond, outputGrad, inputGrad, otherGrad)
	})
	if err != nil {
		return err
	}
	fmt.Printf("where bwd %s %v: %v/iter (host)\n", dtype, shape, elapsed)

	return runWhereDevice(cond, input, other, output, *iter)
}

func runWhereDevice(cond, input, other, hostOut *tensor.RawTensor, iter int) error {
	problem := &solver.Problem{
		Op:    solver.OpWhereForward,
		DType: input.DType(),
		Shape: hostOut.Shape(),
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
	elapsed, err := timeIt(iter, func() error {
		return dev.WhereForward(cond, input, other, devOut, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("where fwd %v: %v/iter (device, %s)\n", hostOut.Shape(), elapsed, sel.Name())
	return reportVerify("where", devOut, hostOut)
}

func runUnfold(args []string) error {
	fs := flag.NewFlagSet("unfold", flag.ExitOnError)
	dims := fs.String("dims", "2x3x16x16", "input dims as NxCxHxW")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
	kernel := fs.Int("kernel", 3, "square kernel size")
	stride := fs.Int("stride", 1, "stride")
	padding := fs.Int("padding", 0, "zero padding")
	dilation := fs.Int("dilation", 1, "dilation")
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
	p := ops.UnfoldParams{
		Kernel:   [2]int{*kernel, *kernel},
		Stride:   [2]int{*stride, *stride},
		Padding:  [2]int{*padding, *padding},
		Dilation: [2]int{*dilation, *dilation},
	}
	outShape, err := p.OutputShape(shape)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	input, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	output, err := tensor.NewRaw(outShape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err := timeIt(*iter, func() error {
		return ops.UnfoldForward(input, output, p)
	})
	if err != nil {
		return err
	}
	fmt.Printf("unfold fwd %s %v -> %v: %v/iter (host)\n", dtype, shape, outShape, elapsed)

	inputGrad, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	outputGrad, err := randTensor(rng, outShape, dtype)
	if err != nil {
		return err
	}
	elapsed, err = timeIt(*iter, func() error {
		return ops.UnfoldBackward(inputGrad, outputGrad, p)
	})
	if err != nil {
		return err
	}
	fmt.Printf("unfold bwd %s %v: %v/iter (host)\n", dtype, shape, elapsed)
	return nil
}

func runAdam(args []string) error {
	fs := flag.NewFlagSet("adam", flag.ExitOnError)
	size := fs.Int("size", 1<<16, "parameter count")
	dtypeStr := fs.String("dtype", "fp32", "fp32 or fp64")
	lr := fs.Float64("lr", 0.001, "learning rate")
	weightDecay := fs.Float64("wd", 0, "weight decay")
	amsgrad := fs.Bool("amsgrad", false, "track the max second moment")
	maximize := fs.Bool("maximize", false, "ascend instead of descend")
	steps := fs.Int("steps", 1, "updates per call")
	iter := fs.Int("iter", 1, "timing iterations")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dtype, err := parseDType(*dtypeStr)
	if err != nil {
		return err
	}
	shape := tensor.Shape{*size}
	rng := rand.New(rand.NewSource(*seed))

	params, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	grads, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	newState := func() (*tensor.RawTensor, error) { return tensor.NewRaw(shape, dtype, tensor.CPU) }
	expAvg, err := newState()
	if err != nil {
		return err
	}
	expAvgSq, err := newState()
	if err != nil {
		return err
	}
	var maxExpAvgSq *tensor.RawTensor
	if *amsgrad {
		if maxExpAvgSq, err = newState(); err != nil {
			return err
		}
	}

	cfg := ops.DefaultAdamConfig()
	cfg.LR = *lr
	cfg.WeightDecay = *weightDecay
	cfg.AMSGrad = *amsgrad
	cfg.Maximize = *maximize
	cfg.StepCount = *steps

	elapsed, err := timeIt(*iter, func() error {
		return ops.AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("adam %s n=%d steps=%d: %v/iter (host)\n", dtype, *size, *steps, elapsed)
	return nil
}

func runArgmin(args []string) error {
	fs := flag.NewFlagSet("argmin", flag.ExitOnError)
	dims := fs.String("dims", "32x128", "input dims")
	dim := fs.Int("dim", 1, "reduction dimension")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
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
	if *dim < 0 || *dim >= len(shape) {
		return fmt.Errorf("dim %d out of range for %v", *dim, shape)
	}
	outShape := make(tensor.Shape, 0, len(shape)-1)
	outShape = append(outShape, shape[:*dim]...)
	outShape = append(outShape, shape[*dim+1:]...)
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	rng := rand.New(rand.NewSource(*seed))
	input, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	output, err := tensor.NewRaw(outShape, tensor.Int64, tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err := timeIt(*iter, func() error {
		return ops.ArgminForward(input, output, *dim)
	})
	if err != nil {
		return err
	}
	fmt.Printf("argmin %s %v dim=%d: %v/iter (host)\n", dtype, shape, *dim, elapsed)

	problem := &solver.Problem{Op: solver.OpArgmin, DType: dtype, Shape: outShape}
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

	devOut, err := tensor.NewRaw(outShape, tensor.Int64, tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err = timeIt(*iter, func() error {
		return dev.Argmin(input, devOut, *dim, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("argmin %v dim=%d: %v/iter (device, %s)\n", shape, *dim, elapsed, sel.Name())

	// Index outputs compare exactly.
	got, want := devOut.AsInt64(), output.AsInt64()
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("argmin verification failed at %d: device %d, host %d", i, got[i], want[i])
		}
	}
	fmt.Printf("verify argmin: ok (%d values, exact)\n", len(want))
	return nil
}
