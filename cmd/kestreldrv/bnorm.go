package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/solver"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

func parseLayout(s string) (bn.Layout, error) {
	switch s {
	case "peract", "per-activation":
		return bn.PerActivation, nil
	case "spatial":
		return bn.Spatial, nil
	}
	return 0, fmt.Errorf("unknown layout %q (want peract or spatial)", s)
}

func runBNorm(args []string) error {
	fs := flag.NewFlagSet("bnorm", flag.ExitOnError)
	dims := fs.String("dims", "4x8x16x16", "input dims as NxCxHxW")
	layoutStr := fs.String("layout", "spatial", "peract or spatial")
	mode := fs.String("mode", "train", "train, infer, or bwd")
	dtypeStr := fs.String("dtype", "fp32", "fp32, fp64, fp16, or bf16")
	eps := fs.Float64("eps", 1e-5, "normalization epsilon")
	factor := fs.Float64("factor", 0.1, "running-statistics blend factor")
	save := fs.Bool("save", true, "save mean/invVar snapshots (train)")
	track := fs.Bool("track", true, "update running statistics (train)")
	iter := fs.Int("iter", 1, "timing iterations")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	shape, err := parseDims(*dims, 4)
	if err != nil {
		return err
	}
	layout, err := parseLayout(*layoutStr)
	if err != nil {
		return err
	}
	dtype, err := parseDType(*dtypeStr)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	groups := bn.GroupCount(layout, shape[1], shape[2], shape[3])
	groupShape := tensor.Shape{groups}

	x, err := randTensor(rng, shape, dtype)
	if err != nil {
		return err
	}
	y, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return err
	}
	scale, err := randPositiveTensor(rng, groupShape, tensor.Float64)
	if err != nil {
		return err
	}
	bias, err := randTensor(rng, groupShape, tensor.Float64)
	if err != nil {
		return err
	}

	newGroupBuf := func() (*tensor.RawTensor, error) {
		return tensor.NewRaw(groupShape, tensor.Float64, tensor.CPU)
	}

	switch *mode {
	case "train":
		stats := bn.Stats{}
		if *track {
			if stats.RunningMean, err = newGroupBuf(); err != nil {
				return err
			}
			if stats.RunningVariance, err = newGroupBuf(); err != nil {
				return err
			}
		}
		if *save {
			if stats.SavedMean, err = newGroupBuf(); err != nil {
				return err
			}
			if stats.SavedInvVar, err = newGroupBuf(); err != nil {
				return err
			}
		}
		cfg := bn.Config{Epsilon: *eps, ExpAvgFactor: *factor, SaveStats: *save, TrackRunningStats: *track}
		elapsed, err := timeIt(*iter, func() error {
			return bn.ForwardTrain(layout, x, y, scale, bias, stats, cfg)
		})
		if err != nil {
			return err
		}
		fmt.Printf("bnorm train %s %s %v: %v/iter (host)\n", layout, dtype, shape, elapsed)
		return nil

	case "infer":
		estMean, err := randTensor(rng, groupShape, tensor.Float64)
		if err != nil {
			return err
		}
		estVar, err := randPositiveTensor(rng, groupShape, tensor.Float64)
		if err != nil {
			return err
		}
		elapsed, err := timeIt(*iter, func() error {
			return bn.ForwardInfer(layout, x, y, scale, bias, estMean, estVar, *eps)
		})
		if err != nil {
			return err
		}
		fmt.Printf("bnorm infer %s %s %v: %v/iter (host)\n", layout, dtype, shape, elapsed)
		return runBNormInferDevice(layout, x, y, scale, bias, estMean, estVar, *eps, *iter)

	case "bwd":
		dy, err := randTensor(rng, shape, dtype)
		if err != nil {
			return err
		}
		dx, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return err
		}
		dscale, err := newGroupBuf()
		if err != nil {
			return err
		}
		dbias, err := newGroupBuf()
		if err != nil {
			return err
		}
		elapsed, err := timeIt(*iter, func() error {
			return bn.Backward(layout, x, dy, dx, scale, dscale, dbias, nil, nil, *eps)
		})
		if err != nil {
			return err
		}
		fmt.Printf("bnorm bwd %s %s %v: %v/iter (host)\n", layout, dtype, shape, elapsed)
		return nil
	}
	return fmt.Errorf("unknown mode %q (want train, infer, or bwd)", *mode)
}

// runBNormInferDevice reruns inference on the GPU when a device and an
// applicable solver exist, and verifies against the host result.
func runBNormInferDevice(layout bn.Layout, x, hostY, scale, bias, estMean, estVar *tensor.RawTensor, eps float64, iter int) error {
	problem := &solver.Problem{
		Op:      solver.OpBNForwardInfer,
		DType:   x.DType(),
		Shape:   x.Shape(),
		Layout:  layout,
		Epsilon: eps,
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

	// Device statistics buffers must match the storage dtype.
	scale32, bias32, mean32, var32, err := toFloat32(scale, bias, estMean, estVar)
	if err != nil {
		return err
	}
	devY, err := tensor.NewRaw(x.Shape(), x.DType(), tensor.CPU)
	if err != nil {
		return err
	}
	elapsed, err := timeIt(iter, func() error {
		return dev.BNForwardInfer(layout, x, devY, scale32, bias32, mean32, var32, eps, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("bnorm infer %s %v: %v/iter (device, %s)\n", layout, x.Shape(), elapsed, sel.Name())
	return reportVerify("bnorm infer", devY, hostY)
}

// toFloat32 converts float64 parameter buffers to the float32 layout the
// device kernels bind.
func toFloat32(ts ...*tensor.RawTensor) (a, b, c, d *tensor.RawTensor, err error) {
	out := make([]*tensor.RawTensor, len(ts))
	for i, t := range ts {
		vals, verr := tensor.Values[float32](t)
		if verr != nil {
			return nil, nil, nil, nil, verr
		}
		if out[i], verr = tensor.FromSlice(vals, t.Shape(), tensor.CPU); verr != nil {
			return nil, nil, nil, nil, verr
		}
	}
	return out[0], out[1], out[2], out[3], nil
}
