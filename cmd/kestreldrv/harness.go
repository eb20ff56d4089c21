package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-ml/kestrel/internal/backend/webgpu"
	"github.com/kestrel-ml/kestrel/internal/tensor"
	"github.com/kestrel-ml/kestrel/internal/verify"
)

// parseDims parses an NxCxHxW-style dimension string, e.g. "4x8x16x16".
func parseDims(s string, want int) (tensor.Shape, error) {
	parts := strings.Split(s, "x")
	if want > 0 && len(parts) != want {
		return nil, fmt.Errorf("expected %d dims, got %q", want, s)
	}
	shape := make(tensor.Shape, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("bad dim %q in %q", p, s)
		}
		shape[i] = v
	}
	return shape, nil
}

func parseDType(s string) (tensor.DataType, error) {
	switch s {
	case "fp32", "float32":
		return tensor.Float32, nil
	case "fp64", "float64":
		return tensor.Float64, nil
	case "fp16", "float16":
		return tensor.Float16, nil
	case "bf16", "bfloat16":
		return tensor.BFloat16, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// randTensor fills a new tensor with uniform values in [-1, 1).
func randTensor(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, shape.NumElements())
	for i := range vals {
		vals[i] = rng.Float64()*2 - 1
	}
	if err := tensor.StoreValues(t, vals); err != nil {
		return nil, err
	}
	return t, nil
}

// randPositiveTensor fills a new tensor with uniform values in (0, 1],
// for variance and probability inputs.
func randPositiveTensor(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, shape.NumElements())
	for i := range vals {
		vals[i] = 1 - rng.Float64()
	}
	if err := tensor.StoreValues(t, vals); err != nil {
		return nil, err
	}
	return t, nil
}

// timeIt runs f iter times and reports the mean wall time per call.
func timeIt(iter int, f func() error) (time.Duration, error) {
	if iter < 1 {
		iter = 1
	}
	start := time.Now()
	for i := 0; i < iter; i++ {
		if err := f(); err != nil {
			return 0, err
		}
	}
	return time.Since(start) / time.Duration(iter), nil
}

// newDevice opens the WebGPU backend, reporting nil when unavailable so
// the runners fall back to host-only mode.
func newDevice() *webgpu.Backend {
	dev, err := webgpu.New()
	if err != nil {
		fmt.Printf("device unavailable (%v), running host-only\n", err)
		return nil
	}
	fmt.Printf("device: %s\n", dev.AdapterName())
	return dev
}

// reportVerify prints a comparison between device and host results.
func reportVerify(label string, got, want *tensor.RawTensor) error {
	res, err := verify.CompareTensors(got, want)
	if err != nil {
		return err
	}
	fmt.Printf("verify %s: %s\n", label, res)
	if !res.OK() {
		return fmt.Errorf("%s verification failed", label)
	}
	return nil
}
