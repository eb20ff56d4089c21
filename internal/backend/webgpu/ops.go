//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/ops"
	"github.com/kestrel-ml/kestrel/internal/solver"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc

func requireFloat32(name string, t *tensor.RawTensor) error {
	if t.DType() != tensor.Float32 {
		return fmt.Errorf("webgpu: %s must be float32 on the device path, got %s", name, t.DType())
	}
	return nil
}

// upload creates a storage buffer holding the tensor's bytes.
func (b *Backend) upload(t *tensor.RawTensor) binding {
	data := t.Data()
	return binding{buf: b.createBuffer(data, storageUsage), size: uint64(len(data))}
}

// condToU32 widens a bool/uint8 condition tensor to the u32 array WGSL can
// address.
func condToU32(cond *tensor.RawTensor) ([]byte, error) {
	var raw []byte
	switch cond.DType() {
	case tensor.Bool, tensor.Uint8:
		raw = cond.Data()
	default:
		return nil, fmt.Errorf("webgpu: condition must be bool or uint8, got %s", cond.DType())
	}
	out := make([]byte, len(raw)*4)
	for i, v := range raw {
		if v != 0 {
			binary.LittleEndian.PutUint32(out[i*4:], 1)
		}
	}
	return out, nil
}

// targetToI32 narrows an int64/int32 class-index tensor to i32 words.
func targetToI32(target *tensor.RawTensor) ([]byte, error) {
	n := target.NumElements()
	out := make([]byte, n*4)
	switch target.DType() {
	case tensor.Int32:
		copy(out, target.Data())
	case tensor.Int64:
		src := target.AsInt64()
		for i, v := range src {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
	default:
		return nil, fmt.Errorf("webgpu: target must be int32 or int64, got %s", target.DType())
	}
	return out, nil
}

// BNForwardInfer runs batch-norm inference with estimated statistics on the
// device and writes the normalized result into y. A failed launch leaves y
// untouched.
func (b *Backend) BNForwardInfer(layout bn.Layout, x, y, scale, bias, estMean, estVar *tensor.RawTensor, epsilon float64, cfg solver.LaunchConfig) error {
	for name, t := range map[string]*tensor.RawTensor{"x": x, "y": y, "scale": scale, "bias": bias, "estMean": estMean, "estVar": estVar} {
		if err := requireFloat32(name, t); err != nil {
			return err
		}
	}
	shape := x.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("webgpu: batch-norm needs a 4-d input, got %v", shape)
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]

	shaderCode := bnFwdInferPerActShader
	var p paramsBuf
	if layout == bn.Spatial {
		shaderCode = bnFwdInferSpatialShader
		p.putU32(uint32(n))
		p.putU32(uint32(c * h * w))
		p.putU32(uint32(h * w))
		p.putF32(float32(epsilon))
	} else {
		p.putU32(uint32(n))
		p.putU32(uint32(c * h * w))
		p.putF32(float32(epsilon))
	}

	bufX := b.upload(x)
	defer bufX.buf.Release()
	bufScale := b.upload(scale)
	defer bufScale.buf.Release()
	bufBias := b.upload(bias)
	defer bufBias.buf.Release()
	bufMean := b.upload(estMean)
	defer bufMean.buf.Release()
	bufVar := b.upload(estVar)
	defer bufVar.buf.Release()

	outSize := uint64(len(y.Data()))
	bufY := binding{buf: b.createOutputBuffer(outSize), size: outSize}
	defer bufY.buf.Release()

	err := b.dispatch(shaderCode, cfg, []binding{bufX, bufScale, bufBias, bufMean, bufVar, bufY}, p.bytes())
	if err != nil {
		return err
	}
	out, err := b.readBuffer(bufY.buf, outSize)
	if err != nil {
		return err
	}
	copy(y.Data(), out)
	return nil
}

// WhereForward selects input or other by condition on the device. Operand
// tensors may be broadcast views addressed by flat modulo indexing.
func (b *Backend) WhereForward(cond, input, other, output *tensor.RawTensor, cfg solver.LaunchConfig) error {
	if err := requireFloat32("input", input); err != nil {
		return err
	}
	if err := requireFloat32("other", other); err != nil {
		return err
	}
	if err := requireFloat32("output", output); err != nil {
		return err
	}
	condWords, err := condToU32(cond)
	if err != nil {
		return err
	}

	var p paramsBuf
	p.putU32(uint32(output.NumElements()))
	p.putU32(uint32(cond.NumElements()))
	p.putU32(uint32(input.NumElements()))
	p.putU32(uint32(other.NumElements()))

	bufCond := binding{buf: b.createBuffer(condWords, storageUsage), size: uint64(len(condWords))}
	defer bufCond.buf.Release()
	bufInput := b.upload(input)
	defer bufInput.buf.Release()
	bufOther := b.upload(other)
	defer bufOther.buf.Release()

	outSize := uint64(len(output.Data()))
	bufOut := binding{buf: b.createOutputBuffer(outSize), size: outSize}
	defer bufOut.buf.Release()

	if err := b.dispatch(whereFwdShader, cfg, []binding{bufCond, bufInput, bufOther, bufOut}, p.bytes()); err != nil {
		return err
	}
	out, err := b.readBuffer(bufOut.buf, outSize)
	if err != nil {
		return err
	}
	copy(output.Data(), out)
	return nil
}

// WhereBackward routes the output gradient into inputGrad and otherGrad by
// condition. Gradient tensors must be full-size; broadcast gradients take
// the host path.
func (b *Backend) WhereBackward(cond, outputGrad, inputGrad, otherGrad *tensor.RawTensor, cfg solver.LaunchConfig) error {
	size := outputGrad.NumElements()
	if inputGrad.NumElements() != size || otherGrad.NumElements() != size {
		return fmt.Errorf("webgpu: where backward needs full-size gradients (%d elements)", size)
	}
	if err := requireFloat32("outputGrad", outputGrad); err != nil {
		return err
	}
	condWords, err := condToU32(cond)
	if err != nil {
		return err
	}

	var p paramsBuf
	p.putU32(uint32(size))
	p.putU32(uint32(cond.NumElements()))

	bufCond := binding{buf: b.createBuffer(condWords, storageUsage), size: uint64(len(condWords))}
	defer bufCond.buf.Release()
	bufGrad := b.upload(outputGrad)
	defer bufGrad.buf.Release()

	gradSize := uint64(len(outputGrad.Data()))
	bufDin := binding{buf: b.createOutputBuffer(gradSize), size: gradSize}
	defer bufDin.buf.Release()
	bufDoth := binding{buf: b.createOutputBuffer(gradSize), size: gradSize}
	defer bufDoth.buf.Release()

	if err := b.dispatch(whereBwdShader, cfg, []binding{bufCond, bufGrad, bufDin, bufDoth}, p.bytes()); err != nil {
		return err
	}
	din, err := b.readBuffer(bufDin.buf, gradSize)
	if err != nil {
		return err
	}
	doth, err := b.readBuffer(bufDoth.buf, gradSize)
	if err != nil {
		return err
	}
	copy(inputGrad.Data(), din)
	copy(otherGrad.Data(), doth)
	return nil
}

// NLLLossUnreduceForward gathers per-position weighted negative
// log-likelihood on the device. weight may be nil for unit weights.
func (b *Backend) NLLLossUnreduceForward(input, target, weight, output *tensor.RawTensor, ignoreIndex int64, cfg solver.LaunchConfig) error {
	if err := requireFloat32("input", input); err != nil {
		return err
	}
	if err := requireFloat32("output", output); err != nil {
		return err
	}
	shape := input.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("webgpu: nllloss needs a 4-d input, got %v", shape)
	}
	c, d1, d2 := shape[1], shape[2], shape[3]

	targetWords, err := targetToI32(target)
	if err != nil {
		return err
	}
	weights := make([]float32, c)
	if weight != nil {
		if err := requireFloat32("weight", weight); err != nil {
			return err
		}
		copy(weights, weight.AsFloat32())
	} else {
		for i := range weights {
			weights[i] = 1
		}
	}
	weightBytes := make([]byte, len(weights)*4)
	for i, v := range weights {
		binary.LittleEndian.PutUint32(weightBytes[i*4:], math.Float32bits(v))
	}

	var p paramsBuf
	p.putU32(uint32(target.NumElements()))
	p.putU32(uint32(c))
	p.putU32(uint32(d1 * d2))
	p.putI32(int32(ignoreIndex))

	bufInput := b.upload(input)
	defer bufInput.buf.Release()
	bufTarget := binding{buf: b.createBuffer(targetWords, storageUsage), size: uint64(len(targetWords))}
	defer bufTarget.buf.Release()
	bufWeight := binding{buf: b.createBuffer(weightBytes, storageUsage), size: uint64(len(weightBytes))}
	defer bufWeight.buf.Release()

	outSize := uint64(len(output.Data()))
	bufOut := binding{buf: b.createOutputBuffer(outSize), size: outSize}
	defer bufOut.buf.Release()

	if err := b.dispatch(nllLossUnreduceFwdShader, cfg, []binding{bufInput, bufTarget, bufWeight, bufOut}, p.bytes()); err != nil {
		return err
	}
	out, err := b.readBuffer(bufOut.buf, outSize)
	if err != nil {
		return err
	}
	copy(output.Data(), out)
	return nil
}

// Argmin computes per-slice minimum indices on the device and widens them
// into the int64 output tensor.
func (b *Backend) Argmin(input, output *tensor.RawTensor, dim int, cfg solver.LaunchConfig) error {
	if err := requireFloat32("input", input); err != nil {
		return err
	}
	if output.DType() != tensor.Int64 {
		return fmt.Errorf("webgpu: argmin output must be int64, got %s", output.DType())
	}
	shape := input.Shape()
	if dim < 0 || dim >= len(shape) {
		return fmt.Errorf("webgpu: argmin dim %d out of range for %d-d input", dim, len(shape))
	}
	inner := 1
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	size := output.NumElements()

	var p paramsBuf
	p.putU32(uint32(size))
	p.putU32(uint32(shape[dim]))
	p.putU32(uint32(inner))

	bufInput := b.upload(input)
	defer bufInput.buf.Release()

	outSize := uint64(size * 4)
	bufOut := binding{buf: b.createOutputBuffer(outSize), size: outSize}
	defer bufOut.buf.Release()

	if err := b.dispatch(argminShader, cfg, []binding{bufInput, bufOut}, p.bytes()); err != nil {
		return err
	}
	raw, err := b.readBuffer(bufOut.buf, outSize)
	if err != nil {
		return err
	}
	out := output.AsInt64()
	for i := 0; i < size; i++ {
		out[i] = int64(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return nil
}

// AdamStep applies acfg.StepCount Adam updates on the device, writing the
// updated parameters and moment buffers back in place. AMP found-inf skips
// happen here, before any dispatch.
func (b *Backend) AdamStep(params, grads, expAvg, expAvgSq, maxExpAvgSq *tensor.RawTensor, acfg ops.AdamConfig, cfg solver.LaunchConfig) error {
	for name, t := range map[string]*tensor.RawTensor{"params": params, "grads": grads, "expAvg": expAvg, "expAvgSq": expAvgSq} {
		if err := requireFloat32(name, t); err != nil {
			return err
		}
	}
	if acfg.AMP && acfg.FoundInf {
		return nil
	}
	gradScale := acfg.GradScale
	if !acfg.AMP || gradScale == 0 {
		gradScale = 1
	}

	var p paramsBuf
	p.putU32(uint32(params.NumElements()))
	p.putU32(uint32(acfg.StepCount))
	p.putBool(acfg.AMSGrad)
	p.putBool(acfg.Maximize)
	p.putF32(float32(acfg.LR))
	p.putF32(float32(acfg.Beta1))
	p.putF32(float32(acfg.Beta2))
	p.putF32(float32(acfg.Eps))
	p.putF32(float32(acfg.WeightDecay))
	p.putF32(float32(gradScale))

	rwUsage := storageUsage | wgpu.BufferUsageCopyDst
	bufParam := binding{buf: b.createBuffer(params.Data(), rwUsage), size: uint64(len(params.Data()))}
	defer bufParam.buf.Release()
	bufGrad := b.upload(grads)
	defer bufGrad.buf.Release()
	bufM := binding{buf: b.createBuffer(expAvg.Data(), rwUsage), size: uint64(len(expAvg.Data()))}
	defer bufM.buf.Release()
	bufV := binding{buf: b.createBuffer(expAvgSq.Data(), rwUsage), size: uint64(len(expAvgSq.Data()))}
	defer bufV.buf.Release()

	// The kernel binds the AMSGrad buffer unconditionally; without AMSGrad
	// a scratch copy of expAvgSq fills the slot and is discarded.
	maxSrc := expAvgSq
	if acfg.AMSGrad {
		if maxExpAvgSq == nil {
			return fmt.Errorf("webgpu: amsgrad requires a maxExpAvgSq buffer")
		}
		if err := requireFloat32("maxExpAvgSq", maxExpAvgSq); err != nil {
			return err
		}
		maxSrc = maxExpAvgSq
	}
	bufVMax := binding{buf: b.createBuffer(maxSrc.Data(), rwUsage), size: uint64(len(maxSrc.Data()))}
	defer bufVMax.buf.Release()

	if err := b.dispatch(adamStepShader, cfg, []binding{bufParam, bufGrad, bufM, bufV, bufVMax}, p.bytes()); err != nil {
		return err
	}

	for _, rb := range []struct {
		bind binding
		dst  *tensor.RawTensor
	}{{bufParam, params}, {bufM, expAvg}, {bufV, expAvgSq}} {
		out, err := b.readBuffer(rb.bind.buf, rb.bind.size)
		if err != nil {
			return err
		}
		copy(rb.dst.Data(), out)
	}
	if acfg.AMSGrad {
		out, err := b.readBuffer(bufVMax.buf, bufVMax.size)
		if err != nil {
			return err
		}
		copy(maxExpAvgSq.Data(), out)
	}
	return nil
}
