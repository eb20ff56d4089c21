package solver

import (
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/bn"
)

// Batch-norm variants are tagged by layout and direction; the device path
// currently covers forward inference only, so training and backward always
// fall through to the host reference.

type bnInferDevice struct{}

func (bnInferDevice) Name() string { return "BnFwdInferDevice" }
func (bnInferDevice) ops() []Op    { return []Op{OpBNForwardInfer} }

func (bnInferDevice) IsApplicable(p *Problem) bool {
	return deviceDType(p.DType) && len(p.Shape) == 4
}

func (bnInferDevice) Launch(p *Problem) (LaunchConfig, error) {
	if len(p.Shape) != 4 {
		return LaunchConfig{}, fmt.Errorf("%w: batch-norm needs a 4-d input, got %v", ErrNotApplicable, p.Shape)
	}
	c, h, w := p.Shape[1], p.Shape[2], p.Shape[3]
	kernel := "bn_fwd_infer_per_activation"
	if p.Layout == bn.Spatial {
		kernel = "bn_fwd_infer_spatial"
	}
	// One thread per activation position, inner loop over the batch.
	return grid1D(kernel, c*h*w, deviceWorkgroupSize), nil
}

type bnHost struct{}

func (bnHost) Name() string { return "BnHostReference" }

func (bnHost) ops() []Op {
	return []Op{OpBNForwardTrain, OpBNForwardInfer, OpBNBackward}
}

func (bnHost) IsApplicable(p *Problem) bool {
	return len(p.Shape) == 4 && p.Epsilon > 0
}

func (bnHost) Launch(p *Problem) (LaunchConfig, error) {
	groups := bn.GroupCount(p.Layout, p.Shape[1], p.Shape[2], p.Shape[3])
	return LaunchConfig{
		KernelName:    hostKernelName,
		WorkgroupSize: uint32(hostChunkHint()),
		GridX:         uint32(groups),
		GridY:         1,
		GridZ:         1,
	}, nil
}
