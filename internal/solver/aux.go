package solver

const deviceWorkgroupSize = 256

// Aux-primitive solvers. Device candidates register first; the host
// reference accepts everything and terminates every chain.

type whereDevice struct{}

func (whereDevice) Name() string { return "WhereDevice" }
func (whereDevice) ops() []Op    { return []Op{OpWhereForward, OpWhereBackward} }

func (whereDevice) IsApplicable(p *Problem) bool {
	if p.Op == OpWhereBackward && p.Broadcast {
		return false
	}
	return deviceDType(p.DType)
}

func (whereDevice) Launch(p *Problem) (LaunchConfig, error) {
	kernel := "where_forward"
	if p.Op == OpWhereBackward {
		kernel = "where_backward"
	}
	return grid1D(kernel, p.NumElements(), deviceWorkgroupSize), nil
}

type nllLossDevice struct{}

func (nllLossDevice) Name() string { return "NLLLossUnreduceDevice" }
func (nllLossDevice) ops() []Op    { return []Op{OpNLLLossForward} }

func (nllLossDevice) IsApplicable(p *Problem) bool {
	// The gather kernel reads one input element per output element; the
	// problem shape here is the target (= output) shape.
	return deviceDType(p.DType)
}

func (nllLossDevice) Launch(p *Problem) (LaunchConfig, error) {
	return grid1D("nllloss_unreduce_forward", p.NumElements(), deviceWorkgroupSize), nil
}

type argminDevice struct{}

func (argminDevice) Name() string { return "ArgminDevice" }
func (argminDevice) ops() []Op    { return []Op{OpArgmin} }

func (argminDevice) IsApplicable(p *Problem) bool {
	return deviceDType(p.DType)
}

func (argminDevice) Launch(p *Problem) (LaunchConfig, error) {
	// One thread per output slice; the reduction dim is walked serially.
	return grid1D("argmin", p.NumElements(), deviceWorkgroupSize), nil
}

type adamDevice struct{}

func (adamDevice) Name() string { return "AdamDevice" }
func (adamDevice) ops() []Op    { return []Op{OpAdamStep} }

func (adamDevice) IsApplicable(p *Problem) bool {
	// AMSGrad carries a fourth state buffer; the device kernel binds it
	// unconditionally, so both flavors run.
	return deviceDType(p.DType)
}

func (adamDevice) Launch(p *Problem) (LaunchConfig, error) {
	return grid1D("adam_step", p.NumElements(), deviceWorkgroupSize), nil
}

type auxHost struct{}

func (auxHost) Name() string { return "AuxHostReference" }

func (auxHost) ops() []Op {
	return []Op{
		OpNLLLossForward, OpKLDivLossForward, OpWhereForward, OpWhereBackward,
		OpUnfoldForward, OpAdamStep, OpArgmin,
	}
}

func (auxHost) IsApplicable(p *Problem) bool { return p.NumElements() > 0 }

func (auxHost) Launch(p *Problem) (LaunchConfig, error) {
	return LaunchConfig{
		KernelName:    hostKernelName,
		WorkgroupSize: uint32(hostChunkHint()),
		GridX:         uint32(p.NumElements()),
		GridY:         1,
		GridZ:         1,
	}, nil
}

func builtinSolvers() []opSolver {
	return []opSolver{
		bnInferDevice{},
		whereDevice{},
		nllLossDevice{},
		argminDevice{},
		adamDevice{},
		bnHost{},
		auxHost{},
	}
}
