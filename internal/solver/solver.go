// Package solver selects a concrete kernel strategy for a primitive at
// runtime. Each candidate solver inspects a Problem, declines with
// ErrNotApplicable when the problem is out of its reach, and otherwise
// produces the LaunchConfig the backend needs to dispatch it.
package solver

import (
	"errors"
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/bn"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// ErrNotApplicable is returned by a solver that cannot handle the problem.
// The dispatcher treats it as "try the next candidate".
var ErrNotApplicable = errors.New("solver: not applicable")

// Op identifies the primitive a Problem describes.
type Op int

const (
	OpBNForwardTrain Op = iota
	OpBNForwardInfer
	OpBNBackward
	OpNLLLossForward
	OpKLDivLossForward
	OpWhereForward
	OpWhereBackward
	OpUnfoldForward
	OpAdamStep
	OpArgmin
)

func (o Op) String() string {
	switch o {
	case OpBNForwardTrain:
		return "bn-forward-train"
	case OpBNForwardInfer:
		return "bn-forward-infer"
	case OpBNBackward:
		return "bn-backward"
	case OpNLLLossForward:
		return "nllloss-forward"
	case OpKLDivLossForward:
		return "kldivloss-forward"
	case OpWhereForward:
		return "where-forward"
	case OpWhereBackward:
		return "where-backward"
	case OpUnfoldForward:
		return "unfold-forward"
	case OpAdamStep:
		return "adam-step"
	case OpArgmin:
		return "argmin"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Problem is the runtime description a solver decides on: the primitive,
// the shapes and element type involved, and the scalar knobs that change
// which kernel variant can run.
type Problem struct {
	Op     Op
	DType  tensor.DataType
	Shape  tensor.Shape // primary input shape
	Layout bn.Layout    // batch-norm problems only

	// Per-op scalar configuration.
	Epsilon    float64
	LogTarget  bool
	AMSGrad    bool
	HasWeights bool

	// Broadcast marks problems whose graded operands are broadcast views.
	// Device scatter kernels decline those (colliding writes).
	Broadcast bool
}

// NumElements reports the flatten size of the primary input.
func (p *Problem) NumElements() int {
	return p.Shape.NumElements()
}

// LaunchConfig describes one device dispatch: which WGSL entry point to
// run and how to shape the grid. GridX/Y/Z are workgroup counts, already
// divided by the workgroup size.
type LaunchConfig struct {
	KernelName    string
	WorkgroupSize uint32
	GridX         uint32
	GridY         uint32
	GridZ         uint32
}

// Host reports whether the configuration targets the host reference path
// rather than a device kernel.
func (c LaunchConfig) Host() bool { return c.KernelName == hostKernelName }

// grid1D spreads n elements over workgroups of the given size.
func grid1D(kernel string, n int, wgSize uint32) LaunchConfig {
	groups := (uint32(n) + wgSize - 1) / wgSize
	if groups == 0 {
		groups = 1
	}
	return LaunchConfig{
		KernelName:    kernel,
		WorkgroupSize: wgSize,
		GridX:         groups,
		GridY:         1,
		GridZ:         1,
	}
}

// Solver is one candidate strategy for a family of problems.
type Solver interface {
	Name() string
	IsApplicable(p *Problem) bool
	Launch(p *Problem) (LaunchConfig, error)
}

// Registry holds candidates per op in priority order.
type Registry struct {
	byOp map[Op][]Solver
}

// NewRegistry returns a registry preloaded with every built-in solver.
func NewRegistry() *Registry {
	r := &Registry{byOp: make(map[Op][]Solver)}
	for _, s := range builtinSolvers() {
		for _, op := range s.ops() {
			r.byOp[op] = append(r.byOp[op], s)
		}
	}
	return r
}

// opSolver is a Solver that also declares which ops it wants to be
// registered for.
type opSolver interface {
	Solver
	ops() []Op
}

// Select returns the first applicable solver and its launch configuration,
// or ErrNotApplicable when no candidate accepts the problem.
func (r *Registry) Select(p *Problem) (Solver, LaunchConfig, error) {
	for _, s := range r.byOp[p.Op] {
		if !s.IsApplicable(p) {
			continue
		}
		cfg, err := s.Launch(p)
		if err != nil {
			return nil, LaunchConfig{}, err
		}
		return s, cfg, nil
	}
	return nil, LaunchConfig{}, fmt.Errorf("%w: no solver for %s (%s, shape %v)", ErrNotApplicable, p.Op, p.DType, p.Shape)
}

// deviceDType reports whether the element type is representable in the
// WGSL kernels (f32 only; f16/bf16 run through the host path).
func deviceDType(dt tensor.DataType) bool {
	return dt == tensor.Float32
}
