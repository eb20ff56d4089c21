package ops

import (
	"fmt"

	"github.com/kestrel-ml/kestrel/internal/parallel"
	"github.com/kestrel-ml/kestrel/internal/tensor"
)

// Unfold extracts sliding local blocks from a rank-4 input (N, C, H, W) into
// a column tensor (N, C*kh*kw, L), where L is the number of window
// positions. Out-of-bounds (padding) positions read as zero. The backward
// pass scatter-adds column gradients back onto the overlapping input
// positions.

// UnfoldParams holds the per-spatial-dim window geometry.
type UnfoldParams struct {
	Kernel   [2]int
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
}

func (p UnfoldParams) validate() error {
	for i := 0; i < 2; i++ {
		if p.Kernel[i] <= 0 || p.Stride[i] <= 0 || p.Dilation[i] <= 0 {
			return fmt.Errorf("%w: unfold kernel/stride/dilation must be positive, got %+v", ErrInvalidParameter, p)
		}
		if p.Padding[i] < 0 {
			return fmt.Errorf("%w: unfold padding must be non-negative, got %+v", ErrInvalidParameter, p)
		}
	}
	return nil
}

// outSpatial returns the number of window positions along one dim.
func (p UnfoldParams) outSpatial(i, size int) int {
	return (size+2*p.Padding[i]-p.Dilation[i]*(p.Kernel[i]-1)-1)/p.Stride[i] + 1
}

// OutputShape returns the (N, C*kh*kw, L) column shape for an input shape.
func (p UnfoldParams) OutputShape(input tensor.Shape) (tensor.Shape, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(input) != 4 {
		return nil, fmt.Errorf("%w: unfold input must be 4D (N,C,H,W), got %v", ErrInvalidParameter, input)
	}
	hOut := p.outSpatial(0, input[2])
	wOut := p.outSpatial(1, input[3])
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("%w: unfold window does not fit input %v with %+v", ErrInvalidParameter, input, p)
	}
	return tensor.Shape{input[0], input[1] * p.Kernel[0] * p.Kernel[1], hOut * wOut}, nil
}

// UnfoldForward fills output with the flattened sliding blocks of input.
func UnfoldForward(input, output *tensor.RawTensor, p UnfoldParams) error {
	wantOut, err := p.OutputShape(input.Shape())
	if err != nil {
		return err
	}
	if !output.Shape().Equal(wantOut) {
		return fmt.Errorf("%w: unfold output shape %v, want %v", ErrInvalidParameter, output.Shape(), wantOut)
	}

	in, err := tensor.Values[float64](input)
	if err != nil {
		return err
	}

	s := input.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	kh, kw := p.Kernel[0], p.Kernel[1]
	hOut, wOut := p.outSpatial(0, h), p.outSpatial(1, w)
	l := hOut * wOut

	out := make([]float64, wantOut.NumElements())
	parallel.ForBatch(n, c, func(nIdx, cIdx int) {
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := (cIdx*kh+ki)*kw + kj
				for oi := 0; oi < hOut; oi++ {
					hIn := oi*p.Stride[0] - p.Padding[0] + ki*p.Dilation[0]
					for oj := 0; oj < wOut; oj++ {
						wIn := oj*p.Stride[1] - p.Padding[1] + kj*p.Dilation[1]
						v := 0.0
						if hIn >= 0 && hIn < h && wIn >= 0 && wIn < w {
							v = in[((nIdx*c+cIdx)*h+hIn)*w+wIn]
						}
						out[(nIdx*c*kh*kw+row)*l+oi*wOut+oj] = v
					}
				}
			}
		}
	}, parallel.DefaultConfig())

	return tensor.StoreValues(output, out)
}

// UnfoldBackward scatter-adds the column gradient back to the input
// gradient; positions covered by several windows accumulate one
// contribution per window.
func UnfoldBackward(inputGrad, outputGrad *tensor.RawTensor, p UnfoldParams) error {
	wantOut, err := p.OutputShape(inputGrad.Shape())
	if err != nil {
		return err
	}
	if !outputGrad.Shape().Equal(wantOut) {
		return fmt.Errorf("%w: unfold output gradient shape %v, want %v", ErrInvalidParameter, outputGrad.Shape(), wantOut)
	}

	dout, err := tensor.Values[float64](outputGrad)
	if err != nil {
		return err
	}

	s := inputGrad.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	kh, kw := p.Kernel[0], p.Kernel[1]
	hOut, wOut := p.outSpatial(0, h), p.outSpatial(1, w)
	l := hOut * wOut

	din := make([]float64, s.NumElements())
	// One goroutine owns a full (n, c) image plane, so the scatter-adds for
	// overlapping windows never race.
	parallel.ForBatch(n, c, func(nIdx, cIdx int) {
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := (cIdx*kh+ki)*kw + kj
				for oi := 0; oi < hOut; oi++ {
					hIn := oi*p.Stride[0] - p.Padding[0] + ki*p.Dilation[0]
					if hIn < 0 || hIn >= h {
						continue
					}
					for oj := 0; oj < wOut; oj++ {
						wIn := oj*p.Stride[1] - p.Padding[1] + kj*p.Dilation[1]
						if wIn < 0 || wIn >= w {
							continue
						}
						din[((nIdx*c+cIdx)*h+hIn)*w+wIn] += dout[(nIdx*c*kh*kw+row)*l+oi*wOut+oj]
					}
				}
			}
		}
	}, parallel.DefaultConfig())

	return tensor.StoreValues(inputGrad, din)
}
