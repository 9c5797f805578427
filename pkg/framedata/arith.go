package framedata

import (
	"fmt"
	"math"
)

// imarith-style frame arithmetic. Every operation validates shape and
// unit compatibility up front, propagates uncertainty in quadrature,
// and ORs the masks. With InPlace set the left operand is mutated and
// returned; otherwise it is cloned first.

type ArithOptions struct {
	InPlace bool
	// SkipUncertainty drops uncertainty propagation, trading accuracy
	// bookkeeping for speed and memory on big stacks.
	SkipUncertainty bool
}

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
)

func (op arithOp) String() string {
	switch op {
	case opAdd:
		return "add"
	case opSub:
		return "sub"
	case opMul:
		return "mul"
	default:
		return "div"
	}
}

func Add(a, b *FrameData, opt ArithOptions) (*FrameData, error) { return imarith(a, b, opAdd, opt) }
func Sub(a, b *FrameData, opt ArithOptions) (*FrameData, error) { return imarith(a, b, opSub, opt) }
func Mul(a, b *FrameData, opt ArithOptions) (*FrameData, error) { return imarith(a, b, opMul, opt) }
func Div(a, b *FrameData, opt ArithOptions) (*FrameData, error) { return imarith(a, b, opDiv, opt) }

func imarith(a, b *FrameData, op arithOp, opt ArithOptions) (*FrameData, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%s: %dx%d vs %dx%d: %w",
			op, a.Width, a.Height, b.Width, b.Height, ErrShapeMismatch)
	}

	unit, err := combineUnits(a.Unit, b.Unit, op)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := a
	if !opt.InPlace {
		out = a.Clone()
	}
	out.Unit = unit

	propagate := !opt.SkipUncertainty && (a.Uncert != nil || b.Uncert != nil)
	if propagate {
		out.EnsureUncert()
	}

	for i := range out.Pixels {
		av, bv := a.Pixels[i], b.Pixels[i]
		var r float64
		switch op {
		case opAdd:
			r = av + bv
		case opSub:
			r = av - bv
		case opMul:
			r = av * bv
		case opDiv:
			r = av / bv
		}

		if propagate {
			ua, ub := 0.0, 0.0
			if a.Uncert != nil {
				ua = a.Uncert[i]
			}
			if b.Uncert != nil {
				ub = b.Uncert[i]
			}
			switch op {
			case opAdd, opSub:
				out.Uncert[i] = math.Hypot(ua, ub)
			case opMul, opDiv:
				// relative errors in quadrature
				ra, rb := 0.0, 0.0
				if av != 0 {
					ra = ua / av
				}
				if bv != 0 {
					rb = ub / bv
				}
				out.Uncert[i] = math.Abs(r) * math.Hypot(ra, rb)
			}
		}

		out.Pixels[i] = r
	}

	if b.Mask != nil {
		if out.Mask == nil {
			out.Mask = make([]bool, out.NPix())
		}
		for i, m := range b.Mask {
			if m {
				out.Mask[i] = true
			}
		}
	}

	return out, nil
}

// AddScalar, SubScalar, MulScalar and DivScalar apply a constant to
// every pixel. Units and uncertainty scale as expected.
func AddScalar(a *FrameData, s float64, opt ArithOptions) *FrameData {
	return scalarOp(a, s, opAdd, opt)
}
func SubScalar(a *FrameData, s float64, opt ArithOptions) *FrameData {
	return scalarOp(a, s, opSub, opt)
}
func MulScalar(a *FrameData, s float64, opt ArithOptions) *FrameData {
	return scalarOp(a, s, opMul, opt)
}
func DivScalar(a *FrameData, s float64, opt ArithOptions) *FrameData {
	return scalarOp(a, s, opDiv, opt)
}

func scalarOp(a *FrameData, s float64, op arithOp, opt ArithOptions) *FrameData {
	out := a
	if !opt.InPlace {
		out = a.Clone()
	}
	for i := range out.Pixels {
		switch op {
		case opAdd:
			out.Pixels[i] += s
		case opSub:
			out.Pixels[i] -= s
		case opMul:
			out.Pixels[i] *= s
		case opDiv:
			out.Pixels[i] /= s
		}
	}
	if out.Uncert != nil && !opt.SkipUncertainty && (op == opMul || op == opDiv) {
		scale := math.Abs(s)
		if op == opDiv {
			scale = 1.0 / scale
		}
		for i := range out.Uncert {
			out.Uncert[i] *= scale
		}
	}
	return out
}

func combineUnits(a, b string, op arithOp) (string, error) {
	switch op {
	case opAdd, opSub:
		if !UnitsCompatible(a, b) {
			return "", fmt.Errorf("%q vs %q: %w", a, b, ErrUnitMismatch)
		}
		if a != "" {
			return a, nil
		}
		return b, nil

	case opMul, opDiv:
		// A dimensionless operand (a normalized flat, a gain-free
		// scaling frame) leaves the unit alone. Dividing by the same
		// unit cancels it. Anything else has no well-defined product
		// unit in this model.
		if b == "" {
			return a, nil
		}
		if a == "" {
			return b, nil
		}
		if a == b {
			if op == opDiv {
				return "", nil
			}
			return "", fmt.Errorf("product of %q and %q has no defined unit: %w", a, b, ErrUnitMismatch)
		}
		return "", fmt.Errorf("%q vs %q: %w", a, b, ErrUnitMismatch)
	}
	return "", nil
}
