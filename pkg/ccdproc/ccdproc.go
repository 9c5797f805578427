// Package ccdproc implements the standard CCD calibration operators:
// gain correction, bias/dark subtraction, flat division, trimming and
// cosmic-ray rejection. Each operator takes a frame and returns a
// frame, mutating in place only when asked to, and records what it did
// as header HISTORY.
package ccdproc

import (
	"fmt"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// KeyGain is the header keyword consulted when no explicit gain is
// given; KeyExposure for dark scaling.
const (
	KeyGain     = "GAIN"
	KeyExposure = "EXPTIME"
)

type Options struct {
	InPlace         bool
	SkipUncertainty bool
}

func (o Options) arith() framedata.ArithOptions {
	return framedata.ArithOptions{InPlace: o.InPlace, SkipUncertainty: o.SkipUncertainty}
}

// GainCorrect multiplies the frame by its gain, converting adu to
// electrons. gain <= 0 means read it from the GAIN keyword.
func GainCorrect(frame *framedata.FrameData, gain float64, opt Options) (*framedata.FrameData, error) {
	if gain <= 0 {
		g, err := frame.Header.Float(KeyGain)
		if err != nil {
			return nil, fmt.Errorf("gain correct: %w", err)
		}
		gain = g
	}
	if frame.Unit != "" && frame.Unit != framedata.UnitADU {
		return nil, fmt.Errorf("gain correct: frame unit %q, want %q: %w",
			frame.Unit, framedata.UnitADU, framedata.ErrUnitMismatch)
	}

	out := framedata.MulScalar(frame, gain, opt.arith())
	out.Unit = framedata.UnitElectron
	out.Header.AddHistory(fmt.Sprintf("gain corrected, gain=%g electron/adu", gain))
	return out, nil
}

// SubtractBias subtracts a master bias. Units must agree.
func SubtractBias(frame, bias *framedata.FrameData, opt Options) (*framedata.FrameData, error) {
	out, err := framedata.Sub(frame, bias, opt.arith())
	if err != nil {
		return nil, fmt.Errorf("bias subtract: %w", err)
	}
	out.Header.AddHistory("bias subtracted")
	return out, nil
}

// SubtractDark subtracts a master dark, optionally scaled by the ratio
// of exposure times (both read from EXPTIME).
func SubtractDark(frame, dark *framedata.FrameData, scaleByExposure bool, opt Options) (*framedata.FrameData, error) {
	d := dark
	scale := 1.0
	if scaleByExposure {
		fexp, err := frame.Header.Float(KeyExposure)
		if err != nil {
			return nil, fmt.Errorf("dark subtract: frame: %w", err)
		}
		dexp, err := dark.Header.Float(KeyExposure)
		if err != nil {
			return nil, fmt.Errorf("dark subtract: dark: %w", err)
		}
		if dexp <= 0 {
			return nil, fmt.Errorf("dark subtract: dark exposure is %g", dexp)
		}
		scale = fexp / dexp
		d = framedata.MulScalar(dark, scale, framedata.ArithOptions{})
	}

	out, err := framedata.Sub(frame, d, opt.arith())
	if err != nil {
		return nil, fmt.Errorf("dark subtract: %w", err)
	}
	out.Header.AddHistory(fmt.Sprintf("dark subtracted, scale=%.4f", scale))
	return out, nil
}

// FlatCorrect divides by a master flat normalized to its unmasked
// mean, so the correction preserves total flux.
func FlatCorrect(frame, flat *framedata.FrameData, opt Options) (*framedata.FrameData, error) {
	if !frame.SameShape(flat) {
		return nil, fmt.Errorf("flat correct: %dx%d vs %dx%d: %w",
			frame.Width, frame.Height, flat.Width, flat.Height, framedata.ErrShapeMismatch)
	}

	vals := flat.UnmaskedValues()
	if len(vals) == 0 {
		return nil, fmt.Errorf("flat correct: flat is fully masked")
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if mean == 0 {
		return nil, fmt.Errorf("flat correct: flat mean is zero")
	}

	norm := framedata.DivScalar(flat, mean, framedata.ArithOptions{})
	norm.Unit = "" // normalized flat is dimensionless

	out, err := framedata.Div(frame, norm, opt.arith())
	if err != nil {
		return nil, fmt.Errorf("flat correct: %w", err)
	}
	out.Header.AddHistory(fmt.Sprintf("flat corrected, flat mean=%.4f", mean))
	return out, nil
}

// Trim crops the frame to the rectangle [x0,x1) x [y0,y1).
func Trim(frame *framedata.FrameData, x0, y0, x1, y1 int) (*framedata.FrameData, error) {
	if x0 < 0 || y0 < 0 || x1 > frame.Width || y1 > frame.Height || x0 >= x1 || y0 >= y1 {
		return nil, fmt.Errorf("trim: region [%d:%d,%d:%d] outside frame %dx%d",
			x0, x1, y0, y1, frame.Width, frame.Height)
	}

	w, h := x1-x0, y1-y0
	out := framedata.New(w, h)
	out.Unit = frame.Unit
	out.Header = frame.Header.Clone()
	if frame.Uncert != nil {
		out.EnsureUncert()
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y+y0)*frame.Width + (x + x0)
			dst := y*w + x
			out.Pixels[dst] = frame.Pixels[src]
			if frame.Mask != nil {
				out.Mask[dst] = frame.Mask[src]
			}
			if frame.Uncert != nil {
				out.Uncert[dst] = frame.Uncert[src]
			}
		}
	}
	out.Header.AddHistory(fmt.Sprintf("trimmed to [%d:%d,%d:%d]", x0, x1, y0, y1))
	return out, nil
}
