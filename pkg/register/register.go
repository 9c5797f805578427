// Package register estimates and applies the geometric transforms
// that bring a set of frames onto a common pixel grid. Two estimators
// are provided: frequency-domain cross-correlation (translation only)
// and asterism matching (translation + rotation + scale).
package register

import (
	"errors"

	"github.com/mkendrick/ccdred/pkg/emath"
	"github.com/mkendrick/ccdred/pkg/framedata"
)

var (
	// ErrTooFewSources: asterism matching could not find enough common
	// stars between the two frames.
	ErrTooFewSources = errors.New("too few common sources for registration")

	// ErrAmbiguousPeak: the correlation surface has no clearly
	// dominant peak, so the translation estimate is unreliable.
	ErrAmbiguousPeak = errors.New("correlation peak is ambiguous")
)

// A Point is a detected source position in pixel coordinates, with a
// flux used to rank it.
type Point struct {
	X, Y float64
	Flux float64
}

// A Framed pairs a frame with its detected stars, the unit asterism
// alignment works in.
type Framed struct {
	Frame *framedata.FrameData
	Stars []Point
}

// Resample applies xform to a frame by inverse-mapped bilinear
// interpolation: out(x,y) samples in at xform^-1(x,y). Pixels that
// land outside the input, or interpolate from a masked pixel, come
// back masked. The uncertainty plane is resampled the same way.
func Resample(frame *framedata.FrameData, xform emath.Aff3) (*framedata.FrameData, error) {
	inv, err := xform.Invert()
	if err != nil {
		return nil, err
	}

	out := framedata.New(frame.Width, frame.Height)
	out.Unit = frame.Unit
	out.Header = frame.Header.Clone()
	if frame.Uncert != nil {
		out.EnsureUncert()
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			sx, sy := inv.Apply(float64(x), float64(y))
			i := y*out.Width + x

			v, u, ok := sampleBilinear(frame, sx, sy)
			if !ok {
				out.Mask[i] = true
				continue
			}
			out.Pixels[i] = v
			if out.Uncert != nil {
				out.Uncert[i] = u
			}
		}
	}

	out.Header.AddHistory("resampled: " + xform.String())
	return out, nil
}

func sampleBilinear(f *framedata.FrameData, x, y float64) (val, uncert float64, ok bool) {
	x0 := int(x)
	y0 := int(y)
	if x < 0 || y < 0 || x0 >= f.Width-1 || y0 >= f.Height-1 {
		return 0, 0, false
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	idx := []int{
		y0*f.Width + x0, y0*f.Width + x0 + 1,
		(y0+1)*f.Width + x0, (y0+1)*f.Width + x0 + 1,
	}
	weights := []float64{
		(1 - fx) * (1 - fy), fx * (1 - fy),
		(1 - fx) * fy, fx * fy,
	}

	for k, i := range idx {
		if f.Mask != nil && f.Mask[i] && weights[k] > 1e-9 {
			return 0, 0, false
		}
		val += weights[k] * f.Pixels[i]
		if f.Uncert != nil {
			uncert += weights[k] * f.Uncert[i]
		}
	}
	return val, uncert, true
}

// TranslationTransform returns the transform that aligns a frame
// displaced by (dx,dy) back onto its reference.
func TranslationTransform(dx, dy float64) emath.Aff3 {
	return emath.Identity().Translate(-dx, -dy)
}
