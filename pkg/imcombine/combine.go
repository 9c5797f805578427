// Package imcombine stacks calibrated frames into one: mean, median
// or sum per pixel, masked pixels excluded, optional sigma clipping.
// Deterministic given input order and method.
package imcombine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// KeyMaster is the provenance keyword stamped on combined frames:
// BIAS, DARK, FLAT or STACK.
const KeyMaster = "MASTER"

type Options struct {
	Method string // mean, median, sum

	// MaskThreshold masks an output pixel when the fraction of masked
	// inputs at that pixel exceeds it. <= 0 takes the default of 0.5.
	MaskThreshold float64

	// SigmaClip iteratively rejects values this many sigma from the
	// per-pixel median before reduction; 0 disables clipping.
	SigmaClip float64

	SkipUncertainty bool
}

type reduceFunc func(vals []float64) float64

func reducer(method string) (reduceFunc, error) {
	switch method {
	case "mean", "average":
		return func(vals []float64) float64 { return stat.Mean(vals, nil) }, nil
	case "median":
		return func(vals []float64) float64 {
			sorted := append([]float64(nil), vals...)
			sort.Float64s(sorted)
			n := len(sorted)
			if n%2 == 1 {
				return sorted[n/2]
			}
			return (sorted[n/2-1] + sorted[n/2]) / 2
		}, nil
	case "sum":
		return func(vals []float64) float64 {
			s := 0.0
			for _, v := range vals {
				s += v
			}
			return s
		}, nil
	default:
		return nil, fmt.Errorf("no combine method named %q", method)
	}
}

// Combine stacks the frames. All inputs must share shape and
// compatible units; the output inherits the first frame's header.
func Combine(frames []*framedata.FrameData, opt Options) (*framedata.FrameData, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("combine: no frames")
	}
	reduce, err := reducer(opt.Method)
	if err != nil {
		return nil, fmt.Errorf("combine: %w", err)
	}
	threshold := opt.MaskThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	first := frames[0]
	unit := first.Unit
	for i, f := range frames[1:] {
		if !f.SameShape(first) {
			return nil, fmt.Errorf("combine: frame %d is %dx%d, frame 0 is %dx%d: %w",
				i+1, f.Width, f.Height, first.Width, first.Height, framedata.ErrShapeMismatch)
		}
		if !framedata.UnitsCompatible(unit, f.Unit) {
			return nil, fmt.Errorf("combine: frame %d unit %q vs %q: %w",
				i+1, f.Unit, unit, framedata.ErrUnitMismatch)
		}
		if unit == "" {
			unit = f.Unit
		}
	}

	out := framedata.New(first.Width, first.Height)
	out.Unit = unit
	out.Header = first.Header.Clone()

	propagate := false
	if !opt.SkipUncertainty {
		for _, f := range frames {
			if f.Uncert != nil {
				propagate = true
				break
			}
		}
	}
	if propagate {
		out.EnsureUncert()
	}

	n := float64(len(frames))
	vals := make([]float64, 0, len(frames))
	varsum := make([]float64, 0, len(frames))

	for i := range out.Pixels {
		vals = vals[:0]
		varsum = varsum[:0]
		masked := 0
		for _, f := range frames {
			if f.Mask != nil && f.Mask[i] {
				masked++
				continue
			}
			vals = append(vals, f.Pixels[i])
			if propagate {
				u := 0.0
				if f.Uncert != nil {
					u = f.Uncert[i]
				}
				varsum = append(varsum, u*u)
			}
		}

		if float64(masked)/n > threshold || len(vals) == 0 {
			out.Mask[i] = true
		}
		if len(vals) == 0 {
			continue
		}

		if opt.SigmaClip > 0 && len(vals) > 2 {
			vals = sigmaClipped(vals, opt.SigmaClip)
		}
		out.Pixels[i] = reduce(vals)

		if propagate {
			sum := 0.0
			for _, v := range varsum {
				sum += v
			}
			m := float64(len(vals))
			switch opt.Method {
			case "sum":
				out.Uncert[i] = math.Sqrt(sum)
			case "median":
				// median of a normal sample is ~1.2533x noisier than the mean
				out.Uncert[i] = 1.2533 * math.Sqrt(sum) / m
			default:
				out.Uncert[i] = math.Sqrt(sum) / m
			}
		}
	}

	out.Header.Set("NCOMBINE", len(frames), "number of frames combined")
	out.Header.AddHistory(fmt.Sprintf("combined %d frames by %s", len(frames), opt.Method))
	return out, nil
}

// sigmaClipped iteratively drops values outside clip sigma of the
// median until stable. The input slice is reordered.
func sigmaClipped(vals []float64, clip float64) []float64 {
	for len(vals) > 2 {
		sort.Float64s(vals)
		med := vals[len(vals)/2]
		sigma := stat.StdDev(vals, nil)
		if sigma == 0 {
			break
		}
		kept := vals[:0]
		for _, v := range vals {
			if math.Abs(v-med) <= clip*sigma {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(vals) {
			break
		}
		vals = kept
	}
	return vals
}

// MarkMaster stamps the master-type provenance keyword.
func MarkMaster(frame *framedata.FrameData, masterType string) {
	frame.Header.Set(KeyMaster, masterType, "master frame type")
}
