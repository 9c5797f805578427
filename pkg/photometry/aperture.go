package photometry

import (
	"fmt"
	"math"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// Aperture photometry: circular aperture sums with a sky annulus.
// Edges are handled by subsampling boundary pixels, which is accurate
// to well under a percent for the aperture radii used on point
// sources.

// Flag bits recorded per measurement.
type Flags uint16

const (
	FlagMaskedInAperture Flags = 1 << iota
	FlagOutOfBounds
	FlagMaskedInAnnulus
	FlagNoSky
)

type ApertureParams struct {
	R    float64 // aperture radius, pixels
	RIn  float64 // sky annulus inner radius
	ROut float64 // sky annulus outer radius

	// SkyMethod is mean, median or mmm (default mmm, the DAOPHOT-ish
	// mode estimator).
	SkyMethod string

	// Gain in electrons/adu for the Poisson term of the flux error;
	// <= 0 means the pixel values are already in electrons.
	Gain float64
}

type ApertureResult struct {
	X, Y    float64
	Flux    float64 // sky-subtracted aperture flux
	FluxErr float64
	Sky     float64 // sky level per pixel
	SkyStd  float64
	Area    float64 // effective aperture area in pixels
	Flags   Flags
}

// Measure performs aperture photometry at each source position.
func Measure(frame *framedata.FrameData, sources []Source, p ApertureParams) ([]ApertureResult, error) {
	if p.R <= 0 {
		return nil, fmt.Errorf("aperture: radius %g", p.R)
	}
	if p.RIn <= p.R || p.ROut <= p.RIn {
		return nil, fmt.Errorf("aperture: annulus [%g,%g] must lie outside radius %g", p.RIn, p.ROut, p.R)
	}
	method := p.SkyMethod
	if method == "" {
		method = "mmm"
	}
	gain := p.Gain
	if gain <= 0 {
		gain = 1.0
	}

	results := make([]ApertureResult, len(sources))
	for i, src := range sources {
		results[i] = measureOne(frame, src.X, src.Y, p, method, gain)
	}
	return results, nil
}

func measureOne(frame *framedata.FrameData, cx, cy float64, p ApertureParams, skyMethod string, gain float64) ApertureResult {
	res := ApertureResult{X: cx, Y: cy}
	w, h := frame.Width, frame.Height

	// Sky from the annulus first
	skyVals := []float64{}
	r0 := int(math.Floor(cx - p.ROut - 1))
	r1 := int(math.Ceil(cx + p.ROut + 1))
	r2 := int(math.Floor(cy - p.ROut - 1))
	r3 := int(math.Ceil(cy + p.ROut + 1))
	for y := r2; y <= r3; y++ {
		for x := r0; x <= r1; x++ {
			if x < 0 || x >= w || y < 0 || y >= h {
				continue
			}
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			if d < p.RIn || d > p.ROut {
				continue
			}
			i := y*w + x
			if frame.Mask != nil && frame.Mask[i] {
				res.Flags |= FlagMaskedInAnnulus
				continue
			}
			skyVals = append(skyVals, frame.Pixels[i])
		}
	}
	if len(skyVals) < 3 {
		res.Flags |= FlagNoSky
	} else {
		sky, std, err := estimate(skyVals, skyMethod, 3.0)
		if err == nil {
			res.Sky, res.SkyStd = sky, std
		}
	}

	// Aperture sum with subsampled edge pixels
	const sub = 5
	var flux, area float64
	a0 := int(math.Floor(cx - p.R - 1))
	a1 := int(math.Ceil(cx + p.R + 1))
	a2 := int(math.Floor(cy - p.R - 1))
	a3 := int(math.Ceil(cy + p.R + 1))
	for y := a2; y <= a3; y++ {
		for x := a0; x <= a1; x++ {
			// distance from aperture centre to pixel centre
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			if d > p.R+0.71 {
				continue
			}

			frac := 1.0
			if d > p.R-0.71 {
				frac = pixelOverlap(float64(x), float64(y), cx, cy, p.R, sub)
				if frac == 0 {
					continue
				}
			}

			if x < 0 || x >= w || y < 0 || y >= h {
				res.Flags |= FlagOutOfBounds
				continue
			}
			i := y*w + x
			if frame.Mask != nil && frame.Mask[i] {
				res.Flags |= FlagMaskedInAperture
				continue
			}
			flux += frac * frame.Pixels[i]
			area += frac
		}
	}

	res.Area = area
	res.Flux = flux - res.Sky*area

	// CCD error equation: Poisson + sky noise + sky estimation noise
	nSky := float64(len(skyVals))
	variance := math.Max(res.Flux, 0)/gain + area*res.SkyStd*res.SkyStd
	if nSky > 0 {
		variance += area * area * res.SkyStd * res.SkyStd / nSky
	}
	res.FluxErr = math.Sqrt(variance)
	return res
}

// pixelOverlap estimates the fraction of the unit pixel centred at
// (px,py) inside the circle (cx,cy,r), by sub x sub sampling.
func pixelOverlap(px, py, cx, cy, r float64, sub int) float64 {
	inside := 0
	step := 1.0 / float64(sub)
	for sy := 0; sy < sub; sy++ {
		for sx := 0; sx < sub; sx++ {
			x := px - 0.5 + (float64(sx)+0.5)*step
			y := py - 0.5 + (float64(sy)+0.5)*step
			if math.Hypot(x-cx, y-cy) <= r {
				inside++
			}
		}
	}
	return float64(inside) / float64(sub*sub)
}

// InstrumentalMag converts a flux to an instrumental magnitude;
// non-positive fluxes come back NaN.
func InstrumentalMag(flux float64) float64 {
	if flux <= 0 {
		return math.NaN()
	}
	return -2.5 * math.Log10(flux)
}

// MagError propagates a flux error into magnitudes.
func MagError(flux, fluxErr float64) float64 {
	if flux <= 0 {
		return math.NaN()
	}
	return 1.0857 * fluxErr / flux
}
