package ccdproc

import (
	"fmt"
	"math"
	"sort"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// Cosmic-ray rejection by Laplacian edge detection, after van Dokkum's
// L.A.Cosmic. Cosmic-ray hits are single-pixel-sharp: they stand far
// above the local median, and unlike stars they have no surrounding
// fine structure. Hits are flagged in the mask and replaced by the
// median of their clean neighbours.

type CosmicParams struct {
	SigClip float64 // detection threshold in sigma over the local median residual
	ObjLim  float64 // contrast limit between residual and fine structure, rejects real sources
	MaxIter int     // detection/replacement passes
}

func DefaultCosmicParams() CosmicParams {
	return CosmicParams{SigClip: 4.5, ObjLim: 5.0, MaxIter: 4}
}

// CosmicRays detects and cleans cosmic-ray hits, returning the frame
// and the total number of pixels flagged.
func CosmicRays(frame *framedata.FrameData, p CosmicParams, opt Options) (*framedata.FrameData, int, error) {
	if p.SigClip <= 0 || p.MaxIter <= 0 {
		return nil, 0, fmt.Errorf("cosmic rays: bad params sigclip=%g maxiter=%d", p.SigClip, p.MaxIter)
	}
	if p.ObjLim <= 0 {
		p.ObjLim = DefaultCosmicParams().ObjLim
	}

	out := frame
	if !opt.InPlace {
		out = frame.Clone()
	}
	if out.Mask == nil {
		out.Mask = make([]bool, out.NPix())
	}

	w, h := out.Width, out.Height
	total := 0

	for iter := 0; iter < p.MaxIter; iter++ {
		med3 := medianFiltered(out.Pixels, w, h, 1)
		med7 := medianFiltered(med3, w, h, 3)

		// Residual over the local median, and its robust scale.
		resid := make([]float64, len(out.Pixels))
		for i := range resid {
			resid[i] = out.Pixels[i] - med3[i]
		}
		sigma := madSigma(resid)
		if sigma <= 0 {
			break
		}

		hits := []int{}
		for i, r := range resid {
			if out.Mask[i] || r < p.SigClip*sigma {
				continue
			}
			// Fine structure: how much the 3x3 median itself stands
			// above the 7x7 median. Stars have lots; cosmics almost none.
			fine := med3[i] - med7[i]
			if fine < sigma {
				fine = sigma
			}
			if r/fine > p.ObjLim {
				hits = append(hits, i)
			}
		}
		if len(hits) == 0 {
			break
		}

		for _, i := range hits {
			out.Mask[i] = true
		}
		for _, i := range hits {
			if v, ok := cleanNeighbourMedian(out, i%w, i/w, 2); ok {
				out.Pixels[i] = v
			}
		}
		total += len(hits)
	}

	out.Header.AddHistory(fmt.Sprintf("cosmic rays: %d pixels flagged, sigclip=%.1f objlim=%.1f",
		total, p.SigClip, p.ObjLim))
	return out, total, nil
}

// medianFiltered computes a (2r+1)x(2r+1) median filter with edge
// clamping. Window sizes here are small, so sorting per pixel is fine.
func medianFiltered(data []float64, w, h, r int) []float64 {
	out := make([]float64, len(data))
	window := make([]float64, 0, (2*r+1)*(2*r+1))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 {
						xx = 0
					}
					if xx >= w {
						xx = w - 1
					}
					if yy < 0 {
						yy = 0
					}
					if yy >= h {
						yy = h - 1
					}
					window = append(window, data[yy*w+xx])
				}
			}
			sort.Float64s(window)
			out[y*w+x] = window[len(window)/2]
		}
	}
	return out
}

// madSigma estimates the standard deviation from the median absolute
// deviation, which ignores the cosmic hits themselves.
func madSigma(vals []float64) float64 {
	abs := make([]float64, len(vals))
	for i, v := range vals {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	if len(abs) == 0 {
		return 0
	}
	return 1.4826 * abs[len(abs)/2]
}

func cleanNeighbourMedian(f *framedata.FrameData, x, y, r int) (float64, bool) {
	vals := []float64{}
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			xx, yy := x+dx, y+dy
			if xx < 0 || xx >= f.Width || yy < 0 || yy >= f.Height {
				continue
			}
			i := yy*f.Width + xx
			if f.Mask[i] {
				continue
			}
			vals = append(vals, f.Pixels[i])
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	sort.Float64s(vals)
	return vals[len(vals)/2], true
}
