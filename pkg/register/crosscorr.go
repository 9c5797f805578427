package register

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mkendrick/ccdred/pkg/emath"
	"github.com/mkendrick/ccdred/pkg/framedata"
)

// Phase cross-correlation: the cross-power spectrum of two frames,
// whitened and inverse-transformed, peaks at their relative
// displacement. Translation only; sub-pixel refinement by fitting a
// parabola through the peak and its neighbours.

type CrossCorrParams struct {
	// AmbiguityRatio: the main peak must exceed the strongest peak
	// more than minPeakSep pixels away by this factor. <= 0 takes 1.2.
	AmbiguityRatio float64
}

const minPeakSep = 2

// CrossCorrelate estimates the displacement (dx,dy) of img relative
// to ref: img(x,y) ~ ref(x-dx, y-dy). Masked pixels are replaced by
// the frame median before transforming.
func CrossCorrelate(ref, img *framedata.FrameData, p CrossCorrParams) (dx, dy float64, err error) {
	if !ref.SameShape(img) {
		return 0, 0, fmt.Errorf("cross-correlate: %dx%d vs %dx%d: %w",
			ref.Width, ref.Height, img.Width, img.Height, framedata.ErrShapeMismatch)
	}
	ratio := p.AmbiguityRatio
	if ratio <= 0 {
		ratio = 1.2
	}

	w, h := ref.Width, ref.Height
	fa := toComplex(ref)
	fb := toComplex(img)

	fft2d(fa, w, h, false)
	fft2d(fb, w, h, false)

	// Whitened cross-power spectrum
	cross := make([]complex128, len(fa))
	for i := range cross {
		c := fa[i] * cmplx.Conj(fb[i])
		if mag := cmplx.Abs(c); mag > 1e-15 {
			c /= complex(mag, 0)
		}
		cross[i] = c
	}
	fft2d(cross, w, h, true)

	corr := make([]float64, len(cross))
	for i, c := range cross {
		corr[i] = real(c)
	}

	px, py, peak := peakLocation(corr, w, h)

	// A clean solution has one dominant peak; compare against the
	// strongest value well away from it.
	second := -math.MaxFloat64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if wrapDist(x, px, w) <= minPeakSep && wrapDist(y, py, h) <= minPeakSep {
				continue
			}
			if v := corr[y*w+x]; v > second {
				second = v
			}
		}
	}
	if second > 0 && peak/second < ratio {
		return 0, 0, fmt.Errorf("cross-correlate: peak %.3g vs secondary %.3g: %w",
			peak, second, ErrAmbiguousPeak)
	}

	// Sub-pixel refinement, then unwrap. The peak sits at -d mod N.
	sx := float64(px) + parabolicOffset(
		corr[py*w+((px-1+w)%w)], peak, corr[py*w+((px+1)%w)])
	sy := float64(py) + parabolicOffset(
		corr[((py-1+h)%h)*w+px], peak, corr[((py+1)%h)*w+px])

	dx = -wrapShift(sx, w)
	dy = -wrapShift(sy, h)
	return dx, dy, nil
}

// AlignByCrossCorrelation estimates the shift and resamples img onto
// ref's grid.
func AlignByCrossCorrelation(ref, img *framedata.FrameData, p CrossCorrParams) (*framedata.FrameData, emath.Aff3, error) {
	dx, dy, err := CrossCorrelate(ref, img, p)
	if err != nil {
		return nil, emath.Identity(), err
	}
	xform := TranslationTransform(dx, dy)
	out, err := Resample(img, xform)
	if err != nil {
		return nil, xform, err
	}
	return out, xform, nil
}

func toComplex(f *framedata.FrameData) []complex128 {
	med := emath.Median(f.UnmaskedValues())
	if math.IsNaN(med) {
		med = 0
	}
	out := make([]complex128, f.NPix())
	for i, v := range f.Pixels {
		if f.Mask != nil && f.Mask[i] {
			v = med
		}
		out[i] = complex(v-med, 0)
	}
	return out
}

// fft2d transforms in place, rows then columns.
func fft2d(data []complex128, w, h int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, data[y*w:(y+1)*w])
		if inverse {
			rowFFT.Sequence(data[y*w:(y+1)*w], row)
		} else {
			rowFFT.Coefficients(data[y*w:(y+1)*w], row)
		}
	}

	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	out := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = data[y*w+x]
		}
		if inverse {
			colFFT.Sequence(out, col)
		} else {
			colFFT.Coefficients(out, col)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = out[y]
		}
	}

	if inverse {
		scale := complex(1.0/float64(w*h), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

func peakLocation(corr []float64, w, h int) (px, py int, peak float64) {
	peak = -math.MaxFloat64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if v := corr[y*w+x]; v > peak {
				peak, px, py = v, x, y
			}
		}
	}
	return px, py, peak
}

// parabolicOffset fits a parabola through three samples centred on
// the peak and returns the fractional offset of its apex, in [-.5,.5].
func parabolicOffset(left, center, right float64) float64 {
	denom := left - 2*center + right
	if math.Abs(denom) < 1e-15 {
		return 0
	}
	off := 0.5 * (left - right) / denom
	return emath.Clamp(off, -0.5, 0.5)
}

func wrapShift(v float64, n int) float64 {
	if v > float64(n)/2 {
		return v - float64(n)
	}
	return v
}

func wrapDist(a, b, n int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if n-d < d {
		d = n - d
	}
	return d
}
