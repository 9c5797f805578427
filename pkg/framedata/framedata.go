// Package framedata holds the in-memory representation of a CCD frame:
// a float64 pixel grid plus mask, optional uncertainty, unit and
// header. It is the currency every processing operator trades in.
package framedata

import (
	"fmt"
	"math"
)

// Common unit strings. Units are free-form; these are the ones the
// standard reduction steps produce.
const (
	UnitADU      = "adu"
	UnitElectron = "electron"
)

// A FrameData is one CCD frame. Pixels are stored row-major with
// stride Width, like emath's old FloatGrid. Mask is true where a pixel
// is bad (cosmic ray, saturated, off-frame after resampling). Uncert,
// when present, is the 1-sigma uncertainty per pixel.
type FrameData struct {
	Width  int
	Height int

	Pixels []float64
	Mask   []bool
	Uncert []float64

	Unit   string
	Header *Header

	parked *parkedFrame
}

// New creates a frame of the given shape, with an all-clear mask and
// no uncertainty.
func New(width, height int) *FrameData {
	return &FrameData{
		Width:  width,
		Height: height,
		Pixels: make([]float64, width*height),
		Mask:   make([]bool, width*height),
		Header: NewHeader(),
	}
}

// NewFromSlice wraps an existing pixel slice; the data is not copied.
func NewFromSlice(pixels []float64, width, height int) (*FrameData, error) {
	if len(pixels) != width*height {
		return nil, fmt.Errorf("pixel slice has %d values, want %dx%d=%d: %w",
			len(pixels), width, height, width*height, ErrShapeMismatch)
	}
	return &FrameData{
		Width:  width,
		Height: height,
		Pixels: pixels,
		Mask:   make([]bool, width*height),
		Header: NewHeader(),
	}, nil
}

func (f *FrameData) At(x, y int) float64      { return f.Pixels[y*f.Width+x] }
func (f *FrameData) Set(x, y int, v float64)  { f.Pixels[y*f.Width+x] = v }
func (f *FrameData) Masked(x, y int) bool     { return f.Mask[y*f.Width+x] }
func (f *FrameData) SetMask(x, y int, m bool) { f.Mask[y*f.Width+x] = m }

func (f *FrameData) NPix() int { return f.Width * f.Height }

// SameShape reports whether two frames have identical dimensions.
func (f *FrameData) SameShape(other *FrameData) bool {
	return f.Width == other.Width && f.Height == other.Height
}

// Validate checks the shape invariants: mask and uncertainty, when
// present, must match the pixel grid.
func (f *FrameData) Validate() error {
	n := f.NPix()
	if len(f.Pixels) != n {
		return fmt.Errorf("pixels len %d != %dx%d: %w", len(f.Pixels), f.Width, f.Height, ErrShapeMismatch)
	}
	if f.Mask != nil && len(f.Mask) != n {
		return fmt.Errorf("mask len %d != %d pixels: %w", len(f.Mask), n, ErrShapeMismatch)
	}
	if f.Uncert != nil && len(f.Uncert) != n {
		return fmt.Errorf("uncertainty len %d != %d pixels: %w", len(f.Uncert), n, ErrShapeMismatch)
	}
	return nil
}

// EnsureUncert allocates a zero uncertainty plane if none is present.
func (f *FrameData) EnsureUncert() {
	if f.Uncert == nil {
		f.Uncert = make([]float64, f.NPix())
	}
}

func (f *FrameData) Clone() *FrameData {
	f2 := &FrameData{
		Width:  f.Width,
		Height: f.Height,
		Pixels: append([]float64(nil), f.Pixels...),
		Unit:   f.Unit,
		Header: f.Header.Clone(),
	}
	if f.Mask != nil {
		f2.Mask = append([]bool(nil), f.Mask...)
	}
	if f.Uncert != nil {
		f2.Uncert = append([]float64(nil), f.Uncert...)
	}
	return f2
}

// MaskedFraction is the fraction of pixels currently flagged bad.
func (f *FrameData) MaskedFraction() float64 {
	if len(f.Mask) == 0 {
		return 0
	}
	n := 0
	for _, m := range f.Mask {
		if m {
			n++
		}
	}
	return float64(n) / float64(len(f.Mask))
}

// UnmaskedValues copies out the values of unmasked pixels.
func (f *FrameData) UnmaskedValues() []float64 {
	vals := make([]float64, 0, len(f.Pixels))
	for i, v := range f.Pixels {
		if f.Mask != nil && f.Mask[i] {
			continue
		}
		vals = append(vals, v)
	}
	return vals
}

func (f *FrameData) String() string {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, v := range f.Pixels {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	unit := f.Unit
	if unit == "" {
		unit = "?"
	}
	return fmt.Sprintf("frame[%dx%d %s, vals{%g,%g}, %.1f%% masked]",
		f.Width, f.Height, unit, min, max, 100*f.MaskedFraction())
}

// UnitsCompatible reports whether two unit strings may be combined by
// additive arithmetic. An empty unit is compatible with anything, the
// way a dimensionless flat is.
func UnitsCompatible(a, b string) bool {
	return a == "" || b == "" || a == b
}
