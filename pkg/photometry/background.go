// Package photometry estimates backgrounds, finds point sources and
// measures their fluxes. Nothing here assumes a known PSF width.
package photometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mkendrick/ccdred/pkg/emath"
	"github.com/mkendrick/ccdred/pkg/framedata"
)

// Background estimate for a frame. Level/Noise always hold the global
// scalar estimate; Map/NoiseMap are per-pixel when grid-based.
type Background struct {
	Level float64
	Noise float64

	Map      []float64
	NoiseMap []float64
	Width    int
	Height   int
}

// LevelAt returns the background at a pixel, falling back to the
// global scalar when no map was built.
func (b *Background) LevelAt(x, y int) float64 {
	if b.Map == nil {
		return b.Level
	}
	return b.Map[y*b.Width+x]
}

func (b *Background) NoiseAt(x, y int) float64 {
	if b.NoiseMap == nil {
		return b.Noise
	}
	return b.NoiseMap[y*b.Width+x]
}

// GlobalBackground sigma-clips the unmasked pixels and estimates the
// sky level and noise. method is one of mean, median, mmm; mmm is the
// crowded-field mode estimator 3*median - 2*mean.
func GlobalBackground(frame *framedata.FrameData, method string, clipSigma float64) (*Background, error) {
	vals := frame.UnmaskedValues()
	if len(vals) == 0 {
		return nil, fmt.Errorf("background: frame is fully masked")
	}
	level, noise, err := estimate(vals, method, clipSigma)
	if err != nil {
		return nil, err
	}
	return &Background{Level: level, Noise: noise, Width: frame.Width, Height: frame.Height}, nil
}

// GridBackground estimates the sky per boxSize x boxSize cell, then
// bilinearly interpolates cell values into full-resolution maps. Use
// it when the sky has structure: moonlight gradients, vignetting left
// by an imperfect flat.
func GridBackground(frame *framedata.FrameData, boxSize int, method string, clipSigma float64) (*Background, error) {
	if boxSize < 8 {
		return nil, fmt.Errorf("background: box size %d too small", boxSize)
	}
	w, h := frame.Width, frame.Height
	nx := (w + boxSize - 1) / boxSize
	ny := (h + boxSize - 1) / boxSize
	if nx < 2 || ny < 2 {
		return GlobalBackground(frame, method, clipSigma)
	}

	cellLevel := make([]float64, nx*ny)
	cellNoise := make([]float64, nx*ny)
	for cy := 0; cy < ny; cy++ {
		for cx := 0; cx < nx; cx++ {
			vals := []float64{}
			for y := cy * boxSize; y < (cy+1)*boxSize && y < h; y++ {
				for x := cx * boxSize; x < (cx+1)*boxSize && x < w; x++ {
					i := y*w + x
					if frame.Mask != nil && frame.Mask[i] {
						continue
					}
					vals = append(vals, frame.Pixels[i])
				}
			}
			if len(vals) == 0 {
				cellLevel[cy*nx+cx] = math.NaN()
				continue
			}
			level, noise, err := estimate(vals, method, clipSigma)
			if err != nil {
				return nil, err
			}
			cellLevel[cy*nx+cx] = level
			cellNoise[cy*nx+cx] = noise
		}
	}
	fillEmptyCells(cellLevel, cellNoise, nx, ny)

	bg := &Background{
		Map:      make([]float64, w*h),
		NoiseMap: make([]float64, w*h),
		Width:    w,
		Height:   h,
	}
	half := float64(boxSize) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// position in cell-center coordinates
			gx := emath.Clamp((float64(x)-half)/float64(boxSize), 0, float64(nx-1))
			gy := emath.Clamp((float64(y)-half)/float64(boxSize), 0, float64(ny-1))
			bg.Map[y*w+x] = interpCell(cellLevel, nx, ny, gx, gy)
			bg.NoiseMap[y*w+x] = interpCell(cellNoise, nx, ny, gx, gy)
		}
	}

	bg.Level = emath.Median(cellLevel)
	bg.Noise = emath.Median(cellNoise)
	return bg, nil
}

// Subtract removes the background from the frame in place.
func (b *Background) Subtract(frame *framedata.FrameData) {
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			i := y*frame.Width + x
			frame.Pixels[i] -= b.LevelAt(x, y)
		}
	}
	frame.Header.AddHistory(fmt.Sprintf("background subtracted, level=%.3f noise=%.3f", b.Level, b.Noise))
}

func estimate(vals []float64, method string, clipSigma float64) (level, noise float64, err error) {
	if clipSigma <= 0 {
		clipSigma = 3.0
	}

	// Iterative sigma clip about the median
	for iter := 0; iter < 10 && len(vals) > 2; iter++ {
		med := emath.Median(vals)
		sigma := stat.StdDev(vals, nil)
		if sigma == 0 {
			break
		}
		kept := make([]float64, 0, len(vals))
		for _, v := range vals {
			if math.Abs(v-med) <= clipSigma*sigma {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(vals) {
			break
		}
		vals = kept
	}

	mean := stat.Mean(vals, nil)
	med := emath.Median(vals)
	noise = stat.StdDev(vals, nil)

	switch method {
	case "mean":
		level = mean
	case "median", "":
		level = med
	case "mmm":
		level = 3*med - 2*mean
	default:
		return 0, 0, fmt.Errorf("no background method named %q", method)
	}
	return level, noise, nil
}

// fillEmptyCells replaces NaN cells (fully masked regions) with the
// median of the valid cells.
func fillEmptyCells(level, noise []float64, nx, ny int) {
	valid := []float64{}
	validNoise := []float64{}
	for i, v := range level {
		if !math.IsNaN(v) {
			valid = append(valid, v)
			validNoise = append(validNoise, noise[i])
		}
	}
	if len(valid) == 0 {
		return
	}
	ml, mn := emath.Median(valid), emath.Median(validNoise)
	for i, v := range level {
		if math.IsNaN(v) {
			level[i], noise[i] = ml, mn
		}
	}
}

func interpCell(cells []float64, nx, ny int, gx, gy float64) float64 {
	x0, y0 := int(gx), int(gy)
	if x0 >= nx-1 {
		x0 = nx - 2
	}
	if y0 >= ny-1 {
		y0 = ny - 2
	}
	fx, fy := gx-float64(x0), gy-float64(y0)
	v00 := cells[y0*nx+x0]
	v10 := cells[y0*nx+x0+1]
	v01 := cells[(y0+1)*nx+x0]
	v11 := cells[(y0+1)*nx+x0+1]
	return v00*(1-fx)*(1-fy) + v10*fx*(1-fy) + v01*(1-fx)*fy + v11*fx*fy
}
