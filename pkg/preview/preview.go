// Package preview renders reduced frames into quicklook PNGs: a
// percentile-stretched grayscale or false-color image, optionally
// annotated with detected source positions.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"math"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/skypies/util/histogram"
	"golang.org/x/image/draw"

	"github.com/mkendrick/ccdred/pkg/emath"
	"github.com/mkendrick/ccdred/pkg/framedata"
	"github.com/mkendrick/ccdred/pkg/photometry"
)

type Options struct {
	// Percentile bounds for the display stretch, as fractions.
	// Defaults 0.005 and 0.998 keep hot pixels from crushing the
	// stretch.
	MinPercentile float64
	MaxPercentile float64

	Gamma      float64 // display gamma, default 2.2
	FalseColor bool    // viridis-ish ramp instead of grayscale
	MaxDim     int     // downscale so the longest side fits, 0 = no limit

	LogHistogram bool // log the stretched-value distribution
}

func (o *Options) setDefaults() {
	if o.MinPercentile <= 0 {
		o.MinPercentile = 0.005
	}
	if o.MaxPercentile <= 0 {
		o.MaxPercentile = 0.998
	}
	if o.Gamma <= 0 {
		o.Gamma = 2.2
	}
}

// Render stretches a frame into a displayable image. Masked pixels
// come out black.
func Render(f *framedata.FrameData, opt Options) image.Image {
	opt.setDefaults()

	vals := f.UnmaskedValues()
	lo, hi := 0.0, 1.0
	if len(vals) > 0 {
		p := emath.Percentiles(vals, opt.MinPercentile, opt.MaxPercentile)
		lo, hi = p[0], p[1]
	}
	if hi <= lo {
		hi = lo + 1
	}

	hist := histogram.Histogram{NumBuckets: 256, ValMin: 0, ValMax: 256}

	img := image.NewRGBA64(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			if f.Masked(x, y) {
				img.Set(x, y, color.RGBA64{A: 0xFFFF})
				continue
			}
			v := emath.Clamp((f.At(x, y)-lo)/(hi-lo), 0, 1)
			v = math.Pow(v, 1.0/opt.Gamma)
			hist.Add(histogram.ScalarVal(int(v * 255.0)))

			var col color.Color
			if opt.FalseColor {
				col = rampColor(v)
			} else {
				g := uint16(v * 65535.0)
				col = color.RGBA64{g, g, g, 0xFFFF}
			}
			img.Set(x, y, col)
		}
	}

	if opt.LogHistogram {
		log.Printf("preview: stretch [%.1f,%.1f], %s", lo, hi, hist)
	}

	if opt.MaxDim > 0 && (f.Width > opt.MaxDim || f.Height > opt.MaxDim) {
		img2 := downscale(img, opt.MaxDim)
		return img2
	}
	return img
}

// rampColor maps [0,1] onto a dark-blue to yellow ramp via HSV.
func rampColor(v float64) color.Color {
	// hue runs 250 (blue) down to 60 (yellow)
	h := 250.0 - 190.0*v
	s := 0.9 - 0.5*v
	val := 0.15 + 0.85*v
	return colorful.Hsv(h, s, val)
}

func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// SavePNG renders a frame and writes it out, with an optional title
// and detected sources circled.
func SavePNG(f *framedata.FrameData, sources []photometry.Source, title, filename string, opt Options) error {
	img := Render(f, opt)
	b := img.Bounds()
	scaleX := float64(b.Dx()) / float64(f.Width)
	scaleY := float64(b.Dy()) / float64(f.Height)

	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(1.0)
	for _, s := range sources {
		dc.DrawCircle(s.X*scaleX, s.Y*scaleY, 8)
		dc.Stroke()
	}
	if title != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawString(title, 20, 30)
	}
	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("preview: saving %s: %w", filename, err)
	}
	return nil
}
