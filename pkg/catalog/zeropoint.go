package catalog

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ZeroPoint is the photometric calibration of one frame: catalog
// magnitude = instrumental magnitude + ZP.
type ZeroPoint struct {
	Value  float64
	Stddev float64
	NStars int
}

// FitZeroPoint fits a zero point from matched instrumental/catalog
// magnitude pairs, with iterative 3-sigma rejection of outliers
// (variables, blends, bad matches). Weights are inverse-variance from
// the catalog magnitude errors where available.
func FitZeroPoint(instMag, catMag, catMagErr []float64) (ZeroPoint, error) {
	if len(instMag) != len(catMag) {
		return ZeroPoint{}, fmt.Errorf("zeropoint: %d instrumental vs %d catalog mags", len(instMag), len(catMag))
	}

	diffs := []float64{}
	weights := []float64{}
	for i := range instMag {
		if math.IsNaN(instMag[i]) || math.IsNaN(catMag[i]) {
			continue
		}
		diffs = append(diffs, catMag[i]-instMag[i])
		w := 1.0
		if i < len(catMagErr) && catMagErr[i] > 0 {
			w = 1.0 / (catMagErr[i] * catMagErr[i])
		}
		weights = append(weights, w)
	}
	if len(diffs) == 0 {
		return ZeroPoint{}, fmt.Errorf("zeropoint: no usable magnitude pairs")
	}

	for iter := 0; iter < 5; iter++ {
		mean, std := stat.MeanStdDev(diffs, weights)
		if std == 0 || math.IsNaN(std) {
			break
		}
		kept := diffs[:0]
		keptW := weights[:0]
		for i, d := range diffs {
			if math.Abs(d-mean) <= 3*std {
				kept = append(kept, d)
				keptW = append(keptW, weights[i])
			}
		}
		if len(kept) == len(diffs) || len(kept) < 2 {
			break
		}
		diffs, weights = kept, keptW
	}

	mean, std := stat.MeanStdDev(diffs, weights)
	if math.IsNaN(std) {
		std = 0
	}
	return ZeroPoint{Value: mean, Stddev: std, NStars: len(diffs)}, nil
}

// PlotZeroPoint writes a diagnostic scatter of (catalog mag, cat-inst)
// with the fitted zero point overlaid.
func PlotZeroPoint(instMag, catMag []float64, zp ZeroPoint, filename string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("zero point %.3f ± %.3f (%d stars)", zp.Value, zp.Stddev, zp.NStars)
	p.X.Label.Text = "catalog magnitude"
	p.Y.Label.Text = "catalog - instrumental"

	pts := plotter.XYs{}
	for i := range instMag {
		if math.IsNaN(instMag[i]) || math.IsNaN(catMag[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: catMag[i], Y: catMag[i] - instMag[i]})
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("zeropoint: %w", err)
	}
	scatter.Radius = vg.Points(2)
	p.Add(scatter)

	fit := plotter.NewFunction(func(x float64) float64 { return zp.Value })
	p.Add(fit)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("zeropoint: saving %s: %w", filename, err)
	}
	return nil
}
