package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/mkendrick/ccdred/pkg/astrometry"
	"github.com/mkendrick/ccdred/pkg/catalog"
	"github.com/mkendrick/ccdred/pkg/framedata"
	"github.com/mkendrick/ccdred/pkg/photometry"
	"github.com/mkendrick/ccdred/pkg/preview"
)

// StackResult is what one filter's reduction produced.
type StackResult struct {
	Filter    string
	Stack     *framedata.FrameData
	Sources   []photometry.Source
	Phot      []photometry.ApertureResult
	WCS       *astrometry.WCS
	ZeroPoint *catalog.ZeroPoint
}

// Analyze runs source detection, aperture photometry, and (when
// configured) plate solving and photometric calibration on a stacked
// frame.
func (p *Pipeline) Analyze(ctx context.Context, stack *framedata.FrameData, filter string) (*StackResult, error) {
	res := &StackResult{Filter: filter, Stack: stack}
	cfg := p.Config.Photometry

	bg, err := photometry.GridBackground(stack, 64, cfg.SkyMethod, 3)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filter, err)
	}
	res.Sources = photometry.DetectSources(stack, bg, photometry.DetectParams{
		K:      cfg.DetectSigma,
		MinPix: cfg.MinPix,
	})
	log.Printf("analyze: %s: %d sources above %gx noise", filter, len(res.Sources), cfg.DetectSigma)
	if len(res.Sources) == 0 {
		return res, nil
	}

	res.Phot, err = photometry.Measure(stack, res.Sources, photometry.ApertureParams{
		R:         cfg.Aperture,
		RIn:       cfg.AnnulusIn,
		ROut:      cfg.AnnulusOut,
		SkyMethod: cfg.SkyMethod,
		Gain:      1.0, // already in electrons after gain correction
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filter, err)
	}

	if p.Config.Astrometry.Solve {
		wcs, err := p.solve(ctx, stack)
		if errors.Is(err, astrometry.ErrNoWCS) {
			log.Printf("analyze: %s: no astrometric solution, skipping calibration", filter)
		} else if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", filter, err)
		} else {
			res.WCS = wcs
		}
	} else if wcs, err := astrometry.FromHeader(stack.Header); err == nil {
		res.WCS = wcs
	}

	if res.WCS != nil && p.Config.Catalog.URL != "" {
		zp, err := p.calibratePhotometry(ctx, res)
		if err != nil {
			log.Printf("analyze: %s: photometric calibration failed: %v", filter, err)
		} else {
			res.ZeroPoint = zp
		}
	}

	name := fmt.Sprintf("sources-%s.csv", filter)
	if err := writeSourceTable(p.outPath(name), res); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filter, err)
	}

	if p.Config.Preview.Enabled {
		name := fmt.Sprintf("stack-%s.png", filter)
		err := preview.SavePNG(stack, res.Sources, fmt.Sprintf("%s stack", filter),
			p.outPath(name), preview.Options{
				FalseColor:   p.Config.Preview.FalseColor,
				MaxDim:       p.Config.Preview.MaxDim,
				LogHistogram: true,
			})
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

// writeSourceTable dumps the measured sources as CSV, with sky
// coordinates when a WCS is available.
func writeSourceTable(path string, res *StackResult) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	if err := w.Write([]string{"x", "y", "ra", "dec", "flux", "flux_err", "mag", "mag_err", "sky", "flags"}); err != nil {
		return err
	}
	for i, s := range res.Sources {
		m := res.Phot[i]
		ra, dec := math.NaN(), math.NaN()
		if res.WCS != nil {
			ra, dec = res.WCS.PixelToWorld(s.X, s.Y)
		}
		rec := []string{
			fmt.Sprintf("%.3f", s.X),
			fmt.Sprintf("%.3f", s.Y),
			fmt.Sprintf("%.6f", ra),
			fmt.Sprintf("%.6f", dec),
			fmt.Sprintf("%.4g", m.Flux),
			fmt.Sprintf("%.4g", m.FluxErr),
			fmt.Sprintf("%.4f", photometry.InstrumentalMag(m.Flux)),
			fmt.Sprintf("%.4f", photometry.MagError(m.Flux, m.FluxErr)),
			fmt.Sprintf("%.4g", m.Sky),
			fmt.Sprintf("%d", m.Flags),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (p *Pipeline) solve(ctx context.Context, stack *framedata.FrameData) (*astrometry.WCS, error) {
	a := p.Config.Astrometry
	return astrometry.SolveFrame(ctx, stack, astrometry.SolveOptions{
		Command:    a.Command,
		ScaleLow:   a.ScaleLow,
		ScaleHigh:  a.ScaleHigh,
		Downsample: a.Downsample,
	})
}

// calibratePhotometry cross-matches the measured sources against the
// configured catalog and fits a photometric zero point.
func (p *Pipeline) calibratePhotometry(ctx context.Context, res *StackResult) (*catalog.ZeroPoint, error) {
	// field centre and radius from the WCS
	w, h := float64(res.Stack.Width), float64(res.Stack.Height)
	ra0, dec0 := res.WCS.PixelToWorld(w/2, h/2)
	radius := res.WCS.PixelScale() * math.Hypot(w, h) / 2 / 3600.0

	client := catalog.NewClient(p.Config.Catalog.URL, p.Config.Catalog.Name)
	if p.Config.Catalog.CacheFile != "" {
		cache, err := catalog.OpenQueryCache(p.outPath(p.Config.Catalog.CacheFile))
		if err != nil {
			return nil, err
		}
		defer cache.Close()
		client.Cache = cache
	}
	refs, err := client.ConeSearch(ctx, ra0, dec0, radius)
	if err != nil {
		return nil, err
	}
	log.Printf("catalog: %d reference stars within %.3f deg", len(refs), radius)

	queryRA := make([]float64, len(res.Sources))
	queryDec := make([]float64, len(res.Sources))
	for i, s := range res.Sources {
		queryRA[i], queryDec[i] = res.WCS.PixelToWorld(s.X, s.Y)
	}
	matches := catalog.Match(queryRA, queryDec, refs, p.Config.Catalog.MatchRadius)

	instMag, catMag, catErr := []float64{}, []float64{}, []float64{}
	for i, m := range matches {
		if m < 0 || res.Phot[i].Flags != 0 {
			continue
		}
		instMag = append(instMag, photometry.InstrumentalMag(res.Phot[i].Flux))
		catMag = append(catMag, refs[m].Mag)
		catErr = append(catErr, refs[m].MagErr)
	}
	if len(instMag) < 3 {
		return nil, fmt.Errorf("only %d clean catalog matches", len(instMag))
	}

	zp, err := catalog.FitZeroPoint(instMag, catMag, catErr)
	if err != nil {
		return nil, err
	}
	log.Printf("catalog: zero point %.3f ± %.3f from %d stars", zp.Value, zp.Stddev, zp.NStars)

	name := fmt.Sprintf("zeropoint-%s.png", res.Filter)
	if err := catalog.PlotZeroPoint(instMag, catMag, zp, p.outPath(name)); err != nil {
		return nil, err
	}

	res.Stack.Header.Set("MAGZP", zp.Value, "photometric zero point")
	res.Stack.Header.Set("MAGZPERR", zp.Stddev, "zero point scatter")
	return &zp, nil
}
