package pipeline

import (
	"fmt"
	"log"

	"github.com/mkendrick/ccdred/pkg/ccdproc"
	"github.com/mkendrick/ccdred/pkg/filegroup"
	"github.com/mkendrick/ccdred/pkg/framedata"
	"github.com/mkendrick/ccdred/pkg/imcombine"
)

// BuildMasters combines the calibration frames into master bias, dark
// and per-filter flats, and writes them to the output dir. Missing
// calibration types are logged and skipped, the reduction degrades
// gracefully.
func (p *Pipeline) BuildMasters() error {
	combineOpt := imcombine.Options{Method: p.Config.Calibration.CombineMethod}

	if biases := p.typed(ObsBias); biases.Len() > 0 {
		master, err := p.combineGroup(biases, combineOpt, p.gainCorrect)
		if err != nil {
			return fmt.Errorf("master bias: %w", err)
		}
		imcombine.MarkMaster(master, ObsBias)
		p.Bias = master
		if err := master.WriteFile(p.outPath("master-bias.fits")); err != nil {
			return err
		}
		log.Printf("masters: bias from %d frames", biases.Len())
	} else {
		log.Printf("masters: no bias frames, skipping bias correction")
	}

	if darks := p.typed(ObsDark); darks.Len() > 0 {
		master, err := p.combineGroup(darks, combineOpt, p.debias)
		if err != nil {
			return fmt.Errorf("master dark: %w", err)
		}
		imcombine.MarkMaster(master, ObsDark)
		p.Dark = master
		if err := master.WriteFile(p.outPath("master-dark.fits")); err != nil {
			return err
		}
		log.Printf("masters: dark from %d frames", darks.Len())
	} else {
		log.Printf("masters: no dark frames, skipping dark correction")
	}

	for _, filter := range p.filters() {
		flats := p.Group.FilteredSkipMissing(map[string]interface{}{
			p.Config.TypeKey:   ObsFlat,
			p.Config.FilterKey: filter,
		})
		if flats.Len() == 0 {
			log.Printf("masters: no flats for filter %s", filter)
			continue
		}
		master, err := p.combineGroup(flats, combineOpt, p.debiasAndDark)
		if err != nil {
			return fmt.Errorf("master flat %s: %w", filter, err)
		}
		imcombine.MarkMaster(master, ObsFlat)
		p.Flats[filter] = master
		name := fmt.Sprintf("master-flat-%s.fits", filter)
		if err := master.WriteFile(p.outPath(name)); err != nil {
			return err
		}
		log.Printf("masters: flat %s from %d frames", filter, flats.Len())
	}

	return nil
}

// combineGroup loads a group, optionally pre-processes each frame,
// and combines the lot.
func (p *Pipeline) combineGroup(g *filegroup.Group, opt imcombine.Options, prep func(*framedata.FrameData) error) (*framedata.FrameData, error) {
	frames := []*framedata.FrameData{}
	err := g.Frames(func(path string, f *framedata.FrameData) error {
		if prep != nil {
			if err := prep(f); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imcombine.Combine(frames, opt)
}

// gainCorrect puts a raw frame into electrons, so every master lives
// in the same unit as the calibrated lights.
func (p *Pipeline) gainCorrect(f *framedata.FrameData) error {
	_, err := ccdproc.GainCorrect(f, p.Config.Calibration.Gain, ccdproc.Options{InPlace: true})
	return err
}

func (p *Pipeline) debias(f *framedata.FrameData) error {
	if err := p.gainCorrect(f); err != nil {
		return err
	}
	if p.Bias == nil {
		return nil
	}
	_, err := ccdproc.SubtractBias(f, p.Bias, ccdproc.Options{InPlace: true})
	return err
}

func (p *Pipeline) debiasAndDark(f *framedata.FrameData) error {
	if err := p.debias(f); err != nil {
		return err
	}
	if p.Dark == nil {
		return nil
	}
	_, err := ccdproc.SubtractDark(f, p.Dark, p.Config.Calibration.ScaleDark, ccdproc.Options{InPlace: true})
	return err
}
