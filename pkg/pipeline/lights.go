package pipeline

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/mkendrick/ccdred/pkg/ccdproc"
	"github.com/mkendrick/ccdred/pkg/framedata"
	"github.com/mkendrick/ccdred/pkg/imcombine"
	"github.com/mkendrick/ccdred/pkg/photometry"
	"github.com/mkendrick/ccdred/pkg/register"
)

type calibJob struct {
	// Inputs for the job
	Path   string
	Index  int
	Filter string

	// Outputs
	Frame *framedata.FrameData
	Err   error
}

// CalibrateLights calibrates every light frame for one filter, using a
// pool of goroutines. Each worker loads its frame, gain-corrects and
// calibrates it, and parks the planes to the scratch dir, so only a
// pool's worth of frames is resident however large the night is.
// Frames come back in path order, parked.
func (p *Pipeline) CalibrateLights(filter string) ([]*framedata.FrameData, error) {
	lights := p.Group.FilteredSkipMissing(map[string]interface{}{
		p.Config.TypeKey:   ObsLight,
		p.Config.FilterKey: filter,
	})
	if lights.Len() == 0 {
		return nil, fmt.Errorf("no light frames for filter %s", filter)
	}
	paths := lights.Paths()

	// Put the configured reference frame first so registration and
	// stacking use it as the fixed frame.
	if ref := p.Config.Registration.Reference; ref != "" {
		for i, path := range paths {
			if filepath.Base(path) == ref && i != 0 {
				paths[0], paths[i] = paths[i], paths[0]
				break
			}
		}
	}

	var wg sync.WaitGroup
	jobsChan := make(chan *calibJob, len(paths))
	nWorkers := 4
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.Frame, job.Err = p.calibrateOne(job)
			}
		}()
	}

	jobs := make([]*calibJob, len(paths))
	for i := range paths {
		jobs[i] = &calibJob{Path: paths[i], Index: i, Filter: filter}
		jobsChan <- jobs[i]
	}
	close(jobsChan)
	wg.Wait()

	frames := make([]*framedata.FrameData, len(jobs))
	for i, job := range jobs {
		if job.Err != nil {
			return nil, fmt.Errorf("calibrating %s: %w", filepath.Base(job.Path), job.Err)
		}
		frames[i] = job.Frame
	}
	log.Printf("lights: calibrated %d %s frames", len(frames), filter)
	return frames, nil
}

func (p *Pipeline) calibrateOne(job *calibJob) (*framedata.FrameData, error) {
	f, err := framedata.ReadFile(job.Path)
	if err != nil {
		return nil, err
	}
	opt := ccdproc.Options{InPlace: true}

	if _, err := ccdproc.GainCorrect(f, p.Config.Calibration.Gain, opt); err != nil {
		return nil, err
	}
	if p.Bias != nil {
		if _, err := ccdproc.SubtractBias(f, p.Bias, opt); err != nil {
			return nil, err
		}
	}
	if p.Dark != nil {
		if _, err := ccdproc.SubtractDark(f, p.Dark, p.Config.Calibration.ScaleDark, opt); err != nil {
			return nil, err
		}
	}
	if flat, ok := p.Flats[job.Filter]; ok {
		if _, err := ccdproc.FlatCorrect(f, flat, opt); err != nil {
			return nil, err
		}
	}
	if p.Config.Calibration.CosmicRays {
		_, n, err := ccdproc.CosmicRays(f, ccdproc.DefaultCosmicParams(), opt)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			log.Printf("lights: masked %d cosmic ray pixels", n)
		}
	}
	name := fmt.Sprintf("calib-%s-%03d.bin", job.Filter, job.Index)
	if err := f.Park(p.cache, name); err != nil {
		return nil, err
	}
	return f, nil
}

// unpark restores a frame's planes when they were spilled; frames
// handed in already resident pass through.
func unpark(f *framedata.FrameData) error {
	if f.Parked() {
		return f.Unpark()
	}
	return nil
}

// RegisterLights aligns every frame onto the first (or the configured
// reference). The crosscorr method phase-correlates whole frames; the
// asterism method matches detected star patterns and handles rotation.
// Parked frames are restored one at a time and the aligned result is
// parked again, so the reference and one working frame are resident.
func (p *Pipeline) RegisterLights(frames []*framedata.FrameData) ([]*framedata.FrameData, error) {
	if len(frames) < 2 || p.Config.Registration.Method == "none" {
		return frames, nil
	}

	ref := frames[0]
	if err := unpark(ref); err != nil {
		return nil, err
	}
	aligned := []*framedata.FrameData{ref}

	var refStars []register.Point
	if p.Config.Registration.Method == "asterism" {
		var err error
		if refStars, err = p.detectForRegistration(ref); err != nil {
			return nil, err
		}
	}

	for i, f := range frames[1:] {
		if err := unpark(f); err != nil {
			return nil, err
		}

		var out *framedata.FrameData
		switch p.Config.Registration.Method {
		case "asterism":
			stars, err := p.detectForRegistration(f)
			if err != nil {
				return nil, err
			}
			outf, xform, err := register.AlignByAsterisms(
				&register.Framed{Frame: ref, Stars: refStars},
				&register.Framed{Frame: f, Stars: stars},
				register.AsterismParams{})
			if err != nil {
				return nil, fmt.Errorf("aligning frame %d: %w", i+1, err)
			}
			log.Printf("register: frame %d xform %s", i+1, xform)
			out = outf.Frame

		default:
			outf, xform, err := register.AlignByCrossCorrelation(ref, f, register.CrossCorrParams{})
			if err != nil {
				return nil, fmt.Errorf("aligning frame %d: %w", i+1, err)
			}
			log.Printf("register: frame %d xform %s", i+1, xform)
			out = outf
		}

		if err := out.Park(p.cache, fmt.Sprintf("aligned-%03d.bin", i+1)); err != nil {
			return nil, err
		}
		aligned = append(aligned, out)
	}
	return aligned, nil
}

func (p *Pipeline) detectForRegistration(f *framedata.FrameData) ([]register.Point, error) {
	bg, err := photometry.GridBackground(f, 64, p.Config.Photometry.SkyMethod, 3)
	if err != nil {
		return nil, err
	}
	sources := photometry.DetectSources(f, bg, photometry.DetectParams{
		K:      p.Config.Photometry.DetectSigma,
		MinPix: p.Config.Photometry.MinPix,
	})
	pts := make([]register.Point, len(sources))
	for i, s := range sources {
		pts[i] = register.Point{X: s.X, Y: s.Y, Flux: s.Flux}
	}
	return pts, nil
}

// StackLights combines the aligned frames into the science stack.
// Combination reduces pixel-wise across the whole stack, so this is
// where every frame has to be resident at once.
func (p *Pipeline) StackLights(frames []*framedata.FrameData, filter string) (*framedata.FrameData, error) {
	for _, f := range frames {
		if err := unpark(f); err != nil {
			return nil, err
		}
	}
	stack, err := imcombine.Combine(frames, imcombine.Options{
		Method:    p.Config.Calibration.CombineMethod,
		SigmaClip: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("stacking %s: %w", filter, err)
	}
	stack.Header.Set(p.Config.FilterKey, filter, "")
	name := fmt.Sprintf("stack-%s.fits", filter)
	if err := stack.WriteFile(p.outPath(name)); err != nil {
		return nil, err
	}
	log.Printf("stack: %s from %d frames -> %s", filter, len(frames), name)
	return stack, nil
}
