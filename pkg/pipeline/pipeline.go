// Package pipeline strings the reduction stages together: master
// calibration frames, light calibration, registration, stacking, and
// the photometric/astrometric analysis of the stack.
package pipeline

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mkendrick/ccdred/pkg/filegroup"
	"github.com/mkendrick/ccdred/pkg/framedata"
)

// Observation type values expected in the type keyword.
const (
	ObsBias  = "BIAS"
	ObsDark  = "DARK"
	ObsFlat  = "FLAT"
	ObsLight = "LIGHT"
)

type Pipeline struct {
	Config Configuration
	Group  *filegroup.Group

	// Masters built (or loaded) for this run
	Bias  *framedata.FrameData
	Dark  *framedata.FrameData
	Flats map[string]*framedata.FrameData // by filter

	// Scratch dir for parked frames; calibrated lights are spilled
	// here so only a handful are resident at a time.
	cache *framedata.Cache
}

func New(c Configuration) (*Pipeline, error) {
	if c.DataDir == "" {
		return nil, fmt.Errorf("pipeline: no data directory configured")
	}
	group, err := filegroup.New(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: scanning %s: %w", c.DataDir, err)
	}

	kept := []string{}
	for _, path := range group.Paths() {
		if c.Excluded(filepath.Base(path)) {
			continue
		}
		kept = append(kept, path)
	}
	group, err = filegroup.FromPaths(kept)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if group.Len() == 0 {
		return nil, fmt.Errorf("pipeline: no FITS files under %s", c.DataDir)
	}

	log.Printf("pipeline: %d frames; %s", group.Len(), group.Summary(c.TypeKey, c.FilterKey))

	if err := os.MkdirAll(c.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	cache, err := framedata.NewCache("")
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		Config: c,
		Group:  group,
		Flats:  map[string]*framedata.FrameData{},
		cache:  cache,
	}, nil
}

// Close removes the scratch dir and its parked frames.
func (p *Pipeline) Close() error {
	return p.cache.Cleanup()
}

// typed returns the subgroup with the given observation type.
func (p *Pipeline) typed(obstype string) *filegroup.Group {
	return p.Group.FilteredSkipMissing(map[string]interface{}{
		p.Config.TypeKey: obstype,
	})
}

// filters returns the distinct filter names among the light frames.
func (p *Pipeline) filters() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range p.typed(ObsLight).Values(p.Config.FilterKey) {
		name := fmt.Sprintf("%v", v)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (p *Pipeline) outPath(name string) string {
	return filepath.Join(p.Config.OutDir, name)
}
