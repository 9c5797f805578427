package pipeline

import (
	"context"
	"fmt"
	"log"
)

// Run performs the whole reduction: masters, then per-filter
// calibrate / register / stack / analyze.
func (p *Pipeline) Run(ctx context.Context) ([]*StackResult, error) {
	if err := p.BuildMasters(); err != nil {
		return nil, err
	}

	filters := p.filters()
	if len(filters) == 0 {
		return nil, fmt.Errorf("pipeline: no light frames found")
	}

	results := []*StackResult{}
	for _, filter := range filters {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		frames, err := p.CalibrateLights(filter)
		if err != nil {
			return results, err
		}
		aligned, err := p.RegisterLights(frames)
		if err != nil {
			return results, err
		}
		stack, err := p.StackLights(aligned, filter)
		if err != nil {
			return results, err
		}
		res, err := p.Analyze(ctx, stack, filter)
		if err != nil {
			return results, err
		}

		// rewrite with the analysis cards (WCS, zero point)
		name := fmt.Sprintf("stack-%s.fits", filter)
		if err := stack.WriteFile(p.outPath(name)); err != nil {
			return results, err
		}
		results = append(results, res)
	}

	log.Printf("pipeline: done, %d stacks in %s", len(results), p.Config.OutDir)
	return results, nil
}
