package photometry

import (
	"math"
	"sort"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// A Source is one detected point source.
type Source struct {
	X, Y float64 // flux-weighted centroid, pixel coordinates
	Flux float64 // background-subtracted flux over the detection footprint
	Peak float64 // background-subtracted peak value
	Npix int     // footprint size

	// Roundness is 1 for a circularly symmetric footprint, smaller
	// for elongated ones (trails, blended pairs).
	Roundness float64
}

type DetectParams struct {
	// K scales the detection threshold: pixels above K*noise over the
	// background are candidates. <= 0 takes 5.
	K float64

	// MinPix is the minimum footprint size; single hot pixels don't
	// qualify. <= 0 takes 3.
	MinPix int

	// MinRoundness rejects elongated detections; 0 disables the cut.
	MinRoundness float64
}

// DetectSources thresholds the background-subtracted frame at K*noise
// and groups connected pixels into sources, returned brightest first.
// Masked pixels never seed or join a detection.
func DetectSources(frame *framedata.FrameData, bg *Background, p DetectParams) []Source {
	k := p.K
	if k <= 0 {
		k = 5
	}
	minPix := p.MinPix
	if minPix <= 0 {
		minPix = 3
	}

	w, h := frame.Width, frame.Height
	above := func(i, x, y int) bool {
		if frame.Mask != nil && frame.Mask[i] {
			return false
		}
		return frame.Pixels[i]-bg.LevelAt(x, y) > k*bg.NoiseAt(x, y)
	}

	visited := make([]bool, w*h)
	sources := []Source{}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if visited[i] || !above(i, x, y) {
				continue
			}

			// Flood-fill the footprint, 8-connected
			stack := []int{i}
			visited[i] = true
			footprint := []int{}
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				footprint = append(footprint, j)

				jx, jy := j%w, j/w
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := jx+dx, jy+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h {
							continue
						}
						nj := ny*w + nx
						if !visited[nj] && above(nj, nx, ny) {
							visited[nj] = true
							stack = append(stack, nj)
						}
					}
				}
			}

			if src, ok := measureFootprint(frame, bg, footprint, minPix, p.MinRoundness); ok {
				sources = append(sources, src)
			}
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Flux > sources[j].Flux })
	return sources
}

func measureFootprint(frame *framedata.FrameData, bg *Background, footprint []int, minPix int, minRound float64) (Source, bool) {
	if len(footprint) < minPix {
		return Source{}, false
	}
	w := frame.Width

	var flux, cx, cy, peak float64
	for _, i := range footprint {
		x, y := i%w, i/w
		v := frame.Pixels[i] - bg.LevelAt(x, y)
		if v <= 0 {
			continue
		}
		flux += v
		cx += v * float64(x)
		cy += v * float64(y)
		if v > peak {
			peak = v
		}
	}
	if flux <= 0 {
		return Source{}, false
	}
	cx /= flux
	cy /= flux

	// Second moments give a cheap roundness measure
	var mxx, myy, mxy float64
	for _, i := range footprint {
		x, y := i%w, i/w
		v := frame.Pixels[i] - bg.LevelAt(x, y)
		if v <= 0 {
			continue
		}
		dx, dy := float64(x)-cx, float64(y)-cy
		mxx += v * dx * dx
		myy += v * dy * dy
		mxy += v * dx * dy
	}
	mxx /= flux
	myy /= flux
	mxy /= flux

	round := 1.0
	if len(footprint) > 1 {
		// ratio of minor to major axis of the moment ellipse
		tr := mxx + myy
		det := mxx*myy - mxy*mxy
		disc := tr*tr - 4*det
		if disc < 0 {
			disc = 0
		}
		major := (tr + math.Sqrt(disc)) / 2
		minor := (tr - math.Sqrt(disc)) / 2
		if major > 0 {
			round = minor / major
		}
	}
	if minRound > 0 && round < minRound {
		return Source{}, false
	}

	return Source{X: cx, Y: cy, Flux: flux, Peak: peak, Npix: len(footprint), Roundness: round}, true
}
