package register

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mkendrick/ccdred/pkg/emath"
)

// Asterism matching: triangles of bright stars are compared by their
// side-ratio invariants, which survive translation, rotation and
// scale. Matching triangles vote for star correspondences, and the
// winning pairs feed a least-squares similarity fit.

type AsterismParams struct {
	MaxStars   int     // brightest stars considered per frame; <= 0 takes 20
	Tolerance  float64 // invariant-space match tolerance; <= 0 takes 0.01
	MinMatches int     // minimum star correspondences; <= 0 takes 3
}

type triangle struct {
	idx [3]int     // star indices, ordered by their opposite side length
	inv [2]float64 // (mid/long, short/long)
}

// MatchAsterisms estimates the similarity transform that maps points
// in stars onto refStars. Fails with ErrTooFewSources when fewer than
// MinMatches correspondences are found.
func MatchAsterisms(refStars, stars []Point, p AsterismParams) (emath.Aff3, int, error) {
	maxStars := p.MaxStars
	if maxStars <= 0 {
		maxStars = 20
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = 0.01
	}
	minMatches := p.MinMatches
	if minMatches <= 0 {
		minMatches = 3
	}

	ref := brightest(refStars, maxStars)
	img := brightest(stars, maxStars)
	if len(ref) < 3 || len(img) < 3 {
		return emath.Identity(), 0, fmt.Errorf(
			"asterism: %d reference and %d target stars: %w", len(ref), len(img), ErrTooFewSources)
	}

	refTris := triangles(ref)
	imgTris := triangles(img)

	// Vote for star correspondences across every invariant-compatible
	// triangle pair.
	votes := map[[2]int]int{}
	for _, rt := range refTris {
		for _, it := range imgTris {
			if math.Abs(rt.inv[0]-it.inv[0]) > tol || math.Abs(rt.inv[1]-it.inv[1]) > tol {
				continue
			}
			for k := 0; k < 3; k++ {
				votes[[2]int{rt.idx[k], it.idx[k]}]++
			}
		}
	}

	pairs := winningPairs(votes)
	if len(pairs) < minMatches {
		return emath.Identity(), len(pairs), fmt.Errorf(
			"asterism: %d correspondences, need %d: %w", len(pairs), minMatches, ErrTooFewSources)
	}

	src := make([]Point, len(pairs))
	dst := make([]Point, len(pairs))
	for i, pr := range pairs {
		src[i] = img[pr[1]]
		dst[i] = ref[pr[0]]
	}

	xform, err := FitSimilarity(src, dst)
	if err != nil {
		return emath.Identity(), len(pairs), fmt.Errorf("asterism: %w", err)
	}

	// One refinement pass: drop pairs the fit places badly, refit.
	kept := src[:0]
	keptDst := dst[:0]
	for i := range src {
		x, y := xform.Apply(src[i].X, src[i].Y)
		if math.Hypot(x-dst[i].X, y-dst[i].Y) <= 2.0 {
			kept = append(kept, src[i])
			keptDst = append(keptDst, dst[i])
		}
	}
	if len(kept) >= minMatches && len(kept) < len(pairs) {
		if refit, err := FitSimilarity(kept, keptDst); err == nil {
			xform = refit
			return xform, len(kept), nil
		}
	}

	return xform, len(pairs), nil
}

// AlignByAsterisms matches and resamples in one step.
func AlignByAsterisms(ref *Framed, img *Framed, p AsterismParams) (*Framed, emath.Aff3, error) {
	xform, _, err := MatchAsterisms(ref.Stars, img.Stars, p)
	if err != nil {
		return nil, emath.Identity(), err
	}
	out, err := Resample(img.Frame, xform)
	if err != nil {
		return nil, xform, err
	}
	return &Framed{Frame: out, Stars: applyToPoints(xform, img.Stars)}, xform, nil
}

func applyToPoints(m emath.Aff3, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		x, y := m.Apply(p.X, p.Y)
		out[i] = Point{X: x, Y: y, Flux: p.Flux}
	}
	return out
}

func brightest(stars []Point, n int) []Point {
	sorted := append([]Point(nil), stars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Flux > sorted[j].Flux })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func triangles(stars []Point) []triangle {
	tris := []triangle{}
	for i := 0; i < len(stars); i++ {
		for j := i + 1; j < len(stars); j++ {
			for k := j + 1; k < len(stars); k++ {
				if t, ok := newTriangle(stars, i, j, k); ok {
					tris = append(tris, t)
				}
			}
		}
	}
	return tris
}

func newTriangle(stars []Point, i, j, k int) (triangle, bool) {
	// Side opposite each vertex
	type side struct {
		vertex int
		length float64
	}
	sides := []side{
		{i, dist(stars[j], stars[k])},
		{j, dist(stars[i], stars[k])},
		{k, dist(stars[i], stars[j])},
	}
	sort.Slice(sides, func(a, b int) bool { return sides[a].length < sides[b].length })

	short, mid, long := sides[0].length, sides[1].length, sides[2].length
	if long < 1e-9 || short/long < 0.1 {
		// Degenerate or near-collinear triangle; its invariants are
		// too unstable to vote with.
		return triangle{}, false
	}
	return triangle{
		idx: [3]int{sides[0].vertex, sides[1].vertex, sides[2].vertex},
		inv: [2]float64{mid / long, short / long},
	}, true
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// winningPairs picks the highest-voted correspondence per star,
// requiring at least two supporting triangles and uniqueness on both
// sides.
func winningPairs(votes map[[2]int]int) [][2]int {
	type cand struct {
		pair  [2]int
		count int
	}
	cands := make([]cand, 0, len(votes))
	for pr, n := range votes {
		if n >= 2 {
			cands = append(cands, cand{pr, n})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].count != cands[j].count {
			return cands[i].count > cands[j].count
		}
		return cands[i].pair[0]*1000+cands[i].pair[1] < cands[j].pair[0]*1000+cands[j].pair[1]
	})

	usedRef := map[int]bool{}
	usedImg := map[int]bool{}
	out := [][2]int{}
	for _, c := range cands {
		if usedRef[c.pair[0]] || usedImg[c.pair[1]] {
			continue
		}
		usedRef[c.pair[0]] = true
		usedImg[c.pair[1]] = true
		out = append(out, c.pair)
	}
	return out
}

// FitSimilarity solves for the similarity transform (rotation, scale,
// translation) mapping src points onto dst, by linear least squares:
// x' = a*x - b*y + tx, y' = b*x + a*y + ty.
func FitSimilarity(src, dst []Point) (emath.Aff3, error) {
	if len(src) != len(dst) || len(src) < 2 {
		return emath.Identity(), fmt.Errorf("similarity fit needs >=2 point pairs, got %d", len(src))
	}

	a := mat.NewDense(2*len(src), 4, nil)
	b := mat.NewDense(2*len(src), 1, nil)
	for i := range src {
		a.SetRow(2*i, []float64{src[i].X, -src[i].Y, 1, 0})
		a.SetRow(2*i+1, []float64{src[i].Y, src[i].X, 0, 1})
		b.Set(2*i, 0, dst[i].X)
		b.Set(2*i+1, 0, dst[i].Y)
	}

	var sol mat.Dense
	if err := sol.Solve(a, b); err != nil {
		return emath.Identity(), fmt.Errorf("similarity fit: %w", err)
	}

	pa, pb := sol.At(0, 0), sol.At(1, 0)
	tx, ty := sol.At(2, 0), sol.At(3, 0)
	return emath.Aff3{pa, -pb, tx, pb, pa, ty}, nil
}
