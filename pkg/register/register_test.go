package register

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkendrick/ccdred/pkg/emath"
	"github.com/mkendrick/ccdred/pkg/framedata"
)

func starField(w, h int, stars []Point, noise float64, seed int64) *framedata.FrameData {
	rng := rand.New(rand.NewSource(seed))
	f := framedata.New(w, h)
	for i := range f.Pixels {
		f.Pixels[i] = 100 + noise*rng.NormFloat64()
	}
	for _, s := range stars {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx, dy := float64(x)-s.X, float64(y)-s.Y
				f.Pixels[y*w+x] += s.Flux * math.Exp(-(dx*dx+dy*dy)/(2*1.5*1.5))
			}
		}
	}
	return f
}

func TestResampleTranslation(t *testing.T) {
	f := framedata.New(10, 10)
	f.Set(7, 6, 100)

	// frame displaced by (2,1): alignment samples input at (x+2,y+1)
	out, err := Resample(f, TranslationTransform(2, 1))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out.At(5, 5), 1e-9)
	assert.InDelta(t, 0.0, out.At(7, 6), 1e-9)
}

func TestResampleMasksOffFrame(t *testing.T) {
	f := framedata.New(8, 8)
	for i := range f.Pixels {
		f.Pixels[i] = 50
	}
	out, err := Resample(f, TranslationTransform(3, 0))
	require.NoError(t, err)
	// the rightmost columns sample outside the input
	assert.True(t, out.Masked(6, 4))
	assert.False(t, out.Masked(2, 4))
}

func TestResampleMaskPropagation(t *testing.T) {
	f := framedata.New(8, 8)
	for i := range f.Pixels {
		f.Pixels[i] = 50
	}
	f.SetMask(4, 4, true)

	out, err := Resample(f, TranslationTransform(1, 0))
	require.NoError(t, err)
	// out(3,4) interpolates from the masked (4,4)
	assert.True(t, out.Masked(3, 4))
}

func TestCrossCorrelateZeroShift(t *testing.T) {
	stars := []Point{{X: 20, Y: 20, Flux: 5000}, {X: 45, Y: 30, Flux: 3000}}
	f := starField(64, 64, stars, 2, 3)

	dx, dy, err := CrossCorrelate(f, f, CrossCorrParams{})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, dx, 0.1)
	assert.InDelta(t, 0.0, dy, 0.1)
}

func TestCrossCorrelateKnownShift(t *testing.T) {
	stars := []Point{
		{X: 20, Y: 20, Flux: 5000},
		{X: 45, Y: 30, Flux: 3000},
		{X: 30, Y: 50, Flux: 4000},
	}
	shifted := make([]Point, len(stars))
	for i, s := range stars {
		shifted[i] = Point{X: s.X + 3, Y: s.Y + 2, Flux: s.Flux}
	}
	ref := starField(64, 64, stars, 2, 11)
	img := starField(64, 64, shifted, 2, 12)

	dx, dy, err := CrossCorrelate(ref, img, CrossCorrParams{})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, dx, 0.3)
	assert.InDelta(t, 2.0, dy, 0.3)
}

func TestCrossCorrelateShapeMismatch(t *testing.T) {
	a := framedata.New(16, 16)
	b := framedata.New(16, 8)
	_, _, err := CrossCorrelate(a, b, CrossCorrParams{})
	assert.ErrorIs(t, err, framedata.ErrShapeMismatch)
}

func TestCrossCorrelateAmbiguous(t *testing.T) {
	// a double exposure correlates equally well at two displacements
	stars := []Point{{X: 25, Y: 25, Flux: 5000}}
	ref := starField(64, 64, stars, 1, 21)
	img := starField(64, 64, []Point{
		{X: 25, Y: 25, Flux: 5000},
		{X: 33, Y: 25, Flux: 5000},
	}, 1, 22)

	_, _, err := CrossCorrelate(ref, img, CrossCorrParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousPeak)
}

func TestAlignByCrossCorrelation(t *testing.T) {
	stars := []Point{
		{X: 20, Y: 20, Flux: 5000},
		{X: 45, Y: 30, Flux: 3000},
	}
	shifted := make([]Point, len(stars))
	for i, s := range stars {
		shifted[i] = Point{X: s.X + 4, Y: s.Y - 3, Flux: s.Flux}
	}
	ref := starField(64, 64, stars, 1, 31)
	img := starField(64, 64, shifted, 1, 32)

	out, xform, err := AlignByCrossCorrelation(ref, img, CrossCorrParams{})
	require.NoError(t, err)
	assert.InDelta(t, -4.0, xform[2], 0.3)
	assert.InDelta(t, 3.0, xform[5], 0.3)

	// the star lands back on the reference position
	assert.Greater(t, out.At(20, 20), 3000.0)
}

func randomStars(n int, seed int64) []Point {
	rng := rand.New(rand.NewSource(seed))
	stars := make([]Point, n)
	for i := range stars {
		stars[i] = Point{
			X:    10 + 80*rng.Float64(),
			Y:    10 + 80*rng.Float64(),
			Flux: 1000 + 9000*rng.Float64(),
		}
	}
	return stars
}

func TestMatchAsterisms(t *testing.T) {
	stars := randomStars(15, 99)
	want := emath.Similarity(5.5, -3.25, 10, 1.0)
	refStars := make([]Point, len(stars))
	for i, s := range stars {
		x, y := want.Apply(s.X, s.Y)
		refStars[i] = Point{X: x, Y: y, Flux: s.Flux}
	}

	got, n, err := MatchAsterisms(refStars, stars, AsterismParams{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)

	for _, s := range stars {
		wx, wy := want.Apply(s.X, s.Y)
		gx, gy := got.Apply(s.X, s.Y)
		assert.InDelta(t, wx, gx, 0.05)
		assert.InDelta(t, wy, gy, 0.05)
	}
	assert.InDelta(t, 10.0, got.RotationDeg(), 0.05)
	assert.InDelta(t, 1.0, got.ScaleFactor(), 0.001)
}

func TestMatchAsterismsTooFew(t *testing.T) {
	_, _, err := MatchAsterisms(randomStars(2, 1), randomStars(2, 2), AsterismParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooFewSources)
}

func TestFitSimilarity(t *testing.T) {
	want := emath.Similarity(12, -7, 25, 1.1)
	src := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}, {X: 7, Y: 3}}
	dst := make([]Point, len(src))
	for i, s := range src {
		x, y := want.Apply(s.X, s.Y)
		dst[i] = Point{X: x, Y: y}
	}

	got, err := FitSimilarity(src, dst)
	require.NoError(t, err)
	for i := range src {
		x, y := got.Apply(src[i].X, src[i].Y)
		assert.InDelta(t, dst[i].X, x, 1e-9)
		assert.InDelta(t, dst[i].Y, y, 1e-9)
	}

	_, err = FitSimilarity(src[:1], dst[:1])
	require.Error(t, err)
}
