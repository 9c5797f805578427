package photometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

func skyFrame(w, h int, level, noise float64, seed int64) *framedata.FrameData {
	rng := rand.New(rand.NewSource(seed))
	f := framedata.New(w, h)
	for i := range f.Pixels {
		f.Pixels[i] = level + noise*rng.NormFloat64()
	}
	return f
}

func addStar(f *framedata.FrameData, cx, cy, peak, sigma float64) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			f.Pixels[y*f.Width+x] += peak * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
}

func TestGlobalBackground(t *testing.T) {
	f := skyFrame(60, 60, 500, 10, 5)

	for _, method := range []string{"mean", "median", "mmm"} {
		t.Run(method, func(t *testing.T) {
			bg, err := GlobalBackground(f, method, 3)
			require.NoError(t, err)
			assert.InDelta(t, 500.0, bg.Level, 3.0)
			assert.InDelta(t, 10.0, bg.Noise, 2.0)
		})
	}

	t.Run("bad method", func(t *testing.T) {
		_, err := GlobalBackground(f, "mode", 3)
		require.Error(t, err)
	})

	t.Run("fully masked", func(t *testing.T) {
		m := skyFrame(8, 8, 500, 1, 1)
		for i := range m.Mask {
			m.Mask[i] = true
		}
		_, err := GlobalBackground(m, "median", 3)
		require.Error(t, err)
	})
}

func TestGlobalBackgroundIgnoresStars(t *testing.T) {
	f := skyFrame(60, 60, 500, 10, 6)
	addStar(f, 30, 30, 20000, 2)

	bg, err := GlobalBackground(f, "median", 3)
	require.NoError(t, err)
	// clipping keeps the star out of the sky estimate
	assert.InDelta(t, 500.0, bg.Level, 5.0)
}

func TestGridBackgroundTracksGradient(t *testing.T) {
	f := framedata.New(80, 80)
	rng := rand.New(rand.NewSource(8))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			f.Set(x, y, 100+2*float64(x)+3*rng.NormFloat64())
		}
	}

	bg, err := GridBackground(f, 20, "median", 3)
	require.NoError(t, err)
	// the map should follow the left-right ramp
	assert.Less(t, bg.LevelAt(10, 40), bg.LevelAt(70, 40))
	assert.InDelta(t, 100+2*40, bg.LevelAt(40, 40), 15.0)
}

func TestDetectSources(t *testing.T) {
	f := skyFrame(80, 80, 100, 5, 9)
	addStar(f, 25, 30, 2000, 1.8)
	addStar(f, 60, 55, 800, 1.8)

	bg, err := GlobalBackground(f, "median", 3)
	require.NoError(t, err)

	sources := DetectSources(f, bg, DetectParams{})
	require.Len(t, sources, 2)

	// brightest first
	assert.Greater(t, sources[0].Flux, sources[1].Flux)
	assert.InDelta(t, 25.0, sources[0].X, 0.5)
	assert.InDelta(t, 30.0, sources[0].Y, 0.5)
	assert.InDelta(t, 60.0, sources[1].X, 0.5)
	assert.InDelta(t, 55.0, sources[1].Y, 0.5)
	assert.GreaterOrEqual(t, sources[0].Npix, 3)
	assert.Greater(t, sources[0].Roundness, 0.5)
}

func TestDetectSourcesIgnoresMasked(t *testing.T) {
	f := skyFrame(60, 60, 100, 5, 10)
	addStar(f, 30, 30, 3000, 1.8)
	// mask the whole star footprint
	for y := 22; y < 39; y++ {
		for x := 22; x < 39; x++ {
			f.SetMask(x, y, true)
		}
	}

	bg, err := GlobalBackground(f, "median", 3)
	require.NoError(t, err)
	sources := DetectSources(f, bg, DetectParams{})
	assert.Empty(t, sources)
}

func TestDetectSourcesMinPix(t *testing.T) {
	f := skyFrame(40, 40, 100, 2, 12)
	f.Set(20, 20, 5000) // single hot pixel

	bg, err := GlobalBackground(f, "median", 3)
	require.NoError(t, err)
	sources := DetectSources(f, bg, DetectParams{MinPix: 3})
	assert.Empty(t, sources)
}

func TestMeasureAperture(t *testing.T) {
	f := skyFrame(60, 60, 50, 1, 14)
	addStar(f, 30, 30, 1000, 2)

	// total flux of a 2D gaussian is 2*pi*sigma^2*peak
	wantFlux := 2 * math.Pi * 2 * 2 * 1000

	sources := []Source{{X: 30, Y: 30}}
	res, err := Measure(f, sources, ApertureParams{R: 8, RIn: 12, ROut: 18, Gain: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)

	assert.Equal(t, Flags(0), res[0].Flags)
	assert.InDelta(t, 50.0, res[0].Sky, 1.0)
	// R=8 is 4 sigma, capturing essentially all the flux
	assert.InDelta(t, wantFlux, res[0].Flux, 0.02*wantFlux)
	assert.Greater(t, res[0].FluxErr, 0.0)
	assert.InDelta(t, math.Pi*8*8, res[0].Area, 2.0)
}

func TestMeasureFlags(t *testing.T) {
	f := skyFrame(40, 40, 50, 1, 15)

	t.Run("masked in aperture", func(t *testing.T) {
		f2 := f.Clone()
		f2.SetMask(20, 20, true)
		res, err := Measure(f2, []Source{{X: 20, Y: 20}}, ApertureParams{R: 3, RIn: 5, ROut: 8})
		require.NoError(t, err)
		assert.NotZero(t, res[0].Flags&FlagMaskedInAperture)
	})

	t.Run("out of bounds", func(t *testing.T) {
		res, err := Measure(f, []Source{{X: 1, Y: 1}}, ApertureParams{R: 3, RIn: 5, ROut: 8})
		require.NoError(t, err)
		assert.NotZero(t, res[0].Flags&FlagOutOfBounds)
	})

	t.Run("bad geometry", func(t *testing.T) {
		_, err := Measure(f, []Source{{X: 20, Y: 20}}, ApertureParams{R: 5, RIn: 4, ROut: 8})
		require.Error(t, err)
	})
}

func TestInstrumentalMag(t *testing.T) {
	assert.InDelta(t, -5.0, InstrumentalMag(100), 1e-9)
	assert.True(t, math.IsNaN(InstrumentalMag(0)))
	assert.True(t, math.IsNaN(InstrumentalMag(-10)))

	assert.InDelta(t, 0.10857, MagError(100, 10), 1e-5)
	assert.True(t, math.IsNaN(MagError(0, 1)))
}
