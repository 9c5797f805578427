package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngularSep(t *testing.T) {
	assert.InDelta(t, 0.0, AngularSep(100, 20, 100, 20), 1e-12)
	assert.InDelta(t, 1.0, AngularSep(100, 0, 101, 0), 1e-9)
	// at dec 60 one degree of RA is half a degree on the sky
	assert.InDelta(t, 0.5, AngularSep(100, 60, 101, 60), 1e-3)
	assert.InDelta(t, 180.0, AngularSep(0, 0, 180, 0), 1e-9)
}

func TestMagErrorFromSNR(t *testing.T) {
	assert.InDelta(t, 0.011, MagErrorFromSNR(100), 1e-9)
	assert.InDelta(t, 0.11, MagErrorFromSNR(10), 1e-9)
	assert.True(t, math.IsNaN(MagErrorFromSNR(0)))
}

func TestMatch(t *testing.T) {
	sources := []Source{
		{ID: "a", RA: 150.000, Dec: 20.000, Mag: 12},
		{ID: "b", RA: 150.010, Dec: 20.000, Mag: 13},
		{ID: "c", RA: 150.000, Dec: 20.010, Mag: 14},
	}

	t.Run("nearest within limit", func(t *testing.T) {
		m := Match(
			[]float64{150.0001, 150.0099},
			[]float64{20.0000, 20.0001},
			sources, 0.002)
		assert.Equal(t, 0, m[0])
		assert.Equal(t, 1, m[1])
	})

	t.Run("outside limit unmatched", func(t *testing.T) {
		m := Match([]float64{151.0}, []float64{21.0}, sources, 0.002)
		assert.Equal(t, -1, m[0])
	})

	t.Run("catalog source used once, nearest wins", func(t *testing.T) {
		m := Match(
			[]float64{150.0000, 150.0002},
			[]float64{20.0000, 20.0000},
			sources[:1], 0.002)
		assert.Equal(t, 0, m[0])
		assert.Equal(t, -1, m[1])
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Empty(t, Match(nil, nil, sources, 0.002))
	})
}

func TestFitZeroPoint(t *testing.T) {
	t.Run("recovers constant offset", func(t *testing.T) {
		inst := []float64{-8.0, -7.5, -9.2, -6.8}
		cat := make([]float64, len(inst))
		for i, m := range inst {
			cat[i] = m + 21.5
		}
		zp, err := FitZeroPoint(inst, cat, nil)
		require.NoError(t, err)
		assert.InDelta(t, 21.5, zp.Value, 1e-9)
		assert.InDelta(t, 0.0, zp.Stddev, 1e-9)
		assert.Equal(t, 4, zp.NStars)
	})

	t.Run("rejects outliers", func(t *testing.T) {
		inst := make([]float64, 20)
		cat := make([]float64, 20)
		for i := range inst {
			inst[i] = -8 + 0.1*float64(i)
			cat[i] = inst[i] + 21.5
		}
		cat[7] += 4.0 // a variable star

		zp, err := FitZeroPoint(inst, cat, nil)
		require.NoError(t, err)
		assert.InDelta(t, 21.5, zp.Value, 0.01)
		assert.Equal(t, 19, zp.NStars)
	})

	t.Run("skips NaN mags", func(t *testing.T) {
		zp, err := FitZeroPoint(
			[]float64{-8, math.NaN(), -7},
			[]float64{13.5, 14, 14.5},
			nil)
		require.NoError(t, err)
		assert.Equal(t, 2, zp.NStars)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := FitZeroPoint([]float64{1}, []float64{1, 2}, nil)
		require.Error(t, err)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, err := FitZeroPoint([]float64{math.NaN()}, []float64{math.NaN()}, nil)
		require.Error(t, err)
	})
}
