package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfiguration(t *testing.T) {
	yaml := `
datadir: /data/night1
outdir: /data/reduced

calibration:
  gain: 1.8
  combinemethod: mean

registration:
  method: asterism

photometry:
  detectsigma: 4
  aperture: 6
  annulusin: 9
  annulusout: 14
  skymethod: median

catalog:
  url: https://catalog.example.org/cone
  name: apass
  matchradius: 0.002

exclude:
  - bad-frame.fits
`
	path := filepath.Join(t.TempDir(), "ccdred.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/night1", c.DataDir)
	assert.Equal(t, 1.8, c.Calibration.Gain)
	assert.Equal(t, "mean", c.Calibration.CombineMethod)
	assert.Equal(t, "asterism", c.Registration.Method)
	assert.Equal(t, 4.0, c.Photometry.DetectSigma)
	assert.Equal(t, 6.0, c.Photometry.Aperture)
	assert.Equal(t, "apass", c.Catalog.Name)
	assert.True(t, c.Excluded("bad-frame.fits"))
	assert.False(t, c.Excluded("good-frame.fits"))

	// defaults survive a partial file
	assert.Equal(t, "OBSTYPE", c.TypeKey)
	assert.Equal(t, "FILTER", c.FilterKey)
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestFinalizeConfiguration(t *testing.T) {
	t.Run("bad combine method", func(t *testing.T) {
		c := NewConfiguration()
		c.Calibration.CombineMethod = "mode"
		require.Error(t, c.FinalizeConfiguration())
	})

	t.Run("bad registration method", func(t *testing.T) {
		c := NewConfiguration()
		c.Registration.Method = "optical-flow"
		require.Error(t, c.FinalizeConfiguration())
	})

	t.Run("bad sky method", func(t *testing.T) {
		c := NewConfiguration()
		c.Photometry.SkyMethod = "mode"
		require.Error(t, c.FinalizeConfiguration())
	})

	t.Run("annulus inside aperture", func(t *testing.T) {
		c := NewConfiguration()
		c.Photometry.AnnulusIn = 3
		require.Error(t, c.FinalizeConfiguration())
	})

	t.Run("defaults are valid", func(t *testing.T) {
		c := NewConfiguration()
		require.NoError(t, c.FinalizeConfiguration())
	})
}
