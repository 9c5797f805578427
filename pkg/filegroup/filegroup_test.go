package filegroup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

func writeTestFits(t *testing.T, path string, cards map[string]interface{}) {
	t.Helper()
	f := framedata.New(4, 4)
	for k, v := range cards {
		f.Header.Set(k, v, "")
	}
	require.NoError(t, f.WriteFile(path))
}

func buildTestGroup(t *testing.T) (string, *Group) {
	t.Helper()
	dir := t.TempDir()
	writeTestFits(t, filepath.Join(dir, "bias1.fits"), map[string]interface{}{
		"OBSTYPE": "BIAS",
	})
	writeTestFits(t, filepath.Join(dir, "bias2.fits"), map[string]interface{}{
		"OBSTYPE": "BIAS",
	})
	writeTestFits(t, filepath.Join(dir, "light1.fits"), map[string]interface{}{
		"OBSTYPE": "LIGHT", "FILTER": "V", "EXPTIME": 30.0,
	})
	writeTestFits(t, filepath.Join(dir, "light2.fits"), map[string]interface{}{
		"OBSTYPE": "LIGHT", "FILTER": "B", "EXPTIME": 30,
	})
	// no OBSTYPE at all
	writeTestFits(t, filepath.Join(dir, "mystery.fits"), map[string]interface{}{
		"OBJECT": "M42",
	})
	// wrong extension, must be ignored
	writeTestFits(t, filepath.Join(dir, "ignored.png"), nil)

	g, err := New(dir)
	require.NoError(t, err)
	return dir, g
}

func TestNewScansSorted(t *testing.T) {
	dir, g := buildTestGroup(t)

	require.Equal(t, 5, g.Len())
	assert.Equal(t, filepath.Join(dir, "bias1.fits"), g.Paths()[0])

	hdr, ok := g.Header(g.Paths()[0])
	require.True(t, ok)
	s, err := hdr.String("OBSTYPE")
	require.NoError(t, err)
	assert.Equal(t, "BIAS", s)
}

func TestFilteredStrict(t *testing.T) {
	_, g := buildTestGroup(t)

	t.Run("match", func(t *testing.T) {
		// drop the keyless file first, then strict-filter
		lights := g.FilteredSkipMissing(map[string]interface{}{"OBSTYPE": "LIGHT"})
		sub, err := lights.Filtered(map[string]interface{}{"FILTER": "V"})
		require.NoError(t, err)
		assert.Equal(t, 1, sub.Len())
	})

	t.Run("missing keyword fails", func(t *testing.T) {
		_, err := g.Filtered(map[string]interface{}{"FILTER": "V"})
		require.Error(t, err)
		assert.ErrorIs(t, err, framedata.ErrMissingKeyword)
	})

	t.Run("numeric values compare numerically", func(t *testing.T) {
		lights := g.FilteredSkipMissing(map[string]interface{}{"OBSTYPE": "LIGHT"})
		// one file stored 30.0, the other 30; both must match 30
		sub, err := lights.Filtered(map[string]interface{}{"EXPTIME": 30})
		require.NoError(t, err)
		assert.Equal(t, 2, sub.Len())
	})
}

func TestFilteredSkipMissing(t *testing.T) {
	_, g := buildTestGroup(t)

	biases := g.FilteredSkipMissing(map[string]interface{}{"OBSTYPE": "BIAS"})
	assert.Equal(t, 2, biases.Len())

	// mystery.fits lacks OBSTYPE and is silently dropped
	all := g.FilteredSkipMissing(map[string]interface{}{"OBSTYPE": "LIGHT"})
	assert.Equal(t, 2, all.Len())
}

func TestFramesAndValues(t *testing.T) {
	_, g := buildTestGroup(t)

	lights := g.FilteredSkipMissing(map[string]interface{}{"OBSTYPE": "LIGHT"})

	n := 0
	err := lights.Frames(func(path string, f *framedata.FrameData) error {
		n++
		assert.Equal(t, 4, f.Width)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	vals := lights.Values("FILTER")
	require.Len(t, vals, 2)
	assert.ElementsMatch(t, []interface{}{"V", "B"}, vals)

	frames, err := lights.LoadAll()
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}

func TestFromPaths(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "one.fits")
	writeTestFits(t, p, map[string]interface{}{"OBSTYPE": "DARK"})

	g, err := FromPaths([]string{p})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	_, err = FromPaths([]string{filepath.Join(dir, "missing.fits")})
	require.Error(t, err)
}
