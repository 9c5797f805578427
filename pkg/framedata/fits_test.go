package framedata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.fits")

	f := New(8, 5)
	for i := range f.Pixels {
		f.Pixels[i] = float64(i) * 0.5
	}
	f.SetMask(3, 2, true)
	f.Uncert = make([]float64, f.NPix())
	for i := range f.Uncert {
		f.Uncert[i] = 1.5
	}
	f.Unit = UnitADU
	f.Header.Set("OBSTYPE", "LIGHT", "observation type")
	f.Header.Set("EXPTIME", 30.0, "seconds")
	f.Header.Set("FILTER", "V", "")

	require.NoError(t, f.WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, f.Width, back.Width)
	assert.Equal(t, f.Height, back.Height)
	assert.Equal(t, UnitADU, back.Unit)

	if diff := cmp.Diff(f.Pixels, back.Pixels); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f.Uncert, back.Uncert); diff != "" {
		t.Errorf("uncertainty mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, back.Masked(3, 2))
	assert.False(t, back.Masked(0, 0))

	s, err := back.Header.String("OBSTYPE")
	require.NoError(t, err)
	assert.Equal(t, "LIGHT", s)
	exp, err := back.Header.Float("EXPTIME")
	require.NoError(t, err)
	assert.Equal(t, 30.0, exp)
}

func TestFitsRoundTripNoPlanes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.fits")

	f := New(4, 4)
	f.Mask = nil
	for i := range f.Pixels {
		f.Pixels[i] = 100
	}
	require.NoError(t, f.WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Nil(t, back.Uncert)
	assert.Equal(t, 100.0, back.At(2, 2))
	assert.Equal(t, "", back.Unit)
}

// Cameras write integer FITS; make sure the typed read paths handle
// them, BZERO/BSCALE included.
func TestFitsReadInt16(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw16.fits")

	out, err := os.Create(path)
	require.NoError(t, err)
	fits, err := fitsio.Create(out)
	require.NoError(t, err)

	img := fitsio.NewImage(16, []int{4, 3})
	require.NoError(t, img.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768.0},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "OBSTYPE", Value: "BIAS"},
	))
	raw := make([]int16, 12)
	for i := range raw {
		raw[i] = int16(i - 6)
	}
	require.NoError(t, img.Write(raw))
	require.NoError(t, fits.Write(img))
	require.NoError(t, img.Close())
	require.NoError(t, fits.Close())
	require.NoError(t, out.Close())

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, back.Width)
	assert.Equal(t, 3, back.Height)
	for i := range raw {
		assert.Equal(t, float64(raw[i])+32768.0, back.Pixels[i])
	}
}

func TestReadHeaderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdr.fits")

	f := New(4, 4)
	f.Header.Set("OBSTYPE", "BIAS", "")
	require.NoError(t, f.WriteFile(path))

	hdr, err := ReadHeaderFile(path)
	require.NoError(t, err)
	s, err := hdr.String("OBSTYPE")
	require.NoError(t, err)
	assert.Equal(t, "BIAS", s)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.fits"))
	require.Error(t, err)
}
