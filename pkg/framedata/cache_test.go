package framedata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFiles(t *testing.T) {
	c, err := NewCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	path, err := c.AddFile("a.bin")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	t.Run("path traversal rejected", func(t *testing.T) {
		_, err := c.AddFile("../escape.bin")
		require.Error(t, err)
	})

	t.Run("unmanaged removal rejected", func(t *testing.T) {
		err := c.RemoveFile("b.bin")
		require.Error(t, err)
	})

	t.Run("cleanup removes files and dir", func(t *testing.T) {
		require.NoError(t, c.Cleanup())
		_, err := os.Stat(c.Dir())
		assert.True(t, os.IsNotExist(err))
	})
}

func TestCacheRandomDir(t *testing.T) {
	c, err := NewCache("")
	require.NoError(t, err)
	defer c.Cleanup()

	c2, err := NewCache("")
	require.NoError(t, err)
	defer c2.Cleanup()

	assert.NotEqual(t, c.Dir(), c2.Dir())
}

func TestParkUnparkRoundTrip(t *testing.T) {
	c, err := NewCache("")
	require.NoError(t, err)
	defer c.Cleanup()

	f := New(6, 4)
	for i := range f.Pixels {
		f.Pixels[i] = float64(i) * 1.25
	}
	f.SetMask(1, 1, true)
	f.Uncert = make([]float64, f.NPix())
	f.Uncert[0] = 9
	want := f.Clone()

	require.NoError(t, f.Park(c, "frame0.bin"))
	assert.True(t, f.Parked())
	assert.Nil(t, f.Pixels)
	assert.Nil(t, f.Mask)
	assert.Nil(t, f.Uncert)

	// double park is an error
	require.Error(t, f.Park(c, "frame0.bin"))

	require.NoError(t, f.Unpark())
	assert.False(t, f.Parked())
	if diff := cmp.Diff(want.Pixels, f.Pixels); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Mask, f.Mask); diff != "" {
		t.Errorf("mask mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Uncert, f.Uncert); diff != "" {
		t.Errorf("uncertainty mismatch (-want +got):\n%s", diff)
	}

	// spill file gone after unpark
	_, err = os.Stat(filepath.Join(c.Dir(), "frame0.bin"))
	assert.True(t, os.IsNotExist(err))

	// unpark again is an error
	require.Error(t, f.Unpark())
}

func TestParkWithoutOptionalPlanes(t *testing.T) {
	c, err := NewCache("")
	require.NoError(t, err)
	defer c.Cleanup()

	f := New(3, 3)
	f.Mask = nil
	f.Pixels[4] = 42

	require.NoError(t, f.Park(c, "bare.bin"))
	require.NoError(t, f.Unpark())
	assert.Nil(t, f.Mask)
	assert.Nil(t, f.Uncert)
	assert.Equal(t, 42.0, f.Pixels[4])
}
