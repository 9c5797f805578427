package preview

import (
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkendrick/ccdred/pkg/framedata"
	"github.com/mkendrick/ccdred/pkg/photometry"
)

func rampFrame(w, h int) *framedata.FrameData {
	f := framedata.New(w, h)
	for i := range f.Pixels {
		f.Pixels[i] = float64(i)
	}
	return f
}

func TestRenderGrayscale(t *testing.T) {
	f := rampFrame(32, 32)
	f.SetMask(0, 0, true)

	img := Render(f, Options{})
	b := img.Bounds()
	assert.Equal(t, 32, b.Dx())
	assert.Equal(t, 32, b.Dy())

	// masked pixel renders black
	r, g, bb, _ := img.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, bb)

	// stretch is monotonic: last pixel brighter than mid
	rMid, _, _, _ := img.At(16, 16).RGBA()
	rEnd, _, _, _ := img.At(31, 31).RGBA()
	assert.Greater(t, rEnd, rMid)
}

func TestRenderFalseColor(t *testing.T) {
	img := Render(rampFrame(16, 16), Options{FalseColor: true})
	// false color is not gray: some pixel has unequal channels
	unequal := false
	for y := 0; y < 16 && !unequal; y++ {
		for x := 0; x < 16; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r != g || g != b {
				unequal = true
				break
			}
		}
	}
	assert.True(t, unequal)
}

func TestRenderDownscale(t *testing.T) {
	img := Render(rampFrame(64, 32), Options{MaxDim: 16})
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestSavePNG(t *testing.T) {
	f := rampFrame(32, 32)
	path := filepath.Join(t.TempDir(), "preview.png")
	sources := []photometry.Source{{X: 10, Y: 12}, {X: 20, Y: 5}}

	require.NoError(t, SavePNG(f, sources, "test frame", path, Options{}))

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()
	cfg, format, err := image.DecodeConfig(in)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 32, cfg.Width)
}
