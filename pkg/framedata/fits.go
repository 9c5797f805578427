package framedata

import (
	"fmt"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// FITS I/O for frames, on top of astrogo/fitsio. The primary HDU
// carries the pixels; the mask and uncertainty planes ride along as
// image extensions named MASK and UNCERT.

const (
	maskExtName   = "MASK"
	uncertExtName = "UNCERT"
)

// Structural keywords owned by the FITS encoder; never copied between
// our Header and the file.
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true,
	"NAXIS2": true, "NAXIS3": true, "EXTEND": true, "BZERO": true,
	"BSCALE": true, "PCOUNT": true, "GCOUNT": true, "XTENSION": true,
	"EXTNAME": true, "END": true,
}

// ReadFile loads a frame from a FITS file on disk.
func ReadFile(filename string) (*FrameData, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("fits open %s: %w", filename, err)
	}
	defer fits.Close()

	var frame *FrameData
	for _, hdu := range fits.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		hdr := img.Header()
		axes := hdr.Axes()
		if len(axes) < 2 || axes[0] <= 0 || axes[1] <= 0 {
			continue
		}

		extName := ""
		if c := hdr.Get("EXTNAME"); c != nil {
			extName = strings.TrimSpace(fmt.Sprintf("%v", c.Value))
		}

		switch {
		case frame == nil && extName != maskExtName && extName != uncertExtName:
			frame, err = readPrimary(img, axes)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}

		case frame != nil && extName == maskExtName:
			if err := readMask(img, axes, frame); err != nil {
				return nil, fmt.Errorf("%s mask: %w", filename, err)
			}

		case frame != nil && extName == uncertExtName:
			if err := readUncert(img, axes, frame); err != nil {
				return nil, fmt.Errorf("%s uncertainty: %w", filename, err)
			}
		}
	}

	if frame == nil {
		return nil, fmt.Errorf("%s: no 2D image HDU found", filename)
	}
	return frame, nil
}

// ReadHeaderFile loads only the primary header, for cheap indexing of
// large file groups.
func ReadHeaderFile(filename string) (*Header, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("fits open %s: %w", filename, err)
	}
	defer fits.Close()

	return headerFromFits(fits.HDU(0).Header()), nil
}

func readPrimary(img fitsio.Image, axes []int) (*FrameData, error) {
	hdr := img.Header()
	w, h := axes[0], axes[1]

	data, err := readPixels(img, hdr.Bitpix(), w*h)
	if err != nil {
		return nil, err
	}

	// True value is BZERO + BSCALE*stored; fitsio hands back the raw
	// stored values.
	bzero, bscale := 0.0, 1.0
	if c := hdr.Get("BZERO"); c != nil {
		if v, ok := toFloat(c.Value); ok {
			bzero = v
		}
	}
	if c := hdr.Get("BSCALE"); c != nil {
		if v, ok := toFloat(c.Value); ok && v != 0 {
			bscale = v
		}
	}
	if bzero != 0 || bscale != 1 {
		for i := range data {
			data[i] = bzero + bscale*data[i]
		}
	}

	frame, err := NewFromSlice(data, w, h)
	if err != nil {
		return nil, err
	}
	frame.Header = headerFromFits(hdr)
	if unit, err := frame.Header.String("BUNIT"); err == nil {
		frame.Unit = strings.TrimSpace(unit)
		frame.Header.Del("BUNIT")
	}
	return frame, nil
}

func readMask(img fitsio.Image, axes []int, frame *FrameData) error {
	if axes[0] != frame.Width || axes[1] != frame.Height {
		return fmt.Errorf("mask is %dx%d, frame is %dx%d: %w",
			axes[0], axes[1], frame.Width, frame.Height, ErrShapeMismatch)
	}
	raw := make([]int8, axes[0]*axes[1])
	if err := img.Read(&raw); err != nil {
		return err
	}
	for i, v := range raw {
		frame.Mask[i] = v != 0
	}
	return nil
}

func readUncert(img fitsio.Image, axes []int, frame *FrameData) error {
	if axes[0] != frame.Width || axes[1] != frame.Height {
		return fmt.Errorf("uncertainty is %dx%d, frame is %dx%d: %w",
			axes[0], axes[1], frame.Width, frame.Height, ErrShapeMismatch)
	}
	raw := make([]float64, axes[0]*axes[1])
	if err := img.Read(&raw); err != nil {
		return err
	}
	frame.Uncert = raw
	return nil
}

func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	data := make([]float64, n)

	// fitsio resizes the destination slice in place, so every Read
	// needs a slice already allocated to the pixel count.
	switch bitpix {
	case 8:
		raw := make([]int8, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case 64:
		raw := make([]int64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case -64:
		raw := make([]float64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		copy(data, raw)
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	return data, nil
}

// WriteFile saves a frame, mask and uncertainty included, as float64
// FITS. The file is written atomically nowhere - callers wanting that
// should write to a temp name and rename.
func (f *FrameData) WriteFile(filename string) error {
	if err := f.Validate(); err != nil {
		return err
	}

	out, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer out.Close()

	fits, err := fitsio.Create(out)
	if err != nil {
		return fmt.Errorf("fits create %s: %w", filename, err)
	}
	defer fits.Close()

	dims := []int{f.Width, f.Height}

	primary := fitsio.NewImage(-64, dims)
	defer primary.Close()
	if err := primary.Header().Append(f.fitsCards()...); err != nil {
		return fmt.Errorf("header %s: %w", filename, err)
	}
	if err := primary.Write(f.Pixels); err != nil {
		return fmt.Errorf("pixels %s: %w", filename, err)
	}
	if err := fits.Write(primary); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	if f.Mask != nil {
		mask := fitsio.NewImage(8, dims)
		defer mask.Close()
		if err := mask.Header().Append(fitsio.Card{Name: "EXTNAME", Value: maskExtName}); err != nil {
			return fmt.Errorf("mask header %s: %w", filename, err)
		}
		raw := make([]int8, len(f.Mask))
		for i, m := range f.Mask {
			if m {
				raw[i] = 1
			}
		}
		if err := mask.Write(raw); err != nil {
			return fmt.Errorf("mask %s: %w", filename, err)
		}
		if err := fits.Write(mask); err != nil {
			return fmt.Errorf("write mask %s: %w", filename, err)
		}
	}

	if f.Uncert != nil {
		uncert := fitsio.NewImage(-64, dims)
		defer uncert.Close()
		if err := uncert.Header().Append(fitsio.Card{Name: "EXTNAME", Value: uncertExtName}); err != nil {
			return fmt.Errorf("uncert header %s: %w", filename, err)
		}
		if err := uncert.Write(f.Uncert); err != nil {
			return fmt.Errorf("uncert %s: %w", filename, err)
		}
		if err := fits.Write(uncert); err != nil {
			return fmt.Errorf("write uncert %s: %w", filename, err)
		}
	}

	return nil
}

func (f *FrameData) fitsCards() []fitsio.Card {
	cards := []fitsio.Card{}
	if f.Unit != "" {
		cards = append(cards, fitsio.Card{Name: "BUNIT", Value: f.Unit, Comment: "pixel unit"})
	}
	for _, name := range f.Header.Keys() {
		if structuralKeys[name] {
			continue
		}
		c, _ := f.Header.Card(name)
		cards = append(cards, fitsio.Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	for _, line := range f.Header.History() {
		cards = append(cards, fitsio.Card{Name: "HISTORY", Value: line})
	}
	return cards
}

func headerFromFits(hdr *fitsio.Header) *Header {
	h := NewHeader()
	for _, key := range hdr.Keys() {
		if structuralKeys[key] || key == "HISTORY" || key == "COMMENT" || key == "" {
			continue
		}
		c := hdr.Get(key)
		if c == nil {
			continue
		}
		v := c.Value
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		h.Set(c.Name, v, c.Comment)
	}
	return h
}
