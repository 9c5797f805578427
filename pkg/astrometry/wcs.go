package astrometry

import (
	"fmt"
	"math"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// WCS is a gnomonic (TAN) world coordinate system: a linear CD matrix
// about a reference pixel, projected about a tangent point on the sky.
// Angles are degrees throughout; pixel coordinates are zero-based
// (FITS CRPIX is one-based, the conversion happens at parse/write
// time).
type WCS struct {
	CRVal1, CRVal2 float64 // tangent point RA, Dec (deg)
	CRPix1, CRPix2 float64 // reference pixel, zero-based
	CD             [2][2]float64
}

const degToRad = math.Pi / 180.0

// PixelToWorld converts zero-based pixel coordinates to RA/Dec.
func (w *WCS) PixelToWorld(x, y float64) (ra, dec float64) {
	// intermediate coordinates, degrees in the tangent plane
	dx := x - w.CRPix1
	dy := y - w.CRPix2
	xi := w.CD[0][0]*dx + w.CD[0][1]*dy
	eta := w.CD[1][0]*dx + w.CD[1][1]*dy

	xi *= degToRad
	eta *= degToRad
	ra0 := w.CRVal1 * degToRad
	dec0 := w.CRVal2 * degToRad

	den := math.Cos(dec0) - eta*math.Sin(dec0)
	dra := math.Atan2(xi, den)
	ra = ra0 + dra
	dec = math.Atan2((math.Sin(dec0)+eta*math.Cos(dec0))*math.Cos(dra), den)

	ra /= degToRad
	dec /= degToRad
	ra = math.Mod(ra+360.0, 360.0)
	return ra, dec
}

// WorldToPixel converts RA/Dec to zero-based pixel coordinates. An
// error comes back if the point is on the far side of the tangent
// plane, or the CD matrix is singular.
func (w *WCS) WorldToPixel(ra, dec float64) (x, y float64, err error) {
	ra0 := w.CRVal1 * degToRad
	dec0 := w.CRVal2 * degToRad
	r := ra * degToRad
	d := dec * degToRad

	cosC := math.Sin(dec0)*math.Sin(d) + math.Cos(dec0)*math.Cos(d)*math.Cos(r-ra0)
	if cosC <= 0 {
		return 0, 0, fmt.Errorf("wcs: (%.4f,%.4f) does not project", ra, dec)
	}
	xi := math.Cos(d) * math.Sin(r-ra0) / cosC
	eta := (math.Cos(dec0)*math.Sin(d) - math.Sin(dec0)*math.Cos(d)*math.Cos(r-ra0)) / cosC
	xi /= degToRad
	eta /= degToRad

	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if det == 0 {
		return 0, 0, fmt.Errorf("wcs: singular CD matrix")
	}
	dx := (w.CD[1][1]*xi - w.CD[0][1]*eta) / det
	dy := (-w.CD[1][0]*xi + w.CD[0][0]*eta) / det
	return dx + w.CRPix1, dy + w.CRPix2, nil
}

// PixelScale returns the mean plate scale in arcsec/pixel.
func (w *WCS) PixelScale() float64 {
	det := math.Abs(w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0])
	return math.Sqrt(det) * 3600.0
}

func (w *WCS) String() string {
	return fmt.Sprintf("TAN (%.5f,%.5f) @ (%.1f,%.1f), %.3f\"/px",
		w.CRVal1, w.CRVal2, w.CRPix1, w.CRPix2, w.PixelScale())
}

// FromHeader builds a WCS from FITS cards. CD matrix cards are
// preferred; CDELT/CROTA2 is the fallback for older headers.
func FromHeader(h *framedata.Header) (*WCS, error) {
	ctype1, err := h.String("CTYPE1")
	if err != nil {
		return nil, fmt.Errorf("wcs: %w", err)
	}
	if len(ctype1) < 8 || ctype1[5:8] != "TAN" {
		return nil, fmt.Errorf("wcs: unsupported projection %q", ctype1)
	}

	w := &WCS{}
	if w.CRVal1, err = h.Float("CRVAL1"); err != nil {
		return nil, fmt.Errorf("wcs: %w", err)
	}
	if w.CRVal2, err = h.Float("CRVAL2"); err != nil {
		return nil, fmt.Errorf("wcs: %w", err)
	}
	crpix1, err := h.Float("CRPIX1")
	if err != nil {
		return nil, fmt.Errorf("wcs: %w", err)
	}
	crpix2, err := h.Float("CRPIX2")
	if err != nil {
		return nil, fmt.Errorf("wcs: %w", err)
	}
	w.CRPix1 = crpix1 - 1.0
	w.CRPix2 = crpix2 - 1.0

	if cd11, err := h.Float("CD1_1"); err == nil {
		w.CD[0][0] = cd11
		w.CD[0][1], _ = h.Float("CD1_2")
		w.CD[1][0], _ = h.Float("CD2_1")
		if w.CD[1][1], err = h.Float("CD2_2"); err != nil {
			return nil, fmt.Errorf("wcs: %w", err)
		}
		return w, nil
	}

	// CDELT/CROTA2 fallback
	cdelt1, err := h.Float("CDELT1")
	if err != nil {
		return nil, fmt.Errorf("wcs: no CD matrix and %w", err)
	}
	cdelt2, err := h.Float("CDELT2")
	if err != nil {
		return nil, fmt.Errorf("wcs: no CD matrix and %w", err)
	}
	rot := 0.0
	if v, err := h.Float("CROTA2"); err == nil {
		rot = v
	}
	c, s := math.Cos(rot*degToRad), math.Sin(rot*degToRad)
	w.CD[0][0] = cdelt1 * c
	w.CD[0][1] = -cdelt2 * s
	w.CD[1][0] = cdelt1 * s
	w.CD[1][1] = cdelt2 * c
	return w, nil
}

// ToHeader writes the WCS cards into a frame header.
func (w *WCS) ToHeader(h *framedata.Header) {
	h.Set("CTYPE1", "RA---TAN", "gnomonic projection")
	h.Set("CTYPE2", "DEC--TAN", "gnomonic projection")
	h.Set("CRVAL1", w.CRVal1, "tangent point RA (deg)")
	h.Set("CRVAL2", w.CRVal2, "tangent point Dec (deg)")
	h.Set("CRPIX1", w.CRPix1+1.0, "reference pixel (1-based)")
	h.Set("CRPIX2", w.CRPix2+1.0, "reference pixel (1-based)")
	h.Set("CD1_1", w.CD[0][0], "")
	h.Set("CD1_2", w.CD[0][1], "")
	h.Set("CD2_1", w.CD[1][0], "")
	h.Set("CD2_2", w.CD[1][1], "")
	h.Set("CUNIT1", "deg", "")
	h.Set("CUNIT2", "deg", "")
}

// ManualWCS builds a WCS from a single reference pixel, its sky
// coordinates, a plate scale in arcsec/pixel, the direction of
// celestial north (degrees clockwise from +y, so 0 is north-up,
// 90 puts north along +x), and an optional mirror flip of the RA
// and/or Dec axis ("", "ra", "dec", "all"). Handy when a plate solve
// is unavailable but the pointing is known.
func ManualWCS(x, y, ra, dec, arcsecPerPix, northDeg float64, flip string) (*WCS, error) {
	scale := arcsecPerPix / 3600.0
	sin, cos := math.Sincos(northDeg * math.Pi / 180)
	cd := [2][2]float64{
		{-scale * cos, scale * sin},
		{scale * sin, scale * cos},
	}
	switch flip {
	case "":
	case "ra":
		cd[0][0], cd[0][1] = -cd[0][0], -cd[0][1]
	case "dec":
		cd[1][0], cd[1][1] = -cd[1][0], -cd[1][1]
	case "all":
		for i := range cd {
			cd[i][0], cd[i][1] = -cd[i][0], -cd[i][1]
		}
	default:
		return nil, fmt.Errorf("no axis flip named %q", flip)
	}
	return &WCS{
		CRVal1: ra, CRVal2: dec,
		CRPix1: x, CRPix2: y,
		CD: cd,
	}, nil
}
