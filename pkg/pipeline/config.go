package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

/* Example config file ...

datadir: ./raws
outdir: ./reduced

calibration:
  gain: 1.8
  scaledark: true
  cosmicrays: true
  combinemethod: median

registration:
  method: crosscorr
  reference: ""

photometry:
  detectsigma: 5
  aperture: 5
  annulusin: 8
  annulusout: 12
  skymethod: mmm

astrometry:
  solve: true
  scalelow: 1.2
  scalehigh: 1.6

catalog:
  url: https://catalog.example.org/cone
  name: apass
  cachefile: catalog-cache.db
  matchradius: 0.0015

*/

type CalibrationOptions struct {
	Gain          float64
	ScaleDark     bool
	CosmicRays    bool
	CombineMethod string
}

type RegistrationOptions struct {
	Method    string // crosscorr or asterism
	Reference string // filename of the reference light; "" = first
}

type PhotometryOptions struct {
	DetectSigma float64
	MinPix      int
	Aperture    float64
	AnnulusIn   float64
	AnnulusOut  float64
	SkyMethod   string
}

type AstrometryOptions struct {
	Solve      bool
	Command    string
	ScaleLow   float64
	ScaleHigh  float64
	Downsample int
}

type CatalogOptions struct {
	URL         string
	Name        string
	CacheFile   string
	MatchRadius float64 // degrees
}

type PreviewOptions struct {
	Enabled    bool
	FalseColor bool
	MaxDim     int
}

type Configuration struct {
	DataDir string
	OutDir  string

	// FITS keyword conventions of the camera
	TypeKey     string // default OBSTYPE
	FilterKey   string // default FILTER
	ExposureKey string // default EXPTIME

	Exclude []string // filenames to skip

	Calibration  CalibrationOptions
	Registration RegistrationOptions
	Photometry   PhotometryOptions
	Astrometry   AstrometryOptions
	Catalog      CatalogOptions
	Preview      PreviewOptions
}

func NewConfiguration() Configuration {
	return Configuration{
		OutDir:      "reduced",
		TypeKey:     "OBSTYPE",
		FilterKey:   "FILTER",
		ExposureKey: "EXPTIME",
		Exclude:     []string{},
		Calibration: CalibrationOptions{
			ScaleDark:     true,
			CombineMethod: "median",
		},
		Registration: RegistrationOptions{Method: "crosscorr"},
		Photometry: PhotometryOptions{
			DetectSigma: 5,
			MinPix:      3,
			Aperture:    5,
			AnnulusIn:   8,
			AnnulusOut:  12,
			SkyMethod:   "mmm",
		},
		Catalog: CatalogOptions{MatchRadius: 0.0015},
		Preview: PreviewOptions{Enabled: true, MaxDim: 2048},
	}
}

func LoadConfiguration(filename string) (Configuration, error) {
	c := NewConfiguration()

	if contents, err := os.ReadFile(filename); err != nil {
		return c, fmt.Errorf("read '%s': %v", filename, err)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %v", filename, err)
	}

	return c, c.FinalizeConfiguration()
}

// FinalizeConfiguration does sanity checks and other post-processing
func (c *Configuration) FinalizeConfiguration() error {
	switch c.Calibration.CombineMethod {
	case "", "median", "mean", "average", "sum":
	default:
		return fmt.Errorf("no combine method named '%s'", c.Calibration.CombineMethod)
	}

	switch c.Registration.Method {
	case "", "crosscorr", "asterism", "none":
	default:
		return fmt.Errorf("no registration method named '%s'", c.Registration.Method)
	}

	switch c.Photometry.SkyMethod {
	case "", "mean", "median", "mmm":
	default:
		return fmt.Errorf("no sky method named '%s'", c.Photometry.SkyMethod)
	}

	if c.Photometry.Aperture > 0 &&
		(c.Photometry.AnnulusIn <= c.Photometry.Aperture ||
			c.Photometry.AnnulusOut <= c.Photometry.AnnulusIn) {
		return fmt.Errorf("sky annulus [%g,%g] must lie outside aperture %g",
			c.Photometry.AnnulusIn, c.Photometry.AnnulusOut, c.Photometry.Aperture)
	}

	return nil
}

func (c Configuration) Excluded(filename string) bool {
	for _, name := range c.Exclude {
		if name == filename {
			return true
		}
	}
	return false
}
