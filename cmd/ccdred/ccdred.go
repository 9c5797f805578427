package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/mkendrick/ccdred/pkg/pipeline"
)

var (
	fConfigFilename string
	fDataDir        string
	fOutDir         string
	fCombineMethod  string
	fRegisterMethod string
	fGain           float64
	fDetectSigma    float64
	fCosmicRays     bool
	fSolve          bool
	fPreview        bool
)

func init() {
	flag.StringVar(&fConfigFilename, "c", "ccdred.yaml", "name of config file")
	flag.StringVar(&fDataDir, "data", "", "directory of raw FITS frames (overrides config)")
	flag.StringVar(&fOutDir, "out", "", "output directory (overrides config)")
	flag.StringVar(&fCombineMethod, "combine", "", "combine method: median, mean, sum")
	flag.StringVar(&fRegisterMethod, "register", "", "registration method: crosscorr, asterism, none")
	flag.Float64Var(&fGain, "gain", 0, "camera gain in e-/adu (0 = read from headers)")
	flag.Float64Var(&fDetectSigma, "sigma", 0, "source detection threshold in noise sigmas")
	flag.BoolVar(&fCosmicRays, "cosmics", true, "detect and mask cosmic rays on light frames")
	flag.BoolVar(&fSolve, "solve", false, "plate-solve the stacks with astrometry.net")
	flag.BoolVar(&fPreview, "preview", true, "write quicklook PNGs of the stacks")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime)
}

func main() {
	c := pipeline.NewConfiguration()
	if _, err := os.Stat(fConfigFilename); err == nil {
		var err error
		if c, err = pipeline.LoadConfiguration(fConfigFilename); err != nil {
			log.Fatal(err)
		}
	}

	// Override the config file with command line args, if relevant
	if fDataDir != "" {
		c.DataDir = fDataDir
	}
	if fOutDir != "" {
		c.OutDir = fOutDir
	}
	if fCombineMethod != "" {
		c.Calibration.CombineMethod = fCombineMethod
	}
	if fRegisterMethod != "" {
		c.Registration.Method = fRegisterMethod
	}
	if fGain > 0 {
		c.Calibration.Gain = fGain
	}
	if fDetectSigma > 0 {
		c.Photometry.DetectSigma = fDetectSigma
	}

	// Just set the bool vars
	c.Calibration.CosmicRays = fCosmicRays
	c.Astrometry.Solve = fSolve
	c.Preview.Enabled = fPreview

	if err := c.FinalizeConfiguration(); err != nil {
		log.Fatal(err)
	}

	p, err := pipeline.New(c)
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := p.Run(ctx)
	if err != nil {
		log.Fatalf("reduction failed: %v", err)
	}
	for _, res := range results {
		log.Printf("%s: %d sources", res.Filter, len(res.Sources))
		if res.ZeroPoint != nil {
			log.Printf("%s: zero point %.3f", res.Filter, res.ZeroPoint.Value)
		}
	}
}
