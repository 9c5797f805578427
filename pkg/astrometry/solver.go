package astrometry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// ErrNoWCS means the plate solver ran but failed to find a solution.
var ErrNoWCS = errors.New("no astrometric solution found")

// SolveOptions drives an astrometry.net solve-field run. Zero-valued
// fields are omitted from the command line and solve-field falls back
// to a blind solve.
type SolveOptions struct {
	Command string // solve-field binary (default "solve-field")

	// Plate scale bounds, arcsec/pixel. Tight bounds make solves
	// dramatically faster.
	ScaleLow  float64
	ScaleHigh float64

	// Pointing hint plus search radius, degrees.
	RA     float64
	Dec    float64
	Radius float64

	Downsample int
	WorkDir    string // scratch dir for index files and outputs
}

func (o SolveOptions) args(input string) []string {
	args := []string{
		"--no-plots",
		"--overwrite",
		"--crpix-center",
	}
	if o.ScaleLow > 0 && o.ScaleHigh > 0 {
		args = append(args,
			"--scale-units", "arcsecperpix",
			"--scale-low", strconv.FormatFloat(o.ScaleLow, 'f', -1, 64),
			"--scale-high", strconv.FormatFloat(o.ScaleHigh, 'f', -1, 64))
	}
	if o.Radius > 0 {
		args = append(args,
			"--ra", strconv.FormatFloat(o.RA, 'f', -1, 64),
			"--dec", strconv.FormatFloat(o.Dec, 'f', -1, 64),
			"--radius", strconv.FormatFloat(o.Radius, 'f', -1, 64))
	}
	if o.Downsample > 1 {
		args = append(args, "--downsample", strconv.Itoa(o.Downsample))
	}
	if o.WorkDir != "" {
		args = append(args, "--dir", o.WorkDir)
	}
	return append(args, input)
}

// Solve runs solve-field on a FITS file and returns the WCS it found.
// A clean run that yields no solution comes back as ErrNoWCS; a
// missing binary or a crashed run comes back as an ordinary error.
func Solve(ctx context.Context, fitsPath string, opt SolveOptions) (*WCS, error) {
	command := opt.Command
	if command == "" {
		command = "solve-field"
	}
	if opt.WorkDir == "" {
		dir, err := os.MkdirTemp("", "ccdred-solve-")
		if err != nil {
			return nil, fmt.Errorf("solve: %w", err)
		}
		defer os.RemoveAll(dir)
		opt.WorkDir = dir
	}

	cmd := exec.CommandContext(ctx, command, opt.args(fitsPath)...)
	log.Printf("solve: running %s %v", command, cmd.Args[1:])
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("solve: %s failed: %w\n%s", command, err, out)
	}

	// solve-field writes <base>.solved and <base>.wcs on success
	base := filepath.Base(fitsPath)
	base = base[:len(base)-len(filepath.Ext(base))]
	solvedPath := filepath.Join(opt.WorkDir, base+".solved")
	if _, err := os.Stat(solvedPath); err != nil {
		return nil, ErrNoWCS
	}

	wcsPath := filepath.Join(opt.WorkDir, base+".wcs")
	hdr, err := framedata.ReadHeaderFile(wcsPath)
	if err != nil {
		return nil, fmt.Errorf("solve: reading %s: %w", wcsPath, err)
	}
	wcs, err := FromHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	log.Printf("solve: %s", wcs)
	return wcs, nil
}

// SolveFrame writes the frame to scratch, solves it, and stamps the
// resulting WCS cards into the frame header.
func SolveFrame(ctx context.Context, f *framedata.FrameData, opt SolveOptions) (*WCS, error) {
	dir, err := os.MkdirTemp("", "ccdred-solve-")
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "frame.fits")
	if err := f.WriteFile(path); err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	if opt.WorkDir == "" {
		opt.WorkDir = dir
	}
	wcs, err := Solve(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	wcs.ToHeader(f.Header)
	f.Header.AddHistory("plate solved with astrometry.net")
	return wcs, nil
}
