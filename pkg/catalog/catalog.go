// Package catalog looks up reference stars from online photometric
// catalogs and cross-matches them against detected sources.
package catalog

import (
	"errors"
	"math"
)

var ErrNotFound = errors.New("no catalog sources in field")

// Source is one reference star.
type Source struct {
	ID     string  `json:"id"`
	RA     float64 `json:"ra"`  // deg
	Dec    float64 `json:"dec"` // deg
	Mag    float64 `json:"mag"`
	MagErr float64 `json:"mag_err"`
}

const degToRad = math.Pi / 180.0

// AngularSep returns the angular separation between two sky positions,
// in degrees.
func AngularSep(ra1, dec1, ra2, dec2 float64) float64 {
	// haversine, stable at small separations
	dRA := (ra2 - ra1) * degToRad
	dDec := (dec2 - dec1) * degToRad
	a := math.Sin(dDec/2)*math.Sin(dDec/2) +
		math.Cos(dec1*degToRad)*math.Cos(dec2*degToRad)*math.Sin(dRA/2)*math.Sin(dRA/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(a))) / degToRad
}

// MagErrorFromSNR estimates a magnitude error from a flux
// signal-to-noise ratio.
func MagErrorFromSNR(snr float64) float64 {
	if snr <= 0 {
		return math.NaN()
	}
	return 1.1 / snr
}

// Match pairs each query position with the nearest catalog source
// within limitAngle degrees. The result has one entry per query; -1
// means no catalog source was close enough. A catalog source is
// matched at most once, nearer queries win.
func Match(queryRA, queryDec []float64, sources []Source, limitAngle float64) []int {
	type cand struct {
		query, src int
		sep        float64
	}
	cands := []cand{}
	for qi := range queryRA {
		for si, s := range sources {
			// cheap box cut before the exact separation
			dDec := math.Abs(s.Dec - queryDec[qi])
			if dDec > limitAngle {
				continue
			}
			cosDec := math.Cos(queryDec[qi] * degToRad)
			dRA := math.Abs(s.RA - queryRA[qi])
			if dRA > 180 {
				dRA = 360 - dRA
			}
			if cosDec > 1e-9 && dRA*cosDec > limitAngle {
				continue
			}
			sep := AngularSep(queryRA[qi], queryDec[qi], s.RA, s.Dec)
			if sep <= limitAngle {
				cands = append(cands, cand{qi, si, sep})
			}
		}
	}

	// greedy nearest-first assignment
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].sep < cands[j-1].sep; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	matches := make([]int, len(queryRA))
	for i := range matches {
		matches[i] = -1
	}
	usedSrc := map[int]bool{}
	for _, c := range cands {
		if matches[c.query] != -1 || usedSrc[c.src] {
			continue
		}
		matches[c.query] = c.src
		usedSrc[c.src] = true
	}
	return matches
}
