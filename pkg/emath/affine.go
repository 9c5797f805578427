package emath

// Basic affine transformations, used in frame registration

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Use a local type so we can hang methods off it. Row-major 2x3:
// [a b tx; c d ty].
type Aff3 f64.Aff3

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func (m Aff3) Translate(tx, ty float64) Aff3 {
	return m.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

func (m Aff3) Rotate(thetaDeg float64) Aff3 {
	cosTheta := math.Cos(thetaDeg * math.Pi / 180.0)
	sinTheta := math.Sin(thetaDeg * math.Pi / 180.0)
	return m.Mult(Aff3{cosTheta, -1 * sinTheta, 0, sinTheta, cosTheta, 0})
}

func (m Aff3) Scale(s float64) Aff3 {
	return m.Mult(Aff3{s, 0, 0, 0, s, 0})
}

// RotateAbout composes back to front - rightmost operations performed first
func RotateAbout(thetaDeg, x, y float64) Aff3 {
	return Identity().Translate(x, y).Rotate(thetaDeg).Translate(-1*x, -1*y)
}

// Apply maps the point (x,y) through the transform.
func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Invert returns the inverse transform. Fails on a degenerate matrix,
// which can't arise from a well-formed registration solution.
func (m Aff3) Invert() (Aff3, error) {
	det := m[0]*m[4] - m[1]*m[3]
	if math.Abs(det) < 1e-12 {
		return Identity(), fmt.Errorf("affine matrix is singular (det=%g)", det)
	}
	inv := Aff3{
		m[4] / det, -m[1] / det, 0,
		-m[3] / det, m[0] / det, 0,
	}
	inv[2] = -(inv[0]*m[2] + inv[1]*m[5])
	inv[5] = -(inv[3]*m[2] + inv[4]*m[5])
	return inv, nil
}

// Similarity builds translation+rotation+scale about the origin.
func Similarity(tx, ty, thetaDeg, scale float64) Aff3 {
	return Identity().Translate(tx, ty).Rotate(thetaDeg).Scale(scale)
}

// RotationDeg extracts the rotation angle implied by the matrix.
func (m Aff3) RotationDeg() float64 {
	return math.Atan2(m[3], m[0]) * 180.0 / math.Pi
}

// ScaleFactor extracts the isotropic scale implied by the matrix.
func (m Aff3) ScaleFactor() float64 {
	return math.Hypot(m[0], m[3])
}

func (m Aff3) String() string {
	str := fmt.Sprintf("xform[t=(%.2f,%.2f)", m[2], m[5])
	if rot := m.RotationDeg(); math.Abs(rot) > 0.005 {
		str += fmt.Sprintf(", %.2fdeg", rot)
	}
	if s := m.ScaleFactor(); math.Abs(s-1.0) > 0.0005 {
		str += fmt.Sprintf(", x%.4f", s)
	}
	return str + "]"
}
