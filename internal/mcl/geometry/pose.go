// Package geometry holds rigid-body poses and the trajectory file formats
// the localiser consumes.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose is a 4x4 homogeneous transform stored row-major:
// m00,m01,m02,m03, m10,...
type Pose [16]float64

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Dense returns the pose as a gonum matrix.
func (p Pose) Dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, p[:])
	return mat.NewDense(4, 4, data)
}

// FromDense copies a 4x4 matrix into a Pose.
func FromDense(m mat.Matrix) Pose {
	var p Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			p[r*4+c] = m.At(r, c)
		}
	}
	return p
}

// Mul returns p·q.
func (p Pose) Mul(q Pose) Pose {
	var out mat.Dense
	out.Mul(p.Dense(), q.Dense())
	return FromDense(&out)
}

// Inverse returns p⁻¹.
func (p Pose) Inverse() (Pose, error) {
	var inv mat.Dense
	if err := inv.Inverse(p.Dense()); err != nil {
		return Pose{}, fmt.Errorf("invert pose: %w", err)
	}
	return FromDense(&inv), nil
}

// Translation returns the translation column.
func (p Pose) Translation() (x, y, z float64) {
	return p[3], p[7], p[11]
}

// Yaw returns the heading about +Z in radians.
func (p Pose) Yaw() float64 {
	return math.Atan2(p[4], p[0])
}

// Pose2D is a planar pose. Units are set by the producer; the localiser
// works in grid units.
type Pose2D struct {
	X     float64
	Y     float64
	Theta float64
}

// Planar projects p onto the ground plane and scales the translation into
// grid units at the given resolution.
func (p Pose) Planar(resolution float64) Pose2D {
	x, y, _ := p.Translation()
	return Pose2D{X: x / resolution, Y: y / resolution, Theta: p.Yaw()}
}

// WrapAngle maps a to the half-open interval (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// AngleDiff returns the absolute shortest angular distance between a and b.
func AngleDiff(a, b float64) float64 {
	return math.Abs(WrapAngle(a - b))
}
