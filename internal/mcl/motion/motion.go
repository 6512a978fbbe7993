// Package motion derives odometry commands from a trajectory and propagates
// particles through them with sampled noise.
package motion

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/overlap-mcl/internal/config"
	"github.com/banshee-data/overlap-mcl/internal/mcl/geometry"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
)

// Command is the relative motion between two consecutive frames, expressed
// as an initial rotation, a straight translation in grid units and a final
// rotation.
type Command struct {
	Rot1  float64
	Trans float64
	Rot2  float64
}

// Rotation is the total heading change of the command.
func (c Command) Rotation() float64 {
	return geometry.WrapAngle(c.Rot1 + c.Rot2)
}

// minTrans is the translation in grid units below which the initial
// rotation is undefined and folded into Rot2.
const minTrans = 1e-9

// GenerateCommands returns one command per pose; command i moves the robot
// from pose i-1 to pose i, and command 0 is the zero command.
func GenerateCommands(poses []geometry.Pose, resolution float64) []Command {
	cmds := make([]Command, len(poses))
	for i := 1; i < len(poses); i++ {
		prev := poses[i-1].Planar(resolution)
		cur := poses[i].Planar(resolution)
		cmds[i] = Between(prev, cur)
	}
	return cmds
}

// Between returns the command that moves from a to b.
func Between(a, b geometry.Pose2D) Command {
	dx, dy := b.X-a.X, b.Y-a.Y
	trans := math.Hypot(dx, dy)
	var rot1 float64
	if trans > minTrans {
		rot1 = geometry.WrapAngle(math.Atan2(dy, dx) - a.Theta)
	}
	return Command{
		Rot1:  rot1,
		Trans: trans,
		Rot2:  geometry.WrapAngle(b.Theta - a.Theta - rot1),
	}
}

// Noise holds the odometry noise coefficients. Alpha1 and Alpha2 scale the
// rotation noise by rotation and translation; Alpha3 and Alpha4 scale the
// translation noise by translation and rotation.
type Noise struct {
	Alpha1 float64
	Alpha2 float64
	Alpha3 float64
	Alpha4 float64
}

// NoiseFromTuning builds the noise model from the tuning config.
func NoiseFromTuning(cfg *config.TuningConfig) Noise {
	return Noise{
		Alpha1: cfg.GetMotionAlpha1(),
		Alpha2: cfg.GetMotionAlpha2(),
		Alpha3: cfg.GetMotionAlpha3(),
		Alpha4: cfg.GetMotionAlpha4(),
	}
}

// Propagate moves every particle by cmd with independently sampled noise.
// Weights are untouched. The noise standard deviation grows with the
// magnitude of the command so a zero command leaves particles in place.
func Propagate(st *particle.State, cmd Command, n Noise) {
	absRot1 := math.Abs(cmd.Rot1)
	absRot2 := math.Abs(cmd.Rot2)
	sdRot1 := n.Alpha1*absRot1 + n.Alpha2*cmd.Trans
	sdTrans := n.Alpha3*cmd.Trans + n.Alpha4*(absRot1+absRot2)
	sdRot2 := n.Alpha1*absRot2 + n.Alpha2*cmd.Trans

	// A zero sigma yields Mu exactly.
	rot1 := distuv.Normal{Mu: cmd.Rot1, Sigma: sdRot1, Src: st.Rng}
	trans := distuv.Normal{Mu: cmd.Trans, Sigma: sdTrans, Src: st.Rng}
	rot2 := distuv.Normal{Mu: cmd.Rot2, Sigma: sdRot2, Src: st.Rng}

	for i := range st.Particles {
		p := &st.Particles[i]
		r1 := rot1.Rand()
		tr := trans.Rand()
		r2 := rot2.Rand()

		heading := p.Theta + r1
		p.X += tr * math.Cos(heading)
		p.Y += tr * math.Sin(heading)
		p.Theta = geometry.WrapAngle(heading + r2)
	}
}
