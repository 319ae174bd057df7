package physics

import (
	"fmt"
	"math"
	"strconv"
)

// Stepper advances a universe by one tick in place.
// Implementations must be deterministic.
type Stepper interface {
	Step(u *Universe)
}

// Fingerprinter is implemented by steppers whose output depends on
// configuration.
type Fingerprinter interface {
	Fingerprint() string
}

// StepperFunc adapts a function to the Stepper interface.
type StepperFunc func(u *Universe)

// Step calls f(u).
func (f StepperFunc) Step(u *Universe) {
	f(u)
}

// DefaultGravitationalConstant is G in SI units.
const DefaultGravitationalConstant = 6.6743e-11

// Newtonian integrates pairwise gravity with semi-implicit Euler:
// velocities are updated from the accelerations at the current positions,
// then positions move by the updated velocities.
type Newtonian struct {
	// G is the gravitational constant.
	G float64
	// Timestep is the length of one tick. Zero means 1.
	Timestep float64
	// Softening is added to squared distances to bound close-range forces.
	Softening float64
}

// NewNewtonian returns a stepper with the SI gravitational constant and a
// unit timestep.
func NewNewtonian() Newtonian {
	return Newtonian{G: DefaultGravitationalConstant, Timestep: 1}
}

// Fingerprint identifies the stepper configuration. States derived under
// different fingerprints are not interchangeable.
func (n Newtonian) Fingerprint() string {
	return fmt.Sprintf("newtonian/g=%s/dt=%s/soft=%s",
		strconv.FormatFloat(n.G, 'g', -1, 64),
		strconv.FormatFloat(n.step(), 'g', -1, 64),
		strconv.FormatFloat(n.Softening, 'g', -1, 64),
	)
}

// Step implements Stepper.
//
// Bodies at identical or nearly identical positions (with zero softening)
// exert no force on each other.
func (n Newtonian) Step(u *Universe) {
	dt := n.step()
	acc := make([]Vec3, len(u.Bodies))
	for i := range u.Bodies {
		for j := range u.Bodies {
			if i == j {
				continue
			}
			d := u.Bodies[j].Position.Sub(u.Bodies[i].Position)
			r2 := d.Dot(d) + n.Softening*n.Softening
			if r2 == 0 {
				continue
			}
			// Near-coincident bodies can underflow the cube to zero.
			r3 := r2 * math.Sqrt(r2)
			if r3 == 0 {
				continue
			}
			acc[i] = acc[i].Add(d.Scale(n.G * u.Bodies[j].Mass / r3))
		}
	}

	for i := range u.Bodies {
		b := &u.Bodies[i]
		b.Velocity = b.Velocity.Add(acc[i].Scale(dt))
		b.Position = b.Position.Add(b.Velocity.Scale(dt))
	}
}

func (n Newtonian) step() float64 {
	if n.Timestep == 0 {
		return 1
	}
	return n.Timestep
}

// Drift moves every body by its velocity and ignores forces.
type Drift struct{}

// Step implements Stepper.
func (Drift) Step(u *Universe) {
	for i := range u.Bodies {
		b := &u.Bodies[i]
		b.Position = b.Position.Add(b.Velocity)
	}
}
