package physics

import (
	"math"
	"slices"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
)

// Body is a point mass.
type Body struct {
	ID       handle.Handle `json:"id"`
	Position Vec3          `json:"position"`
	Velocity Vec3          `json:"velocity"`
	Mass     float64       `json:"mass"`
}

// Universe is the simulation state of a single node.
//
// Bodies keep insertion order. Lookups are linear.
type Universe struct {
	Bodies []Body `json:"bodies"`
}

// NewUniverse returns an empty universe.
func NewUniverse() Universe {
	return Universe{Bodies: []Body{}}
}

// Body returns a pointer to the body with the given id, or nil.
// The pointer is invalidated by AddBody.
func (u *Universe) Body(id handle.Handle) *Body {
	for i := range u.Bodies {
		if u.Bodies[i].ID == id {
			return &u.Bodies[i]
		}
	}
	return nil
}

// AddBody appends b.
func (u *Universe) AddBody(b Body) {
	u.Bodies = append(u.Bodies, b)
}

// Len returns the number of bodies.
func (u Universe) Len() int {
	return len(u.Bodies)
}

// IsFinite reports whether every body attribute is finite.
func (u Universe) IsFinite() bool {
	for _, b := range u.Bodies {
		if !b.Position.IsFinite() || !b.Velocity.IsFinite() || math.IsNaN(b.Mass) || math.IsInf(b.Mass, 0) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of u.
func (u Universe) Clone() Universe {
	bodies := slices.Clone(u.Bodies)
	if bodies == nil {
		bodies = []Body{}
	}
	return Universe{Bodies: bodies}
}

// Advance steps u forward by ticks using s. Zero ticks is a no-op.
func (u *Universe) Advance(s Stepper, ticks int) {
	for i := 0; i < ticks; i++ {
		s.Step(u)
	}
}
