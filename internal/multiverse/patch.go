package multiverse

import (
	"fmt"
	"math"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// BranchParams is a patch against one body.
//
// For every attribute the absolute value (when present) replaces the
// current one, then the delta (when present) is added. A patch whose target
// does not exist materializes a new body with that identity.
type BranchParams struct {
	TargetBody handle.Handle `json:"target_body"`
	Position   *physics.Vec3 `json:"position,omitempty"`
	DPosition  *physics.Vec3 `json:"d_position,omitempty"`
	Velocity   *physics.Vec3 `json:"velocity,omitempty"`
	DVelocity  *physics.Vec3 `json:"d_velocity,omitempty"`
	Mass       *float64      `json:"mass,omitempty"`
	DMass      *float64      `json:"d_mass,omitempty"`
}

// Apply patches b in place: absolute override first, then delta.
func (p BranchParams) Apply(b *physics.Body) {
	if p.Position != nil {
		b.Position = *p.Position
	}
	if p.DPosition != nil {
		b.Position = b.Position.Add(*p.DPosition)
	}
	if p.Velocity != nil {
		b.Velocity = *p.Velocity
	}
	if p.DVelocity != nil {
		b.Velocity = b.Velocity.Add(*p.DVelocity)
	}
	if p.Mass != nil {
		b.Mass = *p.Mass
	}
	if p.DMass != nil {
		b.Mass += *p.DMass
	}
}

// Materialize builds a new body from the patch alone. Absent values
// default to zero. The body takes the patch's target identity.
func (p BranchParams) Materialize() physics.Body {
	b := physics.Body{ID: p.TargetBody}
	p.Apply(&b)
	return b
}

// ApplyTo applies the patch to its target in u, or appends a
// materialized body when the target is missing.
func (p BranchParams) ApplyTo(u *physics.Universe) {
	if b := u.Body(p.TargetBody); b != nil {
		p.Apply(b)
		return
	}
	u.AddBody(p.Materialize())
}

// Validate rejects non-finite values, which cannot be persisted as JSON.
func (p BranchParams) Validate() error {
	vecs := []struct {
		name string
		v    *physics.Vec3
	}{
		{"position", p.Position},
		{"d_position", p.DPosition},
		{"velocity", p.Velocity},
		{"d_velocity", p.DVelocity},
	}
	for _, f := range vecs {
		if f.v != nil && !f.v.IsFinite() {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidPatch, f.name)
		}
	}
	if !finite(p.Mass) {
		return fmt.Errorf("%w: mass is not finite", ErrInvalidPatch)
	}
	if !finite(p.DMass) {
		return fmt.Errorf("%w: d_mass is not finite", ErrInvalidPatch)
	}
	return nil
}

func finite(f *float64) bool {
	return f == nil || !(math.IsNaN(*f) || math.IsInf(*f, 0))
}

// Clone returns a deep copy of p.
func (p BranchParams) Clone() BranchParams {
	c := p
	c.Position = cloneVec(p.Position)
	c.DPosition = cloneVec(p.DPosition)
	c.Velocity = cloneVec(p.Velocity)
	c.DVelocity = cloneVec(p.DVelocity)
	c.Mass = cloneFloat(p.Mass)
	c.DMass = cloneFloat(p.DMass)
	return c
}

// intakePatches validates and copies caller patches before they are
// stored. A zero target gets a fresh identity here rather than at
// resolution time, so re-deriving the same node always yields the same
// body ids.
func intakePatches(patches []BranchParams, gen handle.Generator) ([]BranchParams, error) {
	out := make([]BranchParams, 0, len(patches))
	for i, p := range patches {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		c := p.Clone()
		if c.TargetBody.IsZero() {
			c.TargetBody = gen.Next()
		}
		out = append(out, c)
	}
	return out, nil
}

func clonePatches(patches []BranchParams) []BranchParams {
	if patches == nil {
		return nil
	}
	out := make([]BranchParams, len(patches))
	for i, p := range patches {
		out[i] = p.Clone()
	}
	return out
}

func cloneVec(v *physics.Vec3) *physics.Vec3 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

// Vec is a convenience for building patches.
func Vec(x, y, z float64) *physics.Vec3 {
	return &physics.Vec3{X: x, Y: y, Z: z}
}

// Float is a convenience for building patches.
func Float(f float64) *float64 {
	return &f
}
