// Package physics holds the simulation state carried by every node of the
// multiverse and the deterministic steppers that advance it.
//
// A Universe is an ordered set of bodies. Advancing a universe by n ticks
// calls Stepper.Step n times; steppers must be deterministic so that the
// same starting state and tick count always produce bit-identical results.
package physics
