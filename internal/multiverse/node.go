package multiverse

import (
	"fmt"
	"slices"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
)

// Node is one timeline in the multiverse tree.
type Node struct {
	// Parent is zero for the root only.
	Parent handle.Handle `json:"parent,omitzero"`

	// Delta is applied, in order, to the parent's resolved state.
	Delta []BranchParams `json:"delta,omitempty"`

	// Next is the canonical successor created by Advance.
	Next handle.Handle `json:"next,omitzero"`

	// Children are the branch points created by Branch.
	Children []handle.Handle `json:"children"`

	// Universe is the state-cache handle. Assigned once at creation.
	Universe handle.Handle `json:"universe"`

	// RelativeAge is the number of ticks this node advances past its
	// patched parent state.
	RelativeAge int `json:"relative_age"`
}

// IsRoot reports whether n has no parent.
func (n Node) IsRoot() bool {
	return n.Parent.IsZero()
}

// Dependents returns every node whose derivation reads n directly:
// children followed by the successor.
func (n Node) Dependents() []handle.Handle {
	deps := slices.Clone(n.Children)
	if !n.Next.IsZero() {
		deps = append(deps, n.Next)
	}
	return deps
}

// Links reports whether h is a child or the successor of n.
func (n Node) Links(h handle.Handle) bool {
	return n.Next == h || slices.Contains(n.Children, h)
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	c := n
	c.Delta = clonePatches(n.Delta)
	c.Children = slices.Clone(n.Children)
	if c.Children == nil {
		c.Children = []handle.Handle{}
	}
	return c
}

// check reports structural problems in a node loaded from the store.
func (n Node) check() error {
	if n.Universe.IsZero() {
		return fmt.Errorf("missing state-cache handle")
	}
	if n.RelativeAge < 0 {
		return fmt.Errorf("negative relative age %d", n.RelativeAge)
	}
	return nil
}
