package multiverse

import (
	"context"
	"fmt"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
)

// Advance creates the canonical successor of h, aged duration ticks past
// h, and returns its handle.
//
// If h already had a successor, the previous one is kept as a child of h
// so it remains linked into the tree.
func (m *Multiverse) Advance(ctx context.Context, h handle.Handle, duration int) (handle.Handle, error) {
	if err := m.checkDuration(duration); err != nil {
		return handle.Nil, fmt.Errorf("advance %s: %w", h, err)
	}
	return m.spawn(ctx, h, duration, nil, true)
}

// Branch creates a child of h carrying patches, aged duration ticks past
// the patched state of h, and returns its handle.
func (m *Multiverse) Branch(ctx context.Context, h handle.Handle, duration int, patches []BranchParams) (handle.Handle, error) {
	if err := m.checkDuration(duration); err != nil {
		return handle.Nil, fmt.Errorf("branch %s: %w", h, err)
	}
	delta, err := intakePatches(patches, m.gen)
	if err != nil {
		return handle.Nil, fmt.Errorf("branch %s: %w", h, err)
	}
	return m.spawn(ctx, h, duration, delta, false)
}

func (m *Multiverse) checkDuration(duration int) error {
	if duration < 0 {
		return fmt.Errorf("%w: %d is negative", ErrInvalidDuration, duration)
	}
	if m.maxTicks > 0 && duration > m.maxTicks {
		return fmt.Errorf("%w: %d exceeds the maximum of %d", ErrInvalidDuration, duration, m.maxTicks)
	}
	return nil
}

// spawn persists a new node under parent h and links it.
// The child is written before the parent. If the parent write fails the
// child is deleted again and the map is untouched.
func (m *Multiverse) spawn(ctx context.Context, h handle.Handle, duration int, delta []BranchParams, successor bool) (handle.Handle, error) {
	op := "branch"
	if successor {
		op = "advance"
	}

	parent, found, err := m.node(ctx, h)
	if err != nil {
		return handle.Nil, fmt.Errorf("%s %s: %w", op, h, err)
	}
	if !found {
		return handle.Nil, fmt.Errorf("%s %s: %w", op, h, ErrNodeNotFound)
	}

	child := Node{
		Parent:      h,
		Delta:       delta,
		Children:    []handle.Handle{},
		Universe:    m.gen.Next(),
		RelativeAge: duration,
	}
	ch, err := m.nodeStore.Save(ctx, child)
	if err != nil {
		return handle.Nil, fmt.Errorf("%s %s: persist child: %w", op, h, err)
	}

	linked := parent.Clone()
	if successor {
		if !linked.Next.IsZero() {
			linked.Children = append(linked.Children, linked.Next)
		}
		linked.Next = ch
	} else {
		linked.Children = append(linked.Children, ch)
	}

	if err := m.nodeStore.SaveHandle(ctx, linked, h); err != nil {
		if derr := m.nodeStore.Delete(ctx, ch); derr != nil {
			m.logger.Error("orphaned child left in store",
				"parent", h.String(),
				"child", ch.String(),
				"error", derr,
			)
		}
		return handle.Nil, fmt.Errorf("%s %s: persist parent: %w", op, h, err)
	}

	m.nodes[h] = linked
	m.nodes[ch] = child
	nodeCount.Set(float64(len(m.nodes)))

	m.logger.Debug("node created",
		"op", op,
		"parent", h.String(),
		"node", ch.String(),
		"duration", duration,
		"patches", len(delta),
	)
	return ch, nil
}

// Update appends patches to h and deletes the cached universes of h and
// every descendant. Nothing is recomputed until it is next read.
//
// The caches are cleared before the new delta is written. If either step
// fails the node keeps its previous delta, every remaining cache entry is
// still correct for it, and the update can be retried.
func (m *Multiverse) Update(ctx context.Context, h handle.Handle, patches []BranchParams) error {
	n, found, err := m.node(ctx, h)
	if err != nil {
		return fmt.Errorf("update %s: %w", h, err)
	}
	if !found {
		return fmt.Errorf("update %s: %w", h, ErrNodeNotFound)
	}

	delta, err := intakePatches(patches, m.gen)
	if err != nil {
		return fmt.Errorf("update %s: %w", h, err)
	}

	if err := m.invalidate(ctx, h); err != nil {
		return fmt.Errorf("update %s: %w", h, err)
	}

	updated := n.Clone()
	updated.Delta = append(updated.Delta, delta...)
	if err := m.nodeStore.SaveHandle(ctx, updated, h); err != nil {
		return fmt.Errorf("update %s: %w", h, err)
	}
	m.nodes[h] = updated

	m.logger.Debug("node updated", "node", h.String(), "patches", len(delta))
	return nil
}

// GetNode returns a copy of the node at h.
func (m *Multiverse) GetNode(ctx context.Context, h handle.Handle) (Node, bool, error) {
	n, found, err := m.node(ctx, h)
	if err != nil || !found {
		return Node{}, found, err
	}
	return n.Clone(), true, nil
}

// GetNodes returns every known node handle in string order.
func (m *Multiverse) GetNodes(context.Context) []handle.Handle {
	return m.sortedHandles()
}

// Links are the direct dependents of a node.
type Links struct {
	Children []handle.Handle `json:"children"`
	Next     handle.Handle   `json:"next,omitzero"`
}

// GetChildren returns the branch children and successor of h.
func (m *Multiverse) GetChildren(ctx context.Context, h handle.Handle) (Links, bool, error) {
	n, found, err := m.node(ctx, h)
	if err != nil || !found {
		return Links{}, found, err
	}
	c := n.Clone()
	return Links{Children: c.Children, Next: c.Next}, true, nil
}

// Lineage returns the handles from the root down to h inclusive.
func (m *Multiverse) Lineage(ctx context.Context, h handle.Handle) ([]handle.Handle, bool, error) {
	var (
		path []handle.Handle
		seen = make(map[handle.Handle]bool)
	)
	for cur := h; ; {
		if seen[cur] {
			return nil, false, cycleError(cur)
		}
		seen[cur] = true

		n, found, err := m.node(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		if !found {
			if cur == h {
				return nil, false, nil
			}
			return nil, false, danglingError(cur)
		}

		path = append(path, cur)
		if n.IsRoot() {
			break
		}
		cur = n.Parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true, nil
}

// Depth returns the number of edges between the root and h.
func (m *Multiverse) Depth(ctx context.Context, h handle.Handle) (int, bool, error) {
	path, found, err := m.Lineage(ctx, h)
	if err != nil || !found {
		return 0, found, err
	}
	return len(path) - 1, true, nil
}
