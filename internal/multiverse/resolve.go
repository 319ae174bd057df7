package multiverse

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

const tracerName = "github.com/GrigorianNick/multiverse-simulator/internal/multiverse"

// GetUniverse returns the resolved universe of h.
func (m *Multiverse) GetUniverse(ctx context.Context, h handle.Handle) (physics.Universe, bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "multiverse.GetUniverse",
		trace.WithAttributes(attribute.String("node", h.String())),
	)
	defer span.End()

	if _, found, err := m.node(ctx, h); err != nil || !found {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "node lookup failed")
		}
		return physics.Universe{}, false, err
	}

	u, err := m.resolve(ctx, h)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return physics.Universe{}, false, err
	}
	return u, true, nil
}

// GetTimeline returns the resolved universes from the root down to h
// inclusive. Its length is the depth of h plus one.
func (m *Multiverse) GetTimeline(ctx context.Context, h handle.Handle) ([]physics.Universe, bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "multiverse.GetTimeline",
		trace.WithAttributes(attribute.String("node", h.String())),
	)
	defer span.End()

	path, found, err := m.Lineage(ctx, h)
	if err != nil || !found {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lineage failed")
		}
		return nil, false, err
	}
	span.SetAttributes(attribute.Int("depth", len(path)-1))

	timeline := make([]physics.Universe, 0, len(path))
	for _, step := range path {
		u, err := m.resolve(ctx, step)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
			return nil, false, err
		}
		timeline = append(timeline, u)
	}
	return timeline, true, nil
}

// resolve returns the universe of h, deriving and caching it on a miss.
func (m *Multiverse) resolve(ctx context.Context, h handle.Handle) (physics.Universe, error) {
	start := time.Now()
	defer func() { resolveDuration.Observe(time.Since(start).Seconds()) }()

	return m.resolveFrom(ctx, h, make(map[handle.Handle]bool))
}

func (m *Multiverse) resolveFrom(ctx context.Context, h handle.Handle, visiting map[handle.Handle]bool) (physics.Universe, error) {
	if visiting[h] {
		return physics.Universe{}, cycleError(h)
	}
	visiting[h] = true

	n, found, err := m.node(ctx, h)
	if err != nil {
		return physics.Universe{}, err
	}
	if !found {
		return physics.Universe{}, danglingError(h)
	}

	key := m.cacheKey(n)
	cached, hit, err := m.universes.Get(ctx, key)
	if err != nil {
		return physics.Universe{}, fmt.Errorf("read cached universe of %s: %w", h, err)
	}
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	var u physics.Universe
	if n.IsRoot() {
		u = physics.NewUniverse()
	} else {
		u, err = m.resolveFrom(ctx, n.Parent, visiting)
		if err != nil {
			return physics.Universe{}, err
		}
	}

	for _, p := range n.Delta {
		p.ApplyTo(&u)
	}
	if !u.IsFinite() {
		return physics.Universe{}, fmt.Errorf("resolve %s: patches: %w", h, ErrNonFiniteState)
	}
	u.Advance(m.stepper, n.RelativeAge)
	if !u.IsFinite() {
		return physics.Universe{}, fmt.Errorf("resolve %s: after %d ticks: %w", h, n.RelativeAge, ErrNonFiniteState)
	}

	if err := m.universes.SaveHandle(ctx, u, key); err != nil {
		return physics.Universe{}, fmt.Errorf("cache universe of %s: %w", h, err)
	}
	if err := m.clearBelow(ctx, n); err != nil {
		return physics.Universe{}, fmt.Errorf("clear dependents of %s: %w", h, err)
	}

	m.logger.Debug("universe resolved",
		"node", h.String(),
		"bodies", u.Len(),
		"ticks", n.RelativeAge,
	)
	return u, nil
}

// clearBelow deletes cached universes downstream of a freshly derived node.
//
// Entries are deleted leaves first, so a node is only ever cached while
// its parent is. A dependent without a cached universe therefore has no
// cached descendants and the walk stops there.
func (m *Multiverse) clearBelow(ctx context.Context, n Node) error {
	var doomed []handle.Handle
	stack := n.Dependents()
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dep, found, err := m.node(ctx, h)
		if err != nil {
			return err
		}
		if !found {
			return danglingError(h)
		}

		_, cached, err := m.universes.Get(ctx, m.cacheKey(dep))
		if err != nil {
			return err
		}
		if !cached {
			continue
		}
		doomed = append(doomed, h)
		stack = append(stack, dep.Dependents()...)
	}
	return m.evict(ctx, doomed)
}

// invalidate deletes the cached universe of h and of every descendant,
// visiting the whole subtree. Deletion runs leaves first.
func (m *Multiverse) invalidate(ctx context.Context, h handle.Handle) error {
	var doomed []handle.Handle
	stack := []handle.Handle{h}
	seen := make(map[handle.Handle]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			return cycleError(cur)
		}
		seen[cur] = true

		n, found, err := m.node(ctx, cur)
		if err != nil {
			return err
		}
		if !found {
			return danglingError(cur)
		}
		doomed = append(doomed, cur)
		stack = append(stack, n.Dependents()...)
	}
	return m.evict(ctx, doomed)
}

// evict deletes the cached universes of handles in reverse order. Callers
// list every node before its descendants.
func (m *Multiverse) evict(ctx context.Context, handles []handle.Handle) error {
	for i := len(handles) - 1; i >= 0; i-- {
		n, found, err := m.node(ctx, handles[i])
		if err != nil {
			return err
		}
		if !found {
			return danglingError(handles[i])
		}
		if err := m.universes.Delete(ctx, m.cacheKey(n)); err != nil {
			return err
		}
		cacheInvalidations.Inc()
	}
	return nil
}

func cycleError(h handle.Handle) error {
	return store.Malformed("resolve", store.TableNodes, h.String(), fmt.Errorf("node graph contains a cycle"))
}

func danglingError(h handle.Handle) error {
	return store.Malformed("resolve", store.TableNodes, h.String(), fmt.Errorf("referenced node does not exist"))
}
