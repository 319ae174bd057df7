package multiverse

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrigorianNick/multiverse-simulator/internal/canon"
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

type testEnv struct {
	backend   store.Backend
	nodes     *store.Objects[Node]
	universes *store.Objects[physics.Universe]
}

func newTestEnv(t *testing.T, backend store.Backend) *testEnv {
	t.Helper()
	nodes, err := store.OpenObjects[Node](backend, store.TableNodes, nil)
	require.NoError(t, err)
	universes, err := store.OpenObjects[physics.Universe](backend, store.TableUniverses, nil)
	require.NoError(t, err)
	return &testEnv{backend: backend, nodes: nodes, universes: universes}
}

func (e *testEnv) open(t *testing.T, opts ...Option) *Multiverse {
	t.Helper()
	opts = append([]Option{
		WithStepper(physics.Drift{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	m, err := Open(context.Background(), e.nodes, e.universes, opts...)
	require.NoError(t, err)
	return m
}

func (e *testEnv) cached(t *testing.T, m *Multiverse, h handle.Handle) bool {
	t.Helper()
	n, found, err := m.GetNode(context.Background(), h)
	require.NoError(t, err)
	require.True(t, found)
	_, ok, err := e.universes.Get(context.Background(), m.cacheKey(n))
	require.NoError(t, err)
	return ok
}

func mustUniverse(t *testing.T, m *Multiverse, h handle.Handle) physics.Universe {
	t.Helper()
	u, found, err := m.GetUniverse(context.Background(), h)
	require.NoError(t, err)
	require.True(t, found)
	return u
}

func TestOpen_SynthesizesDefaultRoot(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	require.False(t, m.Root().IsZero())
	assert.Equal(t, []handle.Handle{m.Root()}, m.GetNodes(context.Background()))

	u := mustUniverse(t, m, m.Root())
	require.Equal(t, 1, u.Len())
	b := u.Bodies[0]
	assert.False(t, b.ID.IsZero())
	assert.Equal(t, physics.Vec3{X: 1, Y: 2, Z: 0}, b.Position)
	assert.Equal(t, physics.Vec3{Z: 0.1}, b.Velocity)
	assert.Equal(t, 1.0, b.Mass)
}

func TestOpen_UsesSeed(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	a, b := handle.Sequential(1, 1), handle.Sequential(1, 2)
	m := env.open(t, WithSeed([]BranchParams{
		{TargetBody: a, Mass: Float(5)},
		{TargetBody: b, Position: Vec(3, 0, 0), Mass: Float(1)},
	}))

	u := mustUniverse(t, m, m.Root())
	require.Equal(t, 2, u.Len())
	assert.Equal(t, a, u.Bodies[0].ID)
	assert.Equal(t, b, u.Bodies[1].ID)
	assert.Equal(t, 3.0, u.Bodies[1].Position.X)
}

func TestOpen_ReloadsExistingGraph(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m1 := env.open(t)
	child, err := m1.Advance(ctx, m1.Root(), 3)
	require.NoError(t, err)

	m2 := env.open(t)
	assert.Equal(t, m1.Root(), m2.Root())
	assert.ElementsMatch(t, []handle.Handle{m1.Root(), child}, m2.GetNodes(ctx))

	handles, err := env.nodes.Handles(ctx)
	require.NoError(t, err)
	assert.Len(t, handles, 2)
}

func TestOpen_MultipleRootsMalformed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	for i := 0; i < 2; i++ {
		_, err := env.nodes.Save(ctx, Node{Children: []handle.Handle{}, Universe: handle.New()})
		require.NoError(t, err)
	}

	_, err := Open(ctx, env.nodes, env.universes)
	require.Error(t, err)
	assert.True(t, store.IsMalformed(err))
}

func TestOpen_DanglingParentMalformed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	_, err := env.nodes.Save(ctx, Node{Children: []handle.Handle{}, Universe: handle.New()})
	require.NoError(t, err)
	_, err = env.nodes.Save(ctx, Node{Parent: handle.New(), Children: []handle.Handle{}, Universe: handle.New()})
	require.NoError(t, err)

	_, err = Open(ctx, env.nodes, env.universes)
	assert.True(t, store.IsMalformed(err))
}

func TestOpen_MissingCacheHandleMalformed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	_, err := env.nodes.Save(ctx, Node{Children: []handle.Handle{}})
	require.NoError(t, err)

	_, err = Open(ctx, env.nodes, env.universes)
	assert.True(t, store.IsMalformed(err))
}

func TestOpen_RepairsUnlinkedChild(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	// A child persisted before a crash prevented its parent from linking it.
	orphan, err := env.nodes.Save(ctx, Node{Parent: m.Root(), Children: []handle.Handle{}, Universe: handle.New(), RelativeAge: 2})
	require.NoError(t, err)

	m = env.open(t)
	root, found, err := m.GetNode(ctx, m.Root())
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, root.Children, orphan)

	stored, _, err := env.nodes.Get(ctx, m.Root())
	require.NoError(t, err)
	assert.Contains(t, stored.Children, orphan)
}

func TestAdvance_CreatesSuccessor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)
	root := m.Root()

	next, err := m.Advance(ctx, root, 10)
	require.NoError(t, err)
	assert.NotEqual(t, root, next)

	parent, _, err := m.GetNode(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, next, parent.Next)
	assert.Empty(t, parent.Children)

	child, _, err := m.GetNode(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, root, child.Parent)
	assert.Empty(t, child.Delta)
	assert.Equal(t, 10, child.RelativeAge)

	u := mustUniverse(t, m, next)
	assert.InDelta(t, 1.0, u.Bodies[0].Position.Z, 1e-12)

	stored, found, err := env.nodes.Get(ctx, root)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, next, stored.Next)
}

func TestAdvance_TwiceKeepsPreviousSuccessorLinked(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	root := m.Root()

	first, err := m.Advance(ctx, root, 1)
	require.NoError(t, err)
	second, err := m.Advance(ctx, root, 2)
	require.NoError(t, err)

	links, found, err := m.GetChildren(ctx, root)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second, links.Next)
	assert.Equal(t, []handle.Handle{first}, links.Children)
	assertTreeInvariant(t, m)
}

func TestAdvance_ZeroDurationSharesState(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)

	next, err := m.Advance(ctx, m.Root(), 0)
	require.NoError(t, err)
	assert.Equal(t, mustUniverse(t, m, m.Root()), mustUniverse(t, m, next))
}

func TestBranch_AppliesPatches(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	root := m.Root()
	body := mustUniverse(t, m, root).Bodies[0].ID
	newcomer := handle.Sequential(8, 1)

	child, err := m.Branch(ctx, root, 2, []BranchParams{
		{TargetBody: body, DVelocity: Vec(0.5, 0, 0)},
		{TargetBody: newcomer, Position: Vec(0, 0, 0), Mass: Float(2)},
	})
	require.NoError(t, err)

	links, _, err := m.GetChildren(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []handle.Handle{child}, links.Children)
	assert.True(t, links.Next.IsZero())

	u := mustUniverse(t, m, child)
	require.Equal(t, 2, u.Len())
	moved := u.Body(body)
	require.NotNil(t, moved)
	assert.Equal(t, 2.0, moved.Position.X)
	assert.Equal(t, newcomer, u.Bodies[1].ID)
	assert.Equal(t, 2.0, u.Bodies[1].Mass)

	// the parent is unaffected
	assert.Equal(t, 1, mustUniverse(t, m, root).Len())
}

func TestBranch_MaterializedBodyKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	target := handle.Sequential(8, 1)

	child, err := m.Branch(ctx, m.Root(), 0, []BranchParams{{TargetBody: target, Mass: Float(1)}})
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, child, []BranchParams{{TargetBody: target, DMass: Float(4)}}))

	u := mustUniverse(t, m, child)
	require.Equal(t, 2, u.Len())
	assert.Equal(t, 5.0, u.Body(target).Mass)
}

func TestBranch_BlankTargetIsStableAcrossRederivation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	child, err := m.Branch(ctx, m.Root(), 1, []BranchParams{{Mass: Float(3)}})
	require.NoError(t, err)

	first := mustUniverse(t, m, child)
	require.NoError(t, m.invalidate(ctx, m.Root()))
	second := mustUniverse(t, m, child)

	assert.False(t, first.Bodies[1].ID.IsZero())
	assert.Equal(t, first, second)
}

func TestMutations_NotFoundAndInvalidInput(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	unknown := handle.New()

	_, err := m.Advance(ctx, unknown, 1)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = m.Branch(ctx, unknown, 1, nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, m.Update(ctx, unknown, nil), ErrNodeNotFound)

	_, err = m.Advance(ctx, m.Root(), -1)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = m.Branch(ctx, m.Root(), -5, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	assert.Len(t, m.GetNodes(ctx), 1)
}

func TestQueries_NotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	unknown := handle.New()

	_, found, err := m.GetUniverse(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.GetTimeline(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.GetNode(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.GetChildren(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetTimeline_LengthIsDepthPlusOne(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)

	cur := m.Root()
	for i := 0; i < 5; i++ {
		var err error
		if i%2 == 0 {
			cur, err = m.Advance(ctx, cur, 1)
		} else {
			cur, err = m.Branch(ctx, cur, 1, nil)
		}
		require.NoError(t, err)
	}

	depth, found, err := m.Depth(ctx, cur)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, depth)

	timeline, found, err := m.GetTimeline(ctx, cur)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, timeline, depth+1)

	lineage, _, err := m.Lineage(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, m.Root(), lineage[0])
	assert.Equal(t, cur, lineage[len(lineage)-1])

	for i, u := range timeline {
		assert.InDelta(t, 0.1*float64(i), u.Bodies[0].Position.Z, 1e-9)
	}
	assert.Equal(t, mustUniverse(t, m, cur), timeline[len(timeline)-1])

	rootTimeline, _, err := m.GetTimeline(ctx, m.Root())
	require.NoError(t, err)
	assert.Len(t, rootTimeline, 1)
}

func TestResolve_CachesResult(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	next, err := m.Advance(ctx, m.Root(), 4)
	require.NoError(t, err)
	assert.False(t, env.cached(t, m, next))

	u := mustUniverse(t, m, next)
	assert.True(t, env.cached(t, m, next))
	assert.True(t, env.cached(t, m, m.Root()))

	n, _, err := m.GetNode(ctx, next)
	require.NoError(t, err)
	stored, found, err := env.universes.Get(ctx, m.cacheKey(n))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, u, stored)
}

func TestResolve_Deterministic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t, WithStepper(physics.Newtonian{G: 0.05, Timestep: 0.5}), WithSeed([]BranchParams{
		{TargetBody: handle.Sequential(1, 1), Mass: Float(10)},
		{TargetBody: handle.Sequential(1, 2), Position: Vec(3, 0, 0), Velocity: Vec(0, 0.3, 0), Mass: Float(1)},
	}))

	a, err := m.Advance(ctx, m.Root(), 50)
	require.NoError(t, err)
	b, err := m.Branch(ctx, a, 25, []BranchParams{{TargetBody: handle.Sequential(1, 2), DVelocity: Vec(0, 0, 0.1)}})
	require.NoError(t, err)

	first := mustUniverse(t, m, b)
	firstPrint, err := canon.Fingerprint(canon.DomainUniverse, first)
	require.NoError(t, err)

	require.NoError(t, m.invalidate(ctx, m.Root()))
	assert.False(t, env.cached(t, m, b))

	second := mustUniverse(t, m, b)
	secondPrint, err := canon.Fingerprint(canon.DomainUniverse, second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstPrint, secondPrint)
}

func TestUpdate_InvalidatesDescendantsOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)
	root := m.Root()
	body := mustUniverse(t, m, root).Bodies[0].ID

	a, err := m.Advance(ctx, root, 2)
	require.NoError(t, err)
	b, err := m.Branch(ctx, a, 3, nil)
	require.NoError(t, err)
	c, err := m.Branch(ctx, root, 3, nil)
	require.NoError(t, err)

	beforeB := mustUniverse(t, m, b)
	beforeC := mustUniverse(t, m, c)
	for _, h := range []handle.Handle{root, a, b, c} {
		require.True(t, env.cached(t, m, h))
	}

	require.NoError(t, m.Update(ctx, a, []BranchParams{{TargetBody: body, DVelocity: Vec(1, 0, 0)}}))

	assert.True(t, env.cached(t, m, root))
	assert.False(t, env.cached(t, m, a))
	assert.False(t, env.cached(t, m, b))
	assert.True(t, env.cached(t, m, c))

	afterB := mustUniverse(t, m, b)
	afterC := mustUniverse(t, m, c)
	assert.NotEqual(t, beforeB, afterB)
	assert.Equal(t, beforeB.Bodies[0].Position.X+5, afterB.Bodies[0].Position.X)
	assert.Equal(t, beforeC, afterC)

	n, _, err := m.GetNode(ctx, a)
	require.NoError(t, err)
	assert.Len(t, n.Delta, 1)

	stored, _, err := env.nodes.Get(ctx, a)
	require.NoError(t, err)
	assert.Len(t, stored.Delta, 1)
}

func TestUpdate_AppendsInOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	body := mustUniverse(t, m, m.Root()).Bodies[0].ID

	child, err := m.Branch(ctx, m.Root(), 0, []BranchParams{{TargetBody: body, Mass: Float(2)}})
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, child, []BranchParams{{TargetBody: body, Mass: Float(7)}}))
	require.NoError(t, m.Update(ctx, child, []BranchParams{{TargetBody: body, DMass: Float(1)}}))

	assert.Equal(t, 8.0, mustUniverse(t, m, child).Bodies[0].Mass)
}

func TestResolve_RecomputeClearsStaleDependents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	a, err := m.Advance(ctx, m.Root(), 1)
	require.NoError(t, err)
	b, err := m.Advance(ctx, a, 1)
	require.NoError(t, err)
	mustUniverse(t, m, b)

	// Drop only the middle cache entry, as an external cleanup might.
	n, _, err := m.GetNode(ctx, a)
	require.NoError(t, err)
	require.NoError(t, env.universes.Delete(ctx, m.cacheKey(n)))

	// Resolving the root is a hit and leaves b alone.
	mustUniverse(t, m, m.Root())
	assert.True(t, env.cached(t, m, b))

	// Recomputing a clears b, which is derived again on demand.
	mustUniverse(t, m, a)
	assert.False(t, env.cached(t, m, b))
	mustUniverse(t, m, b)
	assert.True(t, env.cached(t, m, b))
}

func TestTreeInvariant_HoldsAfterMixedOperations(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)

	frontier := []handle.Handle{m.Root()}
	for i := 0; i < 12; i++ {
		parent := frontier[i%len(frontier)]
		var (
			h   handle.Handle
			err error
		)
		switch i % 3 {
		case 0:
			h, err = m.Advance(ctx, parent, i)
		case 1:
			h, err = m.Branch(ctx, parent, i, []BranchParams{{DMass: Float(1)}})
		default:
			err = m.Update(ctx, parent, []BranchParams{{Mass: Float(2)}})
		}
		require.NoError(t, err)
		if !h.IsZero() {
			frontier = append(frontier, h)
		}
	}

	assertTreeInvariant(t, m)
}

func TestGetNode_ReadsThroughToStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	// Written by another process sharing the store.
	h, err := env.nodes.Save(ctx, Node{Parent: m.Root(), Children: []handle.Handle{}, Universe: handle.New(), RelativeAge: 1})
	require.NoError(t, err)

	n, found, err := m.GetNode(ctx, h)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, m.Root(), n.Parent)
	assert.Contains(t, m.GetNodes(ctx), h)
}

func TestGetNode_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t)
	child, err := m.Branch(ctx, m.Root(), 1, nil)
	require.NoError(t, err)

	n, _, err := m.GetNode(ctx, m.Root())
	require.NoError(t, err)
	n.Children[0] = handle.New()

	again, _, err := m.GetNode(ctx, m.Root())
	require.NoError(t, err)
	assert.Equal(t, child, again.Children[0])
}

func TestResolve_CycleIsMalformed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	a, b := handle.New(), handle.New()
	require.NoError(t, env.nodes.SaveHandle(ctx, Node{Parent: b, Children: []handle.Handle{}, Universe: handle.New()}, a))
	require.NoError(t, env.nodes.SaveHandle(ctx, Node{Parent: a, Children: []handle.Handle{}, Universe: handle.New()}, b))

	_, _, err := m.GetUniverse(ctx, a)
	require.Error(t, err)
	assert.True(t, store.IsMalformed(err))

	_, _, err = m.GetTimeline(ctx, a)
	assert.True(t, store.IsMalformed(err))
}

func TestResolve_MalformedCachedUniverse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)

	n, _, err := m.GetNode(ctx, m.Root())
	require.NoError(t, err)
	kv, err := env.backend.Table(store.TableUniverses)
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, m.cacheKey(n).String(), []byte(`{"bodies":"nope"}`)))

	_, _, err = m.GetUniverse(ctx, m.Root())
	require.Error(t, err)
	assert.True(t, store.IsMalformed(err))
}

// failingNodes fails SaveHandle for one handle.
type failingNodes struct {
	store.ObjectStore[Node]
	fail handle.Handle
}

func (f failingNodes) SaveHandle(ctx context.Context, v Node, h handle.Handle) error {
	if h == f.fail {
		return store.Unavailable("put", store.TableNodes, h.String(), assert.AnError)
	}
	return f.ObjectStore.SaveHandle(ctx, v, h)
}

// flakyUniverses fails every Delete once the first allow calls have
// succeeded, until healed.
type flakyUniverses struct {
	store.ObjectStore[physics.Universe]
	allow   int
	calls   int
	healthy bool
}

func (f *flakyUniverses) Delete(ctx context.Context, h handle.Handle) error {
	f.calls++
	if !f.healthy && f.calls > f.allow {
		return store.Unavailable("delete", store.TableUniverses, h.String(), assert.AnError)
	}
	return f.ObjectStore.Delete(ctx, h)
}

func TestUpdate_PartialInvalidationFailureIsRecoverable(t *testing.T) {
	for allow := 0; allow < 3; allow++ {
		ctx := context.Background()
		env := newTestEnv(t, store.NewMemory())
		root := env.open(t).Root()

		flaky := &flakyUniverses{ObjectStore: env.universes, allow: allow}
		m, err := Open(ctx, env.nodes, flaky, WithStepper(physics.Drift{}),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		require.NoError(t, err)
		body := mustUniverse(t, m, root).Bodies[0].ID

		c, err := m.Advance(ctx, root, 1)
		require.NoError(t, err)
		g, err := m.Advance(ctx, c, 1)
		require.NoError(t, err)
		before := mustUniverse(t, m, g)
		flaky.calls = 0

		patch := []BranchParams{{TargetBody: body, DPosition: Vec(10, 0, 0)}}
		err = m.Update(ctx, root, patch)
		require.Error(t, err, "allow=%d", allow)
		assert.True(t, store.IsUnavailable(err))

		// The failed update changed nothing observable.
		n, _, err := m.GetNode(ctx, root)
		require.NoError(t, err)
		assert.Len(t, n.Delta, 1)
		for _, h := range []handle.Handle{c, g} {
			if env.cached(t, m, h) {
				parent, _, err := m.GetNode(ctx, h)
				require.NoError(t, err)
				assert.True(t, env.cached(t, m, parent.Parent), "allow=%d", allow)
			}
		}
		assert.Equal(t, before, mustUniverse(t, m, g))

		flaky.healthy = true
		require.NoError(t, m.Update(ctx, root, patch))
		for _, h := range []handle.Handle{root, c, g} {
			assert.False(t, env.cached(t, m, h))
		}
		after := mustUniverse(t, m, g)
		assert.Equal(t, before.Bodies[0].Position.X+10, after.Bodies[0].Position.X)
		assert.Equal(t, after, mustUniverse(t, m, g))
	}
}

func TestInvalidate_DeletesLeavesFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	root := env.open(t).Root()

	flaky := &flakyUniverses{ObjectStore: env.universes, allow: 1}
	m, err := Open(ctx, env.nodes, flaky, WithStepper(physics.Drift{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	c, err := m.Advance(ctx, root, 1)
	require.NoError(t, err)
	g, err := m.Advance(ctx, c, 1)
	require.NoError(t, err)
	mustUniverse(t, m, g)
	flaky.calls = 0

	require.Error(t, m.invalidate(ctx, root))
	assert.False(t, env.cached(t, m, g))
	assert.True(t, env.cached(t, m, c))
	assert.True(t, env.cached(t, m, root))
}

func TestResolve_NonFiniteStateIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t)
	body := mustUniverse(t, m, m.Root()).Bodies[0].ID

	overflow, err := m.Branch(ctx, m.Root(), 0, []BranchParams{{TargetBody: body, Mass: Float(1e308), DMass: Float(1e308)}})
	require.NoError(t, err)
	below, err := m.Advance(ctx, overflow, 1)
	require.NoError(t, err)

	for _, h := range []handle.Handle{overflow, below} {
		_, _, err = m.GetUniverse(ctx, h)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNonFiniteState)
		assert.False(t, store.IsMalformed(err))
		assert.False(t, env.cached(t, m, h))
	}
	_, _, err = m.GetTimeline(ctx, below)
	assert.ErrorIs(t, err, ErrNonFiniteState)

	// Siblings are unaffected.
	ok, err := m.Advance(ctx, m.Root(), 1)
	require.NoError(t, err)
	mustUniverse(t, m, ok)
}

func TestResolve_NonFiniteAfterStepping(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	m := env.open(t, WithStepper(physics.StepperFunc(func(u *physics.Universe) {
		for i := range u.Bodies {
			u.Bodies[i].Velocity = u.Bodies[i].Velocity.Scale(1e200)
		}
	})))

	a, err := m.Advance(ctx, m.Root(), 3)
	require.NoError(t, err)
	mustUniverse(t, m, m.Root())

	_, _, err = m.GetUniverse(ctx, a)
	assert.ErrorIs(t, err, ErrNonFiniteState)
	assert.False(t, env.cached(t, m, a))
}

func TestMutations_DurationBound(t *testing.T) {
	ctx := context.Background()
	m := newTestEnv(t, store.NewMemory()).open(t, WithMaxDuration(100))

	_, err := m.Advance(ctx, m.Root(), 101)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = m.Branch(ctx, m.Root(), 1000, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.Len(t, m.GetNodes(ctx), 1)

	_, err = m.Advance(ctx, m.Root(), 100)
	assert.NoError(t, err)

	unbounded := newTestEnv(t, store.NewMemory()).open(t, WithMaxDuration(0))
	_, err = unbounded.Advance(ctx, unbounded.Root(), DefaultMaxDuration+1)
	assert.NoError(t, err)
}

func TestResolve_StepperConfigChangeIgnoresOldCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	seed := WithSeed([]BranchParams{
		{TargetBody: handle.Sequential(1, 1), Mass: Float(10)},
		{TargetBody: handle.Sequential(1, 2), Position: Vec(3, 0, 0), Mass: Float(1)},
	})

	weak := env.open(t, seed, WithStepper(physics.Newtonian{G: 0.01, Timestep: 1}))
	a, err := weak.Advance(ctx, weak.Root(), 5)
	require.NoError(t, err)
	weakState := mustUniverse(t, weak, a)
	assert.True(t, env.cached(t, weak, a))

	strong := env.open(t, seed, WithStepper(physics.Newtonian{G: 0.5, Timestep: 1}))
	assert.False(t, env.cached(t, strong, a))
	strongState := mustUniverse(t, strong, a)
	assert.NotEqual(t, weakState, strongState)

	again := env.open(t, seed, WithStepper(physics.Newtonian{G: 0.01, Timestep: 1}))
	assert.True(t, env.cached(t, again, a))
	assert.Equal(t, weakState, mustUniverse(t, again, a))
}

func TestSpawn_ParentWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, store.NewMemory())
	root := env.open(t).Root()

	m, err := Open(ctx, failingNodes{ObjectStore: env.nodes, fail: root}, env.universes,
		WithStepper(physics.Drift{}))
	require.NoError(t, err)

	_, err = m.Branch(ctx, root, 1, nil)
	require.Error(t, err)
	assert.True(t, store.IsUnavailable(err))

	handles, err := env.nodes.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []handle.Handle{root}, handles)
	assert.Equal(t, []handle.Handle{root}, m.GetNodes(ctx))

	n, _, err := m.GetNode(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, n.Children)
}

func TestMultiverse_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "multiverse.db")

	backend, err := store.OpenSQLite(path)
	require.NoError(t, err)
	env := newTestEnv(t, backend)
	m := env.open(t)
	a, err := m.Advance(ctx, m.Root(), 5)
	require.NoError(t, err)
	b, err := m.Branch(ctx, a, 5, []BranchParams{{Mass: Float(2), Position: Vec(-1, 0, 0)}})
	require.NoError(t, err)
	want, _, err := m.GetTimeline(ctx, b)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer backend.Close()
	env = newTestEnv(t, backend)
	m = env.open(t)
	assert.True(t, env.cached(t, m, b))

	got, found, err := m.GetTimeline(ctx, b)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestMultiverse_BadgerBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := store.OpenBadger(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	defer backend.Close()

	m := newTestEnv(t, backend).open(t)
	a, err := m.Advance(ctx, m.Root(), 10)
	require.NoError(t, err)

	u := mustUniverse(t, m, a)
	assert.InDelta(t, 1.0, u.Bodies[0].Position.Z, 1e-12)
}

// assertTreeInvariant checks that every non-root node is linked from
// exactly its parent and that exactly one node is parentless.
func assertTreeInvariant(t *testing.T, m *Multiverse) {
	t.Helper()
	ctx := context.Background()

	roots := 0
	incoming := make(map[handle.Handle]int)
	for _, h := range m.GetNodes(ctx) {
		n, found, err := m.GetNode(ctx, h)
		require.NoError(t, err)
		require.True(t, found)
		if n.IsRoot() {
			roots++
		}
		for _, d := range n.Dependents() {
			incoming[d]++
			child, _, err := m.GetNode(ctx, d)
			require.NoError(t, err)
			assert.Equal(t, h, child.Parent, "dependent %s of %s names another parent", d, h)
		}
	}
	assert.Equal(t, 1, roots)

	for _, h := range m.GetNodes(ctx) {
		n, _, err := m.GetNode(ctx, h)
		require.NoError(t, err)
		if n.IsRoot() {
			assert.Zero(t, incoming[h])
		} else {
			assert.Equal(t, 1, incoming[h], "node %s", h)
		}
	}
}

// TestBranch_TwoBodyMatchesEulerIntegration seeds one body at rest at the
// origin, branches in a second body and compares five Newtonian ticks with
// a hand-rolled semi-implicit Euler loop.
func TestBranch_TwoBodyMatchesEulerIntegration(t *testing.T) {
	ctx := context.Background()
	anchor := handle.Sequential(8, 1)
	visitor := handle.Sequential(8, 2)
	const (
		g  = 1.0
		d  = 4.0
		vy = 0.25
	)

	m := newTestEnv(t, store.NewMemory()).open(t,
		WithStepper(physics.Newtonian{G: g, Timestep: 1}),
		WithSeed([]BranchParams{{TargetBody: anchor, Position: Vec(0, 0, 0), Velocity: Vec(0, 0, 0), Mass: Float(1)}}),
	)

	same, err := m.Advance(ctx, m.Root(), 0)
	require.NoError(t, err)
	assert.Equal(t, mustUniverse(t, m, m.Root()), mustUniverse(t, m, same))

	child, err := m.Branch(ctx, m.Root(), 5, []BranchParams{
		{TargetBody: visitor, Position: Vec(d, 0, 0), Velocity: Vec(0, vy, 0), Mass: Float(1)},
	})
	require.NoError(t, err)

	// Reference: two unit masses, positions p, velocities v.
	p := [2][2]float64{{0, 0}, {d, 0}}
	v := [2][2]float64{{0, 0}, {0, vy}}
	for range 5 {
		dx, dy := p[1][0]-p[0][0], p[1][1]-p[0][1]
		r2 := dx*dx + dy*dy
		f := g / (r2 * math.Sqrt(r2))
		v[0][0] += dx * f
		v[0][1] += dy * f
		v[1][0] -= dx * f
		v[1][1] -= dy * f
		for i := range p {
			p[i][0] += v[i][0]
			p[i][1] += v[i][1]
		}
	}

	u := mustUniverse(t, m, child)
	require.Equal(t, 2, u.Len())
	for i, id := range []handle.Handle{anchor, visitor} {
		b := u.Body(id)
		require.NotNil(t, b)
		assert.InDelta(t, p[i][0], b.Position.X, 1e-12, "body %d x", i)
		assert.InDelta(t, p[i][1], b.Position.Y, 1e-12, "body %d y", i)
		assert.InDelta(t, v[i][0], b.Velocity.X, 1e-12, "body %d vx", i)
		assert.InDelta(t, v[i][1], b.Velocity.Y, 1e-12, "body %d vy", i)
		assert.Zero(t, b.Position.Z)
	}
}
