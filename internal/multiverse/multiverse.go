package multiverse

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

// Multiverse is the node graph plus its two stores.
type Multiverse struct {
	root      handle.Handle
	nodes     map[handle.Handle]Node
	nodeStore store.ObjectStore[Node]
	universes store.ObjectStore[physics.Universe]
	stepper   physics.Stepper
	gen       handle.Generator
	seed      []BranchParams
	maxTicks  int
	cacheSalt string
	logger    *slog.Logger
}

// Option configures a Multiverse.
type Option func(*Multiverse)

// WithStepper sets the physics stepper. Default: physics.NewNewtonian().
func WithStepper(s physics.Stepper) Option {
	return func(m *Multiverse) {
		m.stepper = s
	}
}

// WithGenerator sets the generator for state-cache handles and for patch
// targets left blank by callers. Default: random handles.
func WithGenerator(g handle.Generator) Option {
	return func(m *Multiverse) {
		m.gen = g
	}
}

// WithSeed sets the patch list of a synthesized root. It is only used when
// the node store is empty. Default: DefaultSeed().
func WithSeed(patches []BranchParams) Option {
	return func(m *Multiverse) {
		m.seed = clonePatches(patches)
	}
}

// WithMaxDuration bounds the duration accepted by Advance and Branch.
// Zero or negative means unbounded. Default: DefaultMaxDuration.
func WithMaxDuration(ticks int) Option {
	return func(m *Multiverse) {
		m.maxTicks = ticks
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Multiverse) {
		m.logger = l
	}
}

// DefaultMaxDuration is the default bound on a single Advance or Branch.
const DefaultMaxDuration = 1_000_000

// DefaultSeed materializes a single unit-mass body at (1, 2, 0) drifting
// along z.
func DefaultSeed() []BranchParams {
	return []BranchParams{{
		Position: Vec(1, 2, 0),
		Velocity: Vec(0, 0, 0.1),
		Mass:     Float(1),
	}}
}

// Open bootstraps a Multiverse from the node store.
//
// Every stored node is loaded. The unique parentless node becomes the
// root. An empty store gets a synthesized root whose patches are the seed.
// Children that were persisted without being linked into their parent are
// linked now.
func Open(ctx context.Context, nodes store.ObjectStore[Node], universes store.ObjectStore[physics.Universe], opts ...Option) (*Multiverse, error) {
	m := &Multiverse{
		nodes:     make(map[handle.Handle]Node),
		nodeStore: nodes,
		universes: universes,
		stepper:   physics.NewNewtonian(),
		gen:       handle.UUIDv4Generator{},
		maxTicks:  DefaultMaxDuration,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if f, ok := m.stepper.(physics.Fingerprinter); ok {
		m.cacheSalt = f.Fingerprint()
	}
	if m.seed == nil {
		m.seed = DefaultSeed()
	}

	handles, err := m.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}

	if len(handles) == 0 {
		if err := m.synthesizeRoot(ctx); err != nil {
			return nil, fmt.Errorf("synthesize root: %w", err)
		}
		nodeCount.Set(float64(len(m.nodes)))
		return m, nil
	}

	if err := m.findRoot(handles); err != nil {
		return nil, err
	}
	if err := m.repairLinks(ctx, handles); err != nil {
		return nil, fmt.Errorf("repair links: %w", err)
	}

	nodeCount.Set(float64(len(m.nodes)))
	m.logger.Info("multiverse loaded", "nodes", len(m.nodes), "root", m.root.String())
	return m, nil
}

// Root returns the root handle.
func (m *Multiverse) Root() handle.Handle {
	return m.root
}

// load reads every stored node into the map and returns their handles in
// store order.
func (m *Multiverse) load(ctx context.Context) ([]handle.Handle, error) {
	handles, err := m.nodeStore.Handles(ctx)
	if err != nil {
		return nil, err
	}

	loaded := make([]handle.Handle, 0, len(handles))
	for _, h := range handles {
		n, found, err := m.nodeStore.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if err := n.check(); err != nil {
			return nil, store.Malformed("load", store.TableNodes, h.String(), err)
		}
		m.nodes[h] = n.Clone()
		loaded = append(loaded, h)
	}
	return loaded, nil
}

func (m *Multiverse) findRoot(handles []handle.Handle) error {
	var roots []handle.Handle
	for _, h := range handles {
		if m.nodes[h].IsRoot() {
			roots = append(roots, h)
		}
	}

	switch len(roots) {
	case 1:
		m.root = roots[0]
		return nil
	case 0:
		return store.Malformed("bootstrap", store.TableNodes, "", fmt.Errorf("no parentless node among %d nodes", len(handles)))
	default:
		return store.Malformed("bootstrap", store.TableNodes, "", fmt.Errorf("%d parentless nodes", len(roots)))
	}
}

func (m *Multiverse) synthesizeRoot(ctx context.Context) error {
	delta, err := intakePatches(m.seed, m.gen)
	if err != nil {
		return err
	}

	root := Node{
		Delta:    delta,
		Children: []handle.Handle{},
		Universe: m.gen.Next(),
	}
	h, err := m.nodeStore.Save(ctx, root)
	if err != nil {
		return err
	}

	m.root = h
	m.nodes[h] = root
	m.logger.Info("root synthesized", "root", h.String(), "bodies", len(delta))
	return nil
}

// repairLinks appends any node missing from its parent's links to the
// parent's children. This heals a crash between persisting a new child
// and persisting its parent.
func (m *Multiverse) repairLinks(ctx context.Context, handles []handle.Handle) error {
	for _, h := range handles {
		n := m.nodes[h]
		if n.IsRoot() {
			continue
		}

		parent, ok := m.nodes[n.Parent]
		if !ok {
			return store.Malformed("bootstrap", store.TableNodes, h.String(), fmt.Errorf("parent %s does not exist", n.Parent))
		}
		if parent.Links(h) {
			continue
		}

		repaired := parent.Clone()
		repaired.Children = append(repaired.Children, h)
		if err := m.nodeStore.SaveHandle(ctx, repaired, n.Parent); err != nil {
			return err
		}
		m.nodes[n.Parent] = repaired
		m.logger.Warn("linked orphaned child", "parent", n.Parent.String(), "child", h.String())
	}
	return nil
}

// node returns the node at h, reading through to the store on a map miss.
func (m *Multiverse) node(ctx context.Context, h handle.Handle) (Node, bool, error) {
	if n, ok := m.nodes[h]; ok {
		return n, true, nil
	}
	if h.IsZero() {
		return Node{}, false, nil
	}

	n, found, err := m.nodeStore.Get(ctx, h)
	if err != nil || !found {
		return Node{}, false, err
	}
	if err := n.check(); err != nil {
		return Node{}, false, store.Malformed("get", store.TableNodes, h.String(), err)
	}
	n = n.Clone()
	m.nodes[h] = n
	nodeCount.Set(float64(len(m.nodes)))
	return n, true, nil
}

// cacheKey is where the resolved universe of n is stored. Steppers that
// report a fingerprint get their own keyspace, so states derived under a
// different physics configuration are never read back.
func (m *Multiverse) cacheKey(n Node) handle.Handle {
	if m.cacheSalt == "" {
		return n.Universe
	}
	return handle.FromUUID(uuid.NewSHA1(n.Universe.UUID(), []byte(m.cacheSalt)))
}

// sortedHandles returns the map keys in string order.
func (m *Multiverse) sortedHandles() []handle.Handle {
	out := make([]handle.Handle, 0, len(m.nodes))
	for h := range m.nodes {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b handle.Handle) int {
		switch {
		case handle.Less(a, b):
			return -1
		case handle.Less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}
