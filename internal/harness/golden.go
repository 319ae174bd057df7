package harness

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/GrigorianNick/multiverse-simulator/internal/canon"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// GoldenDir is where RunWithGolden keeps golden files, relative to the
// test's package directory.
const GoldenDir = "testdata/golden"

// Snapshot is the resolved state of every labeled node. Nodes are keyed by
// label rather than handle so the snapshot is stable across generators.
type Snapshot struct {
	Scenario string         `json:"scenario"`
	Nodes    []NodeSnapshot `json:"nodes"`
}

// NodeSnapshot is one labeled node.
type NodeSnapshot struct {
	Label       string           `json:"label"`
	Parent      string           `json:"parent,omitempty"`
	Successor   bool             `json:"successor"`
	RelativeAge int              `json:"relative_age"`
	Universe    physics.Universe `json:"universe"`
}

// snapshot resolves every labeled node, in label order.
func (h *Harness) snapshot(ctx context.Context, name string, result *Result) (Snapshot, error) {
	labels := make([]string, 0, len(result.Labels))
	for label := range result.Labels {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	snap := Snapshot{Scenario: name, Nodes: make([]NodeSnapshot, 0, len(labels))}
	for _, label := range labels {
		id := result.Labels[label]
		node, found, err := h.client.GetNode(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}
		if !found {
			return Snapshot{}, fmt.Errorf("node %q vanished", label)
		}
		u, _, err := h.client.GetUniverse(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}

		ns := NodeSnapshot{
			Label:       label,
			RelativeAge: node.RelativeAge,
			Universe:    u,
		}
		if !node.IsRoot() {
			ns.Parent = result.labelOf(node.Parent)
			parent, _, err := h.client.GetNode(ctx, node.Parent)
			if err != nil {
				return Snapshot{}, err
			}
			ns.Successor = parent.Next == id
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	return snap, nil
}

// MarshalSnapshot renders a result's snapshot as canonical JSON. This is
// the golden file format.
func MarshalSnapshot(result *Result) ([]byte, error) {
	data, err := canon.Marshal(result.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
