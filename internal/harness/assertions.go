package harness

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/GrigorianNick/multiverse-simulator/internal/canon"
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// Assertion types.
const (
	AssertBodyCount      = "body_count"
	AssertBodyPosition   = "body_position"
	AssertBodyVelocity   = "body_velocity"
	AssertTimelineLength = "timeline_length"
	AssertSameState      = "same_state"
	AssertDifferentState = "different_state"
	AssertIsSuccessor    = "is_successor"
	AssertIsChild        = "is_child"
)

// Assertion is one check on the final multiverse.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Node labels the node under test.
	Node string `yaml:"node,omitempty"`

	// Nodes labels the pair compared by same_state and different_state.
	Nodes []string `yaml:"nodes,omitempty"`

	// Parent labels the parent for is_successor and is_child.
	Parent string `yaml:"parent,omitempty"`

	// Body is the handle of the body under test.
	Body string `yaml:"body,omitempty"`

	// Expect is the expected vector for body_position and body_velocity.
	Expect *physics.Vec3 `yaml:"expect,omitempty"`

	// Tolerance bounds each component's absolute error. Zero means exact.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Count is the expected count for body_count and timeline_length.
	Count *int `yaml:"count,omitempty"`
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// assertionEnv gives assertions read access to the multiverse.
type assertionEnv struct {
	ctx    context.Context
	client *manager.Client
	result *Result
}

func (env *assertionEnv) universe(label string) (physics.Universe, error) {
	u, found, err := env.client.GetUniverse(env.ctx, env.result.Labels[label])
	if err != nil {
		return physics.Universe{}, err
	}
	if !found {
		return physics.Universe{}, fmt.Errorf("node %q not found", label)
	}
	return u, nil
}

// EvaluateAssertions checks every assertion and returns the failures.
func EvaluateAssertions(ctx context.Context, client *manager.Client, result *Result, assertions []Assertion) []string {
	env := &assertionEnv{ctx: ctx, client: client, result: result}

	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertBodyCount:
			err = assertBodyCount(env, a)
		case AssertBodyPosition:
			err = assertBodyVector(env, a, func(b *physics.Body) physics.Vec3 { return b.Position })
		case AssertBodyVelocity:
			err = assertBodyVector(env, a, func(b *physics.Body) physics.Vec3 { return b.Velocity })
		case AssertTimelineLength:
			err = assertTimelineLength(env, a)
		case AssertSameState:
			err = assertStates(env, a, true)
		case AssertDifferentState:
			err = assertStates(env, a, false)
		case AssertIsSuccessor:
			err = assertLink(env, a, true)
		case AssertIsChild:
			err = assertLink(env, a, false)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertBodyCount(env *assertionEnv, a Assertion) error {
	u, err := env.universe(a.Node)
	if err != nil {
		return err
	}
	if u.Len() != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d bodies in %s", *a.Count, a.Node),
			Actual:   fmt.Sprintf("%d bodies", u.Len()),
		}
	}
	return nil
}

func assertBodyVector(env *assertionEnv, a Assertion, pick func(*physics.Body) physics.Vec3) error {
	u, err := env.universe(a.Node)
	if err != nil {
		return err
	}
	body := u.Body(handle.MustParse(a.Body))
	if body == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("body %s in %s", a.Body, a.Node),
			Actual:   "no such body",
		}
	}
	got := pick(body)
	if !within(got, *a.Expect, a.Tolerance) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s of %s in %s = %v (±%g)", vectorName(a.Type), a.Body, a.Node, *a.Expect, a.Tolerance),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func vectorName(assertType string) string {
	if assertType == AssertBodyVelocity {
		return "velocity"
	}
	return "position"
}

func within(got, want physics.Vec3, tol float64) bool {
	return math.Abs(got.X-want.X) <= tol &&
		math.Abs(got.Y-want.Y) <= tol &&
		math.Abs(got.Z-want.Z) <= tol
}

func assertTimelineLength(env *assertionEnv, a Assertion) error {
	tl, found, err := env.client.GetTimeline(env.ctx, env.result.Labels[a.Node])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("node %q not found", a.Node)
	}
	if len(tl) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("timeline of %s with %d states", a.Node, *a.Count),
			Actual:   fmt.Sprintf("%d states", len(tl)),
		}
	}
	return nil
}

// assertStates compares content fingerprints, which are equal exactly when
// the states are bit-identical.
func assertStates(env *assertionEnv, a Assertion, same bool) error {
	var prints [2]string
	for i, label := range a.Nodes {
		u, err := env.universe(label)
		if err != nil {
			return err
		}
		fp, err := canon.Fingerprint(canon.DomainUniverse, u)
		if err != nil {
			return err
		}
		prints[i] = fp
	}

	if (prints[0] == prints[1]) != same {
		relation := "identical"
		if !same {
			relation = "different"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s and %s have %s states", a.Nodes[0], a.Nodes[1], relation),
			Actual:   fmt.Sprintf("fingerprints %s and %s", prints[0][:12], prints[1][:12]),
		}
	}
	return nil
}

func assertLink(env *assertionEnv, a Assertion, successor bool) error {
	links, found, err := env.client.GetChildren(env.ctx, env.result.Labels[a.Parent])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("node %q not found", a.Parent)
	}

	node := env.result.Labels[a.Node]
	if successor && links.Next == node {
		return nil
	}
	if !successor && slices.Contains(links.Children, node) {
		return nil
	}

	expected := fmt.Sprintf("%s is a branch child of %s", a.Node, a.Parent)
	if successor {
		expected = fmt.Sprintf("%s is the successor of %s", a.Node, a.Parent)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   fmt.Sprintf("successor %q, children %d", env.result.labelOf(links.Next), len(links.Children)),
	}
}
