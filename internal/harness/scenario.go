package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/seed"
)

// RootLabel names the root node in every scenario.
const RootLabel = "root"

// Step operations.
const (
	OpAdvance = "advance"
	OpBranch  = "branch"
	OpUpdate  = "update"
)

// Stepper names accepted in PhysicsSpec.
const (
	StepperNewtonian = "newtonian"
	StepperDrift     = "drift"
)

// Scenario is one scenario file.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Seed holds the root's bodies. Empty means the default seed.
	Seed seed.Config `yaml:"seed"`

	// Physics selects the stepper.
	Physics PhysicsSpec `yaml:"physics"`

	// Steps run in order against a fresh multiverse.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after all steps.
	Assertions []Assertion `yaml:"assertions"`
}

// PhysicsSpec selects and parameterizes the stepper. Zero fields take the
// Newtonian defaults.
type PhysicsSpec struct {
	Stepper               string   `yaml:"stepper"`
	GravitationalConstant *float64 `yaml:"gravitational_constant"`
	Timestep              float64  `yaml:"timestep"`
	Softening             float64  `yaml:"softening"`
}

// Build returns the stepper described by p.
func (p PhysicsSpec) Build() (physics.Stepper, error) {
	switch p.Stepper {
	case StepperDrift:
		return physics.Drift{}, nil
	case StepperNewtonian, "":
		n := physics.NewNewtonian()
		if p.GravitationalConstant != nil {
			n.G = *p.GravitationalConstant
		}
		if p.Timestep != 0 {
			n.Timestep = p.Timestep
		}
		n.Softening = p.Softening
		return n, nil
	default:
		return nil, fmt.Errorf("unknown stepper %q", p.Stepper)
	}
}

// Step is one mutation.
type Step struct {
	// Op is advance, branch or update.
	Op string `yaml:"op"`

	// From labels the parent of a new node (advance, branch).
	From string `yaml:"from,omitempty"`

	// Node labels the node to patch (update).
	Node string `yaml:"node,omitempty"`

	// Duration is the new node's advance in ticks.
	Duration int `yaml:"duration,omitempty"`

	// Patches apply to a branch or update.
	Patches []Patch `yaml:"patches,omitempty"`

	// As labels the created node (advance, branch).
	As string `yaml:"as,omitempty"`
}

// Patch is the YAML form of a body patch.
type Patch struct {
	TargetBody string        `yaml:"target_body"`
	Position   *physics.Vec3 `yaml:"position"`
	DPosition  *physics.Vec3 `yaml:"d_position"`
	Velocity   *physics.Vec3 `yaml:"velocity"`
	DVelocity  *physics.Vec3 `yaml:"d_velocity"`
	Mass       *float64      `yaml:"mass"`
	DMass      *float64      `yaml:"d_mass"`
}

// BranchParams converts p.
func (p Patch) BranchParams() (multiverse.BranchParams, error) {
	var target handle.Handle
	if p.TargetBody != "" {
		h, err := handle.Parse(p.TargetBody)
		if err != nil {
			return multiverse.BranchParams{}, fmt.Errorf("target_body: %w", err)
		}
		target = h
	}
	return multiverse.BranchParams{
		TargetBody: target,
		Position:   p.Position,
		DPosition:  p.DPosition,
		Velocity:   p.Velocity,
		DVelocity:  p.DVelocity,
		Mass:       p.Mass,
		DMass:      p.DMass,
	}, nil
}

func convertPatches(patches []Patch) ([]multiverse.BranchParams, error) {
	out := make([]multiverse.BranchParams, 0, len(patches))
	for i, p := range patches {
		bp, err := p.BranchParams()
		if err != nil {
			return nil, fmt.Errorf("patches[%d]: %w", i, err)
		}
		out = append(out, bp)
	}
	return out, nil
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every label is defined
// before it is used.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if err := s.Seed.Validate(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if _, err := s.Physics.Build(); err != nil {
		return fmt.Errorf("physics: %w", err)
	}

	labels := map[string]bool{RootLabel: true}
	for i, step := range s.Steps {
		if err := validateStep(i, step, labels); err != nil {
			return err
		}
		if step.As != "" {
			labels[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, labels map[string]bool) error {
	if _, err := convertPatches(step.Patches); err != nil {
		return fmt.Errorf("steps[%d]: %w", i, err)
	}
	if step.Duration < 0 {
		return fmt.Errorf("steps[%d]: duration must be non-negative", i)
	}

	switch step.Op {
	case OpAdvance, OpBranch:
		if !labels[step.From] {
			return fmt.Errorf("steps[%d]: from %q is not a defined label", i, step.From)
		}
		if step.As == "" {
			return fmt.Errorf("steps[%d]: as is required for %s", i, step.Op)
		}
		if labels[step.As] {
			return fmt.Errorf("steps[%d]: label %q is already defined", i, step.As)
		}
		if step.Op == OpAdvance && len(step.Patches) > 0 {
			return fmt.Errorf("steps[%d]: advance takes no patches", i)
		}
	case OpUpdate:
		if !labels[step.Node] {
			return fmt.Errorf("steps[%d]: node %q is not a defined label", i, step.Node)
		}
		if step.As != "" {
			return fmt.Errorf("steps[%d]: update does not create a node", i)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

// validateAssertion checks the fields each assertion type needs.
func validateAssertion(index int, a Assertion, labels map[string]bool) error {
	need := func(label, field string) error {
		if !labels[label] {
			return fmt.Errorf("assertions[%d]: %s %q is not a defined label", index, field, label)
		}
		return nil
	}

	switch a.Type {
	case AssertBodyCount, AssertTimelineLength:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		return need(a.Node, "node")
	case AssertBodyPosition, AssertBodyVelocity:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		if _, err := handle.Parse(a.Body); err != nil {
			return fmt.Errorf("assertions[%d]: body: %w", index, err)
		}
		return need(a.Node, "node")
	case AssertSameState, AssertDifferentState:
		if len(a.Nodes) != 2 {
			return fmt.Errorf("assertions[%d]: %s needs exactly two nodes", index, a.Type)
		}
		for _, n := range a.Nodes {
			if err := need(n, "nodes"); err != nil {
				return err
			}
		}
		return nil
	case AssertIsSuccessor, AssertIsChild:
		if err := need(a.Parent, "parent"); err != nil {
			return err
		}
		return need(a.Node, "node")
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
