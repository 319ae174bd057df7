package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

// generatorPrefix tags every handle a scenario mints.
const generatorPrefix = 0x5c

// Harness executes one scenario against a private multiverse.
type Harness struct {
	client *manager.Client
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, a fixed handle
// generator and its own manager, so runs are isolated and reproducible.
// A step that fails is an execution error; a false assertion is recorded
// in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context for the manager's commands.
func RunContext(ctx context.Context, scenario *Scenario) (result *Result, err error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stepper, err := scenario.Physics.Build()
	if err != nil {
		return nil, err
	}

	opts := []multiverse.Option{
		multiverse.WithStepper(stepper),
		multiverse.WithLogger(logger),
	}
	if len(scenario.Seed.Bodies) > 0 {
		patches, err := scenario.Seed.Patches()
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		opts = append(opts, multiverse.WithSeed(patches))
	}

	backend := store.NewMemory()
	defer func() {
		err = errors.Join(err, backend.Close())
	}()

	gen := handle.NewFixedGenerator(generatorPrefix)
	opts = append(opts, multiverse.WithGenerator(gen))

	nodes, err := store.OpenObjects[multiverse.Node](backend, store.TableNodes, gen)
	if err != nil {
		return nil, err
	}
	universes, err := store.OpenObjects[physics.Universe](backend, store.TableUniverses, gen)
	if err != nil {
		return nil, err
	}
	mv, err := multiverse.Open(ctx, nodes, universes, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open multiverse: %w", err)
	}

	m := manager.New(mv, manager.WithLogger(logger))
	go func() { _ = m.Run(context.Background()) }()
	defer func() {
		m.Stop()
		<-m.Done()
	}()

	h := &Harness{client: m.Client(), logger: logger}

	result = NewResult()
	result.Labels[RootLabel] = h.client.Root()

	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	snapshot, err := h.snapshot(ctx, scenario.Name, result)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot: %w", err)
	}
	result.Snapshot = snapshot

	for _, msg := range EvaluateAssertions(ctx, h.client, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSteps runs every step through the manager, recording labels.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		patches, err := convertPatches(step.Patches)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}

		record := StepRecord{Op: step.Op, Label: step.As, Seq: i + 1}
		switch step.Op {
		case OpAdvance:
			record.Target = step.From
			record.Handle, err = h.client.Advance(ctx, result.Labels[step.From], step.Duration)
		case OpBranch:
			record.Target = step.From
			record.Handle, err = h.client.Branch(ctx, result.Labels[step.From], step.Duration, patches)
		case OpUpdate:
			record.Target = step.Node
			record.Handle = result.Labels[step.Node]
			err = h.client.Update(ctx, record.Handle, patches)
		default:
			err = fmt.Errorf("unknown op %q", step.Op)
		}
		if err != nil {
			return fmt.Errorf("steps[%d] %s %s: %w", i, step.Op, record.Target, err)
		}

		if step.As != "" {
			result.Labels[step.As] = record.Handle
		}
		result.Steps = append(result.Steps, record)
		h.logger.Debug("step executed", "seq", record.Seq, "op", step.Op, "target", record.Target, "label", step.As)
	}
	return nil
}
