// Package harness runs multiverse scenarios: YAML files that seed a root,
// apply a sequence of advance, branch and update steps, and then assert on
// the resolved states.
//
// # Scenario Format
//
//	name: drift_branch
//	description: "A kicked branch diverges from the canonical timeline"
//	seed:
//	  bodies:
//	    - id: 00000000-0000-4000-8000-00000000000a
//	      position: {x: 0, y: 0, z: 0}
//	      velocity: {x: 1, y: 0.5, z: 0}
//	      mass: 2
//	physics:
//	  stepper: drift
//	steps:
//	  - op: advance
//	    from: root
//	    duration: 2
//	    as: t2
//	  - op: branch
//	    from: root
//	    duration: 1
//	    patches:
//	      - target_body: 00000000-0000-4000-8000-00000000000a
//	        d_velocity: {x: 0, y: 0, z: 0.25}
//	    as: kicked
//	  - op: update
//	    node: root
//	    patches:
//	      - mass: 1
//	assertions:
//	  - type: body_position
//	    node: t2
//	    body: 00000000-0000-4000-8000-00000000000a
//	    expect: {x: 2, y: 1, z: 0}
//	  - type: is_child
//	    parent: root
//	    node: kicked
//
// Nodes are referred to by label. "root" is predefined; every step that
// creates a node names it with "as".
//
// # Assertion Types
//
//   - body_count: the node's universe holds count bodies
//   - body_position, body_velocity: a body's vector matches expect within tolerance
//   - timeline_length: the node's timeline holds count states
//   - same_state, different_state: compares the fingerprints of two nodes' states
//   - is_successor: node is parent's canonical successor
//   - is_child: node is among parent's branch children
//
// # Deterministic Execution
//
// Every scenario runs against a fresh in-memory store with a fixed handle
// generator, through a real manager. Snapshots refer to nodes by label, so
// golden files do not depend on generated handles.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/drift_branch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
