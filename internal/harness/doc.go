// Package harness runs scripted conformance scenarios against the runtime.
//
// A scenario compiles CUE event assets, drives a fresh engine over a
// simulated output device through play, tick, stop and global-state
// steps, and asserts on the notice trace, the recorded play log and the
// final registry.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: footsteps_limit
//	description: "Instance limit rejects the third overlapping play"
//	assets:
//	  - ../assets/footsteps.cue
//	seed: 7
//	dt: 0.25
//	steps:
//	  - play: Footsteps
//	    as: first
//	  - play: Footsteps
//	    expect: rejected
//	    code: INSTANCE_LIMIT
//	  - tick: 4
//	  - stop: first
//	assertions:
//	  - type: trace_count
//	    kind: played
//	    count: 1
//	  - type: trace_order
//	    order: ["played:Footsteps", "transition:Footsteps:stopped"]
//	  - type: final_state
//	    table: plays
//	    where: { event_id: ev-1 }
//	    expect: { status: played }
//
// # Assertion Types
//
//   - trace_contains: a notice matches kind, graph, to, code and clips
//   - trace_order: notice keys (kind:graph[:to]) appear in order
//   - trace_count: exactly count notices match the filters
//   - final_state: one row of plays or transitions matches where and expect
//   - playing: count events (of graph) are playing when the script ends
//   - mixer: the snapshot transitions equal snapshots ("name@seconds")
//
// # Deterministic Testing
//
// Every run uses a seeded random generator, counter event IDs (ev-1,
// ev-2, ...), a fixed tick length and an in-memory SQLite store, so traces
// are byte-identical across runs and can be compared against golden files
// in testdata/golden.
package harness
