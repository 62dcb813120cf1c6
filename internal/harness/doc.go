// Package harness runs YAML bridge scenarios against a fresh channel.
//
// Each scenario gets its own channel with a fixed session id, a recording
// transport and an in-memory journal. Steps drive the channel the way the
// engine and the UI would and check what a consumer observes.
//
// # Scenario Format
//
//	name: checkbox_echo
//	description: "A committed value survives an unrelated broadcast"
//	session: s1
//	rules: rules.cue        # optional coalescer rules, relative to the file
//	tools: true             # attach the tools mirror
//	fields:
//	  - name: grid
//	    event: CHECKBOX
//	    key: checked
//	    outgoing: SET_CHECKED
//	    initial: false
//	  - name: cb
//	    path_id: p2/cb
//	    prop: checked
//	    event_type: onChange
//	steps:
//	  - commit: { field: grid, value: true, expect_id: 1 }
//	  - expect_sent: { count: 1, events: [{ name: SET_CHECKED, mutation_id: 1 }] }
//	  - dispatch: { name: CHECKBOX, event_id: 5, params: { checked: false } }
//	  - expect_field: { field: grid, value: true, tracked_id: 1, pending: 1 }
//	  - expect_cache: { name: CHECKBOX, reported_id: 5 }
//	  - reset: true
//	  - expect_journal: { broadcasts: 0, sends: 0 }
//
// # Step Types
//
//   - dispatch: Deliver a broadcast (name, event_id, params)
//   - frame: Deliver a raw wire frame
//   - commit: Commit a value to a field
//   - reset: End the session
//   - expect_field: Check a field's value, tracked id and pending count
//   - expect_cache: Check the cached broadcast for a name (subset match)
//   - expect_sent: Flush and check the events sent since the last check
//   - expect_journal: Check journal record counts for the current session
//
// Payload expectations use subset semantics: expected object keys must be
// present and match, other keys are ignored.
//
// # Deterministic Testing
//
// Session ids and mutation ids are fixed by the scenario, so traces are
// identical across runs and can be compared with golden files (see
// RunWithGolden).
package harness
