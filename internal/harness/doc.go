// Package harness provides conformance testing for the synchronization
// engine. It loads YAML scenarios, executes them against a fresh store and a
// fake backend, and validates outbox and read-path behavior as executable
// contract tests.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false
//	server_status: 201
//	seed:
//	  entities:
//	    - { id: 1, name: "A" }
//	remote:
//	  reviews: []
//	steps:
//	  - submit: { kind: create, collection: reviews, payload: { ... } }
//	  - set_online: true
//	  - replay: true
//	  - fetch: { collection: entities }
//	assertions:
//	  - type: pending_count
//	    expect: 0
//
// # Step Types
//
//   - submit: accept a mutation through the outbox; the harness waits for
//     any immediate replay attempt to settle before the next step
//   - set_online: flip the connectivity oracle
//   - replay: run one replay pass over the outbox
//   - fetch: read a collection through the read coordinator; the result
//     feeds the fetch_count assertion
//
// # Assertion Types
//
//   - pending_count: number of unconfirmed writes left in the outbox
//   - store_count: number of records in a local collection
//   - store_contains: a record with the given id exists and matches the
//     expected fields (subset match)
//   - request_count: number of requests the fake backend received
//   - request_order: exact "METHOD /path" sequence the backend received
//   - fetch_count: size of the last fetch result
package harness
