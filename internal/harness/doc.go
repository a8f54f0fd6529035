// Package harness provides conformance testing for query lowering.
//
// A scenario names a model, optional seed data and a query. The harness
// lowers the query, renders it to SQL, runs it against a fresh in-memory
// SQLite sandbox and checks the outcome.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	model: ../models/bookshop        # directory of CUE files
//	seed: ../models/bookshop.yaml    # optional rows per entity
//	query:
//	  from: bookshop.Books
//	  columns: [title, author.name]
//	expect:
//	  lowered: { ... }               # exact lowered query
//	  sql: "SELECT ..."              # exact rendered SQL
//	  error: ReferenceError          # or the expected error kind
//	assertions:
//	  - type: sql_contains
//	    text: LEFT JOIN
//	  - type: join_order
//	    aliases: [Books, author]
//	  - type: row_count
//	    count: 2
//	  - type: row
//	    where: { title: "The Raven" }
//	    expect: { author_name: "Edgar Allen Poe" }
//
// Paths are relative to the scenario file.
//
// # Assertion Types
//
//   - sql_contains: Verifies the rendered SQL contains a fragment
//   - join_order: Verifies the FROM clause aliases appear in order
//   - row_count: Verifies the query returns exactly N rows
//   - row: Finds the single row matching where and checks expected values
//
// # Deterministic Testing
//
// Lowering is a pure function of the query and the model, and every
// scenario runs in an isolated in-memory database, so the snapshot of a
// scenario is identical across runs. RunWithGolden compares it against
// testdata/golden/{name}.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/exists.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
