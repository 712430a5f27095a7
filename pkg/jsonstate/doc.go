// Package jsonstate backs up and restores relational tables as one JSON document.
//
// A table is described by a [Descriptor]: its name plus an ordered list of
// columns, each with a declared [ColumnType]. The column type alone decides how
// a value is rendered into JSON and parsed back out of it, so the engine works
// for any schema set without per-field code.
//
// # Document Format
//
//	{
//	  "feeds":   { "rows": [ {"url": "http://x", "priority": 5}, ... ] },
//	  "entries": { "rows": [ ... ] }
//	}
//
// Every table of the schema set appears as a key. Primary key columns never
// appear in the document: they are skipped on export and regenerated by the
// store on import.
//
// # Export
//
// [Write] streams the document table by table, pulling rows through the
// [Gateways] row source. It never modifies the store.
//
// # Import
//
// Import runs in two strictly ordered phases:
//
//  1. [Parse] and [Verify] check the whole document against every schema and
//     return a [Plan]. Nothing is touched when any table fails.
//  2. [Plan.Apply] deletes all rows of each table and bulk inserts the decoded
//     rows. When the destination implements [TxGateways] the whole phase runs
//     in one transaction; otherwise tables are replaced one after the other and
//     a failure leaves earlier tables replaced.
//
// [Read] combines both phases.
//
// # Concurrency
//
// Nothing in this package is synchronized. Callers must serialize Write and
// Read calls against the same store.
package jsonstate
