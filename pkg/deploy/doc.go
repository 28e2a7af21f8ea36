// Package deploy applies entity definitions.
//
// A Service orders definitions by their depends_on edges, then for each one
// builds the entity through the catalog, evaluates the policy gate, dispatches
// through the target resolver and records the outcome in the history store.
// Definitions on the same level are dispatched concurrently up to the
// configured parallelism. When a definition fails its dependents are skipped,
// and unless ContinueOnError is set the remaining levels are skipped too.
//
// Dry runs use an in-memory channel.Recorder: every step except the remote
// call is executed and the report lists the calls that would have been sent.
package deploy
