// Package snapshot freezes flow templates into immutable snapshot trees.
//
// A snapshot is taken when a flow is assigned to a learner. The template is
// validated as a whole, every problem is reported at once, and the copy is
// built bottom-up (components, then steps, then the flow) before the tree is
// written in a single transaction. Later edits to the template never reach an
// existing snapshot.
package snapshot
