// Package progress tracks learner progress against frozen flow snapshots.
//
// The Engine applies learner actions to per-component progress records,
// grades task and quiz submissions, unlocks steps in order and aggregates
// progress summaries. Work on one (learner, component) pair is serialized by
// a store.Locker and guarded by an optimistic version check on write.
package progress
