// Package assignment runs the assignment lifecycle: creation from a template,
// status transitions, deadline adjustments, activity tracking and overdue
// recomputation.
//
// Transitions are computed by the domain.Assignment methods and written with
// a version compare-and-swap. When another writer got there first the
// assignment is reloaded and the transition applied again, so concurrent
// changes such as a pause and a deadline extension both take effect.
package assignment
