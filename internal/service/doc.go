// Package service groups the application use cases of learnflow. Each
// subpackage owns one area and orchestrates domain types and store
// interfaces to fulfil it:
//
//   - snapshot: validates flow templates and copies them into immutable
//     snapshot trees
//   - progress: records learner actions against a snapshot and unlocks steps
//     as requirements are met
//   - assignment: drives the assignment lifecycle, deadlines and overdue
//     tracking on the business-day calendar
//   - auth: issues and validates the JWTs that identify API actors
//
// Services receive their dependencies through constructors and depend only on
// the interfaces in internal/store, never on a concrete storage backend.
package service
