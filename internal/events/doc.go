// Package events carries domain events from the engines to in-process
// handlers such as structured logging and metrics. Services emit events
// after their state change is persisted; handlers never influence the
// outcome of the operation that emitted them.
package events
