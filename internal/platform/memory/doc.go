// Package memory provides in-process implementations of the store
// interfaces and of store.Locker. They back the engine tests and a
// database-free development mode. Every value crossing the package boundary
// is deep-copied so callers can never alias stored state.
package memory
