// Package store defines the persistence contracts of the flow engine: the
// template reader, the snapshot store, the progress store and the assignment
// store. Implementations live under internal/platform.
//
// Stores that take part in multi-entity units of work expose WithTx so a
// service can bind several of them to one *sql.Tx via RunInTransaction.
package store
