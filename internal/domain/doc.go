// Package domain contains the core entities of the learning flow engine:
// flow templates, their immutable snapshots, per-component learner progress
// and the assignment lifecycle. It has no knowledge of storage or transport.
//
// Component content and progress payloads are closed tagged variants. Every
// function that dispatches on them returns ErrUnknownComponentType for a type
// it does not recognise.
package domain
