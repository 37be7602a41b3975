// Package testutils provides fixtures shared by the engine and transport
// tests.
//
// # Templates
//
// SampleTemplate returns a three-step flow that exercises every component
// type and both unlock modes:
//
//	tmpl := testutils.SampleTemplate()
//
// Builders compose custom templates:
//
//	tmpl := testutils.NewTemplate(
//	    testutils.NewStep("Basics", testutils.Article(true)),
//	    testutils.NewStep("Check", testutils.Quiz(70), testutils.WithRequiresPrevious()),
//	)
//
// # Stores
//
// NewStores wires the in-memory store implementations together so that tests
// never need a database.
package testutils
