// Package aggregate holds the coalescing rules shared by the server-side
// view builder and the client-side reconciler.
//
// Build turns a recipient's event rows into groups keyed by (object, type).
// Merge applies one pushed event to an already built view. For any rows and
// any next event e, Merge(Build(rows), e.Push()) equals Build(append(rows, e)).
// Both sides render titles and messages through Render, so a pushed group and
// a fetched group never display differently.
package aggregate
