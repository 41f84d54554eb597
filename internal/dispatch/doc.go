// Package dispatch uploads one payload per entity to a fixed endpoint.
//
// Every entity is an independent unit of work. Units run on a bounded pool
// (errgroup with SetLimit) sharing one *http.Client; there is no ordering
// between them and no early abort. A failure is recorded against its entity
// and never reaches siblings or the caller as an error.
//
// An entity counts as successful when the request completed and the response
// body could be read in full. By default the HTTP status does not gate
// success (non-2xx answers are logged as warnings); Options.StrictStatus
// turns non-2xx answers into failures.
package dispatch
