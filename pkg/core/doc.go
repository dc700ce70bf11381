// Package core provides the document backend for sqdata.
//
// It stores named collections of schemaless JSON documents in a single SQLite
// file using modernc.org/sqlite (no CGO). Every collection is a table of
// (id, doc) pairs; documents are addressed by their integer id and can be
// looked up through json_extract expression indexes.
//
// # Key Components
//
//   - Store: opens, recovers, checkpoints and compacts the backing file.
//   - Collection: insert, bulk insert, find, update, delete and count.
//   - Tx: explicit transaction boundaries; RunInTx rolls back on error or panic.
//   - Emitter: per-instance lifecycle notifications for datasets and algorithms.
//
// A zero-length or unreadable database file is deleted and replaced by an
// empty store when Init runs. A closed store rejects every call with
// ErrStoreClosed.
//
// # Observability
//
// The store logs through the pluggable Logger interface (no-op by default).
package core
