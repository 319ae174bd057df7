// Package store provides durable handle-keyed object storage for the
// multiverse.
//
// Two layers:
//   - KV: a byte-level table (Get/Put/Delete/Keys) implemented by the
//     SQLite, Badger and in-memory backends.
//   - Objects[T]: a generic ObjectStore over a KV that encodes payloads as
//     JSON and mints handles for new objects.
//
// The backend is picked at runtime (see Open), while payload types are
// fixed at compile time. Each table is independent: the node graph and the
// universe cache never share a keyspace.
//
// Errors are typed. A missing key is not an error; Get reports it through
// its boolean result. Corrupt payloads surface as CodeMalformed and backend
// failures as CodeUnavailable.
package store
