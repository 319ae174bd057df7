// Package multiverse maintains the branching tree of simulation timelines.
//
// Every node derives its universe from its parent: resolve the parent,
// apply the node's patches in order, then advance the node's relative age
// in ticks. Resolved universes are cached in the universe store under the
// node's state-cache handle. Recomputing a node deletes the cached state of
// everything downstream of it; updating a node's patches deletes its own
// cached state and that of all descendants. Nothing is recomputed eagerly.
//
// A Multiverse is not safe for concurrent use. The manager package owns one
// on a single goroutine and serializes every call.
//
// Write order for new nodes: the child is persisted first, then the parent
// that links to it, then the in-memory map is updated. The node store is the
// source of truth; the map is a read-through cache of it. Open repairs a
// child that was persisted but never linked.
package multiverse
