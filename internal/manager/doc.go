// Package manager owns a Multiverse on a single goroutine.
//
// Every read and write of the graph goes through a FIFO command queue and
// is executed by Run, one command at a time, store I/O included. Callers
// use a Client, which enqueues a command carrying a one-shot reply channel
// and waits for the answer. There are no locks on the graph and no
// timeouts: a slow command delays everything queued behind it.
//
// Ordering is arrival order at the queue. Each command is stamped with a
// sequence number from a logical clock when it is enqueued, so logs and
// traces show the order in which the owner saw requests.
//
// Shutdown:
//   - Stop closes the queue. Commands already queued still run, then Run
//     returns nil.
//   - Cancelling Run's context stops at once. Queued commands are answered
//     with ErrOwnerUnavailable.
//
// Once Run has returned, every Client call fails fast with
// ErrOwnerUnavailable.
package manager
