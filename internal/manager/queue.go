package manager

import "sync"

// commandQueue is an unbounded, thread-safe FIFO.
//
// Clients enqueue from any goroutine; only Run dequeues. The signal channel
// (buffered, size 1) coalesces wake-ups so Run can wait on it in a select
// alongside context cancellation.
type commandQueue struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	signal   chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]Command, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends c. Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.commands = append(q.commands, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return Command{}, false
	}

	c := q.commands[0]

	// Clear the slot so the backing array does not pin patches and reply
	// channels.
	q.commands[0] = Command{}
	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}

	return c, true
}

// Wait returns a channel that fires when commands may be available, and
// is closed once the queue is closed.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Closed reports whether Close has been called.
func (q *commandQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes waiters.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
