package engine

import "sync"

// Command is work submitted from outside the driver goroutine. It runs on
// the driver goroutine at the start of the next tick with exclusive access
// to the engine.
type Command func(e *Engine)

// commandQueue is a thread-safe FIFO of commands.
//
// It is the only engine structure touched from other goroutines; everything
// else is owned by whichever goroutine calls Tick.
type commandQueue struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
}

func newCommandQueue() *commandQueue {
	return &commandQueue{commands: make([]Command, 0, 16)}
}

// Enqueue appends a command. Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.commands = append(q.commands, c)
	return true
}

// TakeAll removes and returns every queued command in FIFO order.
func (q *commandQueue) TakeAll() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return nil
	}
	taken := q.commands
	q.commands = make([]Command, 0, cap(taken))
	return taken
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close rejects further commands. Already queued commands stay drainable.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
