package usecases

import (
	"errors"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// errQueueFull is returned by Enqueue when the pre-flush buffer is at capacity.
var errQueueFull = errors.New("pending command queue full")

// CommandQueue buffers commands until the first Flush, then transmits them directly.
// It never reorders and never drops, except through Discard.
type CommandQueue struct {
	transmit func(domain.Command) error
	buf      []domain.Command
	max      int // 0 = unbounded
	flushed  bool
}

// NewCommandQueue creates a queue that hands commands to transmit. max bounds the
// pre-flush buffer; 0 disables the bound.
func NewCommandQueue(transmit func(domain.Command) error, max int) *CommandQueue {
	return &CommandQueue{transmit: transmit, max: max}
}

// Enqueue buffers cmd before the first flush and transmits it afterwards.
func (q *CommandQueue) Enqueue(cmd domain.Command) error {
	if q.flushed {
		return q.transmit(cmd)
	}
	if q.max > 0 && len(q.buf) >= q.max {
		return errQueueFull
	}
	q.buf = append(q.buf, cmd)
	return nil
}

// Flush drains the buffer in FIFO order. Every command is transmitted even if an
// earlier one fails; the first error is returned. Later calls are no-ops.
func (q *CommandQueue) Flush() error {
	if q.flushed {
		return nil
	}
	q.flushed = true
	buf := q.buf
	q.buf = nil

	var first error
	for _, cmd := range buf {
		if err := q.transmit(cmd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops buffered commands. Used when the session is disposed.
func (q *CommandQueue) Discard() int {
	n := len(q.buf)
	q.buf = nil
	return n
}

// Len returns the number of buffered commands.
func (q *CommandQueue) Len() int { return len(q.buf) }

// Flushed reports whether the queue transmits directly.
func (q *CommandQueue) Flushed() bool { return q.flushed }
