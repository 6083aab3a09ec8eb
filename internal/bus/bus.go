// Package bus carries outbound commands from the engine toward the
// command-channel adapter. Publishing is fire-and-forget: transitions
// never block on delivery, and retry policy belongs to the consumer.
package bus

import (
	"sync/atomic"

	"github.com/patrolkit/engine/pkg/core"
)

// CommandBus is a buffered, drop-counting fan-in for outbound commands.
type CommandBus struct {
	ch      chan core.Command
	dropped atomic.Int64
	closed  atomic.Bool
}

// New creates a bus with the given buffer size.
func New(size int) *CommandBus {
	return &CommandBus{ch: make(chan core.Command, size)}
}

// Publish enqueues a command without blocking. When the buffer is full
// the command is dropped and counted; the telemetry loop reconciles any
// resulting drift.
func (b *CommandBus) Publish(cmd core.Command) {
	if b.closed.Load() {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- cmd:
	default:
		b.dropped.Add(1)
	}
}

// PublishUrgent enqueues a command, evicting the oldest queued command
// if the buffer is full. Used for the emergency path, which must never
// fail or wait behind queued intents.
func (b *CommandBus) PublishUrgent(cmd core.Command) {
	if b.closed.Load() {
		return
	}
	for {
		select {
		case b.ch <- cmd:
			return
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Receive returns the consumer side of the bus.
func (b *CommandBus) Receive() <-chan core.Command {
	return b.ch
}

// Len returns the number of queued commands.
func (b *CommandBus) Len() int {
	return len(b.ch)
}

// Dropped returns the number of commands dropped due to a full buffer.
func (b *CommandBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus. Publishing after close drops silently. The
// channel itself is left open so a publish racing Close can never hit
// a closed channel; consumers stop via their own context instead.
func (b *CommandBus) Close() {
	b.closed.Store(true)
}
