// Package actorkit provides the small actor runtime shared by the mapper
// components: bounded mailboxes and errgroup-based supervision (spec §5),
// grounded on the teacher's worker/channel pattern in pkg/app/app.go.
package actorkit

import "context"

// DefaultMailboxCapacity is the default bounded mailbox size for actors
// that do not specify one.
const DefaultMailboxCapacity = 16

// Mailbox is a single-producer-friendly bounded inbox. Each actor owns
// exactly one Mailbox and is the sole reader of it, so no locking is
// required beyond the channel itself.
type Mailbox[T any] struct {
	ch chan T
}

// NewMailbox creates a Mailbox with the given capacity, or
// DefaultMailboxCapacity if capacity <= 0.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// Send enqueues a message, blocking if the mailbox is full, until ctx is
// done.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues a message without blocking, reporting whether the
// mailbox accepted it.
func (m *Mailbox[T]) TrySend(msg T) bool {
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Recv returns the next message, or !ok if ctx is done first.
func (m *Mailbox[T]) Recv(ctx context.Context) (T, bool) {
	select {
	case msg := <-m.ch:
		return msg, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// C exposes the underlying channel for use in select statements alongside
// other actors' mailboxes.
func (m *Mailbox[T]) C() <-chan T { return m.ch }
