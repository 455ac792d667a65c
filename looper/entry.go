// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import "sync/atomic"

// Kind classifies what an Entry carries.
type Kind int

const (
	// KindTask is a bare callable with no payload.
	KindTask Kind = iota
	// KindMessage is a tagged data carrier, optionally with its own
	// callable, dispatched through a Handler's message callback.
	KindMessage
	// KindBarrier is a sentinel that withholds synchronous delivery of
	// everything at or after it until removed by token.
	KindBarrier
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindMessage:
		return "message"
	case KindBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// lastEntryID is the process-wide monotonically increasing Entry id
// source. Defensive wraparound at math.MaxInt64 is handled in nextID;
// in practice it is unreachable within a process lifetime.
var lastEntryID atomic.Int64

func nextID() int64 {
	for {
		old := lastEntryID.Load()
		next := old + 1
		if next < 0 {
			next = 0
		}
		if lastEntryID.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Entry is one enqueueable unit: a task, a message, or a barrier.
//
// An Entry is immutable once Finalized is observed true: the dispatch
// loop sets it the instant the Entry is handed to user code, and from
// that point no field may change. Once Recycled is true the Entry must
// never appear in a Queue again; Handler builds a fresh Entry for
// every post, and Queue.Post panics on an Entry whose Recycled bit is
// set.
type Entry struct {
	id    int64
	when  int64
	kind  Kind
	async bool

	what    int
	payload any

	callable func()
	target   *Handler

	token int64 // valid only for KindBarrier

	finalized atomic.Bool
	recycled  atomic.Bool
}

func newTaskEntry(callable func(), async bool, target *Handler) *Entry {
	return &Entry{
		id:       nextID(),
		kind:     KindTask,
		async:    async,
		callable: callable,
		target:   target,
	}
}

func newMessageEntry(what int, payload any, callable func(), async bool, target *Handler) *Entry {
	return &Entry{
		id:       nextID(),
		kind:     KindMessage,
		async:    async,
		what:     what,
		payload:  payload,
		callable: callable,
		target:   target,
	}
}

func newBarrierEntry(token int64) *Entry {
	return &Entry{
		id:    nextID(),
		kind:  KindBarrier,
		when:  0,
		token: token,
	}
}

// ID returns the Entry's globally unique, monotonically increasing
// sequence number, used as the tiebreak for Entries sharing a When.
func (e *Entry) ID() int64 { return e.id }

// When returns the monotonic-millisecond due-time; zero means "as
// soon as possible" (or, for a barrier, "immediately, by definition").
func (e *Entry) When() int64 { return e.when }

// Kind reports whether this Entry is a task, message, or barrier.
func (e *Entry) Kind() Kind { return e.kind }

// Async reports whether this Entry bypasses barriers and dispatches
// on the parallel executor rather than the Looper's own thread.
func (e *Entry) Async() bool { return e.async }

// What returns the message tag. Meaningful only for KindMessage.
func (e *Entry) What() int { return e.what }

// Payload returns the opaque user data carried by a message Entry.
func (e *Entry) Payload() any { return e.payload }

// Target returns the Handler this Entry was posted through, if any.
func (e *Entry) Target() *Handler { return e.target }

// Finalized reports whether this Entry has been handed to user code.
// A finalized Entry is immutable.
func (e *Entry) Finalized() bool { return e.finalized.Load() }

// Recycled reports whether this Entry has completed dispatch (or been
// removed pre-dispatch) and must no longer appear in any Queue.
func (e *Entry) Recycled() bool { return e.recycled.Load() }

// finalize marks the Entry as handed to user code. Called by the
// Looper immediately after next() reports SUCCESS, before any user
// callback runs, guarding against double-dispatch.
func (e *Entry) finalize() { e.finalized.Store(true) }

// recycle marks the Entry terminal. Called once, either after a
// removed-before-dispatch Entry is dropped or after a dispatched
// Entry's user callback returns.
func (e *Entry) recycle() { e.recycled.Store(true) }

// lessEntry implements the Queue's total order: ascending When,
// ties broken by ascending ID (post order). Used by the Queue's
// insertion sort, never exposed outside the package.
func lessEntry(a, b *Entry) bool {
	if a.when != b.when {
		return a.when < b.when
	}
	return a.id < b.id
}
