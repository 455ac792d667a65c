// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"context"
	"fmt"
)

// MessageCallback is a Handler-wide message sink. It returns true to
// suppress the Handler's MessageHandler fallback (the message is
// considered fully handled), false to let the MessageHandler run too.
type MessageCallback func(entry *Entry) bool

// MessageHandler is the fallback invoked for a dispatched message
// Entry when neither the Entry's own callable nor the Handler's
// MessageCallback has already handled it.
type MessageHandler func(entry *Entry)

// Handler is a user-facing façade bound to exactly one Looper's Queue.
// It builds, stamps, and posts Entries, and is the dispatch target the
// Looper calls back into for message delivery. A Handler may not be
// rebound to a different Looper after construction.
type Handler struct {
	looper   *Looper
	queue    *Queue
	async    bool
	callback MessageCallback
	onMsg    MessageHandler
}

// NewHandler creates a Handler bound to looper. If async is true,
// every Entry this Handler posts is stamped async regardless of which
// post method is used — the Handler-wide equivalent of marking
// individual posts async.
func NewHandler(l *Looper, async bool) *Handler {
	return &Handler{looper: l, queue: l.queue, async: async}
}

// SetMessageCallback installs the Handler-wide message sink used by
// DispatchMessage before falling back to SetMessageHandler's function.
func (h *Handler) SetMessageCallback(cb MessageCallback) { h.callback = cb }

// SetMessageHandler installs the fallback invoked for a dispatched
// message Entry that carries no callable of its own and was not
// suppressed by a MessageCallback.
func (h *Handler) SetMessageHandler(fn MessageHandler) { h.onMsg = fn }

// Looper returns the Looper this Handler is bound to.
func (h *Handler) Looper() *Looper { return h.looper }

// Post builds a TASK Entry from callable and posts it for immediate
// (when permitting) dispatch. Returns false if the underlying Queue
// has started quitting; the Entry is recycled in that case.
func (h *Handler) Post(callable func()) bool {
	return h.PostAtTime(callable, h.looper.nowMillis())
}

// PostDelayed posts callable to run no sooner than delayMillis from
// now. Negative delays are clamped to zero (a recoverable, non-fatal
// condition per spec §7).
func (h *Handler) PostDelayed(callable func(), delayMillis int64) bool {
	if delayMillis < 0 {
		h.logClampedDelay(delayMillis)
		delayMillis = 0
	}
	return h.PostAtTime(callable, h.looper.nowMillis()+delayMillis)
}

// logClampedDelay records a negative-delay clamp at fine level: a
// recoverable condition per spec §7, not worth a warning.
func (h *Handler) logClampedDelay(delayMillis int64) {
	if h.looper.logger == nil {
		return
	}
	h.looper.logger.Log(context.Background(), LevelFine, "looper: negative delay clamped to 0", "delay_ms", delayMillis)
}

// PostAtTime posts callable to run no sooner than the absolute
// monotonic millisecond time whenMillis. A whenMillis in the past is
// accepted and treated as immediately due, not rejected.
func (h *Handler) PostAtTime(callable func(), whenMillis int64) bool {
	if callable == nil {
		panic("looper: Post requires a non-nil callable")
	}
	entry := newTaskEntry(callable, h.async, h)
	return h.post(entry, whenMillis)
}

// PostAtFrontOfQueue posts callable with When == 0, the same sentinel
// a barrier uses, jumping it ahead of every Entry with a later When;
// Entries already posted at When == 0 stay ahead of it. This is
// documented as hazardous: overuse starves normally-scheduled work and
// interacts surprisingly with barriers sharing When == 0.
func (h *Handler) PostAtFrontOfQueue(callable func()) bool {
	if callable == nil {
		panic("looper: PostAtFrontOfQueue requires a non-nil callable")
	}
	entry := newTaskEntry(callable, h.async, h)
	return h.post(entry, 0)
}

// SendMessage builds a MESSAGE Entry tagged what carrying payload and
// posts it for immediate dispatch.
func (h *Handler) SendMessage(what int, payload any) bool {
	return h.SendMessageAtTime(what, payload, h.looper.nowMillis())
}

// SendMessageDelayed is SendMessage with a delay, clamped as PostDelayed.
func (h *Handler) SendMessageDelayed(what int, payload any, delayMillis int64) bool {
	if delayMillis < 0 {
		h.logClampedDelay(delayMillis)
		delayMillis = 0
	}
	return h.SendMessageAtTime(what, payload, h.looper.nowMillis()+delayMillis)
}

// SendMessageAtTime is SendMessage posted for an absolute due-time.
func (h *Handler) SendMessageAtTime(what int, payload any, whenMillis int64) bool {
	entry := newMessageEntry(what, payload, nil, h.async, h)
	return h.post(entry, whenMillis)
}

// SendEmptyMessage sends a message tagged what carrying no payload.
func (h *Handler) SendEmptyMessage(what int) bool {
	return h.SendMessage(what, nil)
}

func (h *Handler) post(entry *Entry, whenMillis int64) bool {
	err := h.queue.Post(entry, whenMillis)
	return err == nil
}

// PostBarrier forwards to the underlying Queue.
func (h *Handler) PostBarrier() int64 { return h.queue.PostBarrier() }

// RemoveBarrier forwards to the underlying Queue.
func (h *Handler) RemoveBarrier(token int64) { h.queue.RemoveBarrier(token) }

// Remove cancels every pending Entry targeting this Handler for which
// predicate returns true. Entries already handed to user code cannot
// be cancelled.
func (h *Handler) Remove(predicate func(*Entry) bool) {
	h.queue.Remove(func(e *Entry) bool {
		return e.target == h && predicate(e)
	})
}

// RemoveWhat cancels every pending message Entry targeting this
// Handler with the given what tag — the common case of Remove.
func (h *Handler) RemoveWhat(what int) {
	h.Remove(func(e *Entry) bool { return e.kind == KindMessage && e.what == what })
}

// dispatchMessage is called by the Looper for a SUCCESS Entry
// targeting this Handler. If the Entry carries its own callable, it
// runs that. Otherwise, if a MessageCallback is installed, it runs
// that first; unless it returns true (suppressing further delivery),
// the Handler's MessageHandler fallback then runs. Panics from user
// code are recovered by the caller (Looper.runEntry), not here.
func (h *Handler) dispatchMessage(entry *Entry) {
	if entry.callable != nil {
		entry.callable()
		return
	}
	if h.callback != nil {
		if suppressed := h.callback(entry); suppressed {
			return
		}
	}
	if h.onMsg != nil {
		h.onMsg(entry)
		return
	}
	if h.looper.logger != nil {
		h.looper.logger.Warn(fmt.Sprintf("looper: message what=%d dispatched with no handler installed", entry.what))
	}
}
