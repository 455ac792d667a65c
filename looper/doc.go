// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package looper implements a thread-affine message-loop scheduler: an
// ordered, time-scheduled, optionally-blocking task queue driven by a
// single dispatch loop, with a Handler facade for posting typed
// messages, barrier-based stalling, overload detection, and an orderly
// quit protocol.
//
// # Shape
//
// Five pieces, leaves first:
//
//   - [Entry] — one enqueueable unit: a task, a message, or a barrier.
//   - [Queue] — the ordered, locked store of Entries a Looper owns.
//   - [Handler] — a facade bound to one Looper's Queue; builds, stamps,
//     and posts Entries, and dispatches delivered messages back to user
//     code.
//   - [Looper] — the thread-bound driver: owns the Queue, runs the
//     dispatch loop, tracks iteration time and overload, and implements
//     the quit protocol.
//   - [Registry] — a process-scoped, name-keyed set of known Loopers,
//     the explicit replacement for a thread-identity lookup table.
//
// Data flows one way at steady state: user code -> Handler -> Queue
// (post) -> Looper -> Handler (dispatch) -> user callback. Control
// flows the other way only via quit requests and wake signals.
//
// # Thread affinity without thread-local storage
//
// Go goroutines have no introspectable identity, so "the Looper owned
// by the calling thread" cannot be answered by inspecting the caller.
// Instead, the Looper that owns a goroutine is carried explicitly on a
// [context.Context] built with [WithLooper] and read back with
// [FromContext]. Dispatched entries are plain func() callables and
// receive no context, so code that needs its owning Looper propagates
// such a context itself.
package looper
