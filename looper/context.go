// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import "context"

// looperContextKey is an unexported type so WithLooper/FromContext
// never collide with keys set by unrelated packages.
type looperContextKey struct{}

// WithLooper returns a copy of ctx carrying l as "the Looper that owns
// whatever goroutine runs with this context", the stand-in for the
// source's Looper.Factory.obtain() lookup on the calling thread.
// Dispatched callables are plain func() values and receive no context,
// so neither the dispatch loop nor the Executor hands such a context
// to user code: code that needs to present its owning Looper (for
// example to quit a FlagSystem Looper) builds it with WithLooper.
func WithLooper(ctx context.Context, l *Looper) context.Context {
	return context.WithValue(ctx, looperContextKey{}, l)
}

// FromContext recovers the Looper stamped by WithLooper, if any.
func FromContext(ctx context.Context) (*Looper, bool) {
	l, ok := ctx.Value(looperContextKey{}).(*Looper)
	return l, ok
}
