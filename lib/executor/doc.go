// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor provides an unbounded, drainable implementation of
// looper.Executor: every Submit spawns a goroutine immediately (no
// queueing, no worker cap, matching the unbounded-parallel-executor
// collaborator spec.md §6 names), but unlike looper.GoroutineExecutor
// it tracks in-flight work with a sync.WaitGroup so a caller can wait
// for outstanding async dispatches to finish during shutdown — the
// same accept-loop drain pattern lib/service.SocketServer uses for its
// per-connection goroutines, applied to per-dispatch goroutines
// instead of per-connection ones.
package executor
