// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import "errors"

// ErrQueueQuitting is returned by Queue operations that mutate a
// queue which has already started quitting. This is a recoverable
// condition: callers see it (or the false returned by Handler's post
// methods) and may drop the work silently, matching Android's
// Handler.post returning false rather than throwing.
var ErrQueueQuitting = errors.New("looper: queue is quitting")

// ErrAlreadyRunning is returned by Run when the Looper's dispatch loop
// has already been joined by a goroutine (or is still running from a
// prior call). A Looper's loop may be run at most once.
var ErrAlreadyRunning = errors.New("looper: dispatch loop already joined")

// ErrDestroyWhileRunning is returned by Destroy when the Looper's
// dispatch loop is still running. Destroy requires the loop to have
// exited first.
var ErrDestroyWhileRunning = errors.New("looper: cannot destroy a running looper")

// ErrSystemQuitForbidden is returned by Quit/QuitSafely when called
// against a SYSTEM- or PLUGIN-flagged Looper with a context that does
// not carry that Looper (see WithLooper). Such Loopers may only be
// quit with a context stamped with the Looper itself.
var ErrSystemQuitForbidden = errors.New("looper: SYSTEM loopers may only quit from their own context")
