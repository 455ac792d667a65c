// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package diag records per-iteration diagnostic samples for a running
// Looper in a fixed-capacity ring, the same fixed-size
// overwrite-oldest circular buffer shape the dashboard's predecessor
// used for terminal output history, generalized from raw bytes to
// structured [Sample] values.
//
// A [History] is written to from the Looper's own goroutine (typically
// via an idle handler or a wrapped dispatch hook) and read from the
// dashboard or `looperd report` on any goroutine; all methods are
// safe for concurrent use.
package diag
