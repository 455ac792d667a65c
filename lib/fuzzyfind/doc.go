// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzyfind ranks Looper names against an operator-typed
// query for the dashboard's picker, delegating the actual match
// scoring to fzf's algorithm package the same way
// lib/ticketui/fuzzy.go delegates to it for ticket search — a thin
// wrapper, not a reimplementation, since fzf's V2 algorithm (smith-
// waterman-style scoring tuned for path/identifier fuzzy matching) is
// exactly what a name picker needs and reimplementing it would just
// be a worse copy.
package fuzzyfind
