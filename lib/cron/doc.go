// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses standard 5-field cron expressions and computes
// the next occurrence after a given time.
//
// Supported syntax:
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, 0=Sunday)
//	│ │ │ │ │
//	* * * * *
//
// Each field supports:
//   - Single values: 5
//   - Ranges: 1-5
//   - Lists: 1,3,5
//   - Steps: */15, 1-30/5
//   - Wildcard: *
//
// All times are UTC. No @yearly/@monthly shortcuts, no seconds field,
// no named days/months. This is intentionally minimal — looperd
// schedules use UTC wall-clock time exclusively.
//
// looperd's report command uses [Schedule.Next] to compute the next
// scheduled dump time when run with --every, re-arming a
// Handler.PostAtTime on the reporting Looper after each dump rather
// than a free-running ticker. The next occurrence is computed from the
// wall clock (time.Now), and the resulting delay is added to the
// Looper's own uptime clock.
package cron
