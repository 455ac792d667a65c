// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amelia-foundation/looper/lib/config"
	"github.com/amelia-foundation/looper/lib/diag"
	"github.com/amelia-foundation/looper/lib/executor"
	"github.com/amelia-foundation/looper/looper"
)

// workerLooper is a fleet.go Looper running for demonstration and the
// dashboard/report commands to inspect. looperd is not a message bus
// for other processes — it is an operator tool that hosts a fixed set
// of named Loopers doing representative synthetic work (periodic
// ticks, occasional bursts) so the dashboard and report commands have
// something real to show against.
type workerLooper struct {
	looper  *looper.Looper
	handler *looper.Handler
	history *diag.History
	pool    *executor.Pool
}

// fleet is the set of Loopers looperd hosts plus the shared Registry
// used to look one up by name (e.g. from the dashboard's fuzzy
// picker).
type fleet struct {
	registry *looper.Registry
	workers  map[string]*workerLooper
	cancel   context.CancelFunc
}

// newFleet constructs and starts the demo fleet described by cfg. Each
// worker is a Looper with an async pool Executor, a diag.History
// sampler wired through an idle handler, and a synthetic periodic
// workload posted at startup that reposts itself.
func newFleet(ctx context.Context, cfg *config.Config, logger *slog.Logger) *fleet {
	ctx, cancel := context.WithCancel(ctx)

	names := []string{"ingest", "render", "dispatch"}
	registry := looper.NewRegistry()
	workers := make(map[string]*workerLooper, len(names))

	for _, name := range names {
		pool := &executor.Pool{}
		l := looper.New(looper.Options{
			Name:                    name,
			Clock:                   nil, // defaults to clock.Real()
			Executor:                pool,
			Logger:                  logger.With("looper", name),
			WarnOnOverload:          cfg.Looper.WarnOnOverload,
			OverloadThresholdMillis: cfg.Looper.OverloadThresholdMillis,
		})
		history := diag.NewHistory(cfg.Looper.HistoryDepth)
		w := &workerLooper{looper: l, handler: l.NewHandler(false), history: history, pool: pool}

		l.AddIdleHandler(func(l *looper.Looper) bool {
			history.Record(diag.Sample{
				At:              time.Now(),
				IterationMillis: l.LastPolledMillis(),
				AverageMillis:   l.AveragePolledMillis(),
				Overloaded:      l.IsOverloaded(),
				QueueDepth:      l.Queue().Len(),
			})
			return true
		})

		if err := registry.Add(l); err != nil {
			panic(fmt.Sprintf("looperd: duplicate fleet member %q: %v", name, err))
		}
		workers[name] = w

		go func() {
			if err := l.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("worker exited", "looper", name, "error", err)
			}
		}()

		scheduleSyntheticWork(ctx, w)
	}

	return &fleet{registry: registry, workers: workers, cancel: cancel}
}

// scheduleSyntheticWork posts a repeating unit of work to w so its
// diagnostics have something to show. Each posted task reposts itself
// roughly every 50ms, and every tenth run also posts a heavier
// synchronous task.
func scheduleSyntheticWork(ctx context.Context, w *workerLooper) {
	var tick func()
	var n int
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		n++
		if n%10 == 0 {
			w.handler.Post(func() {
				// Represents an occasional heavier synchronous unit of work.
				time.Sleep(2 * time.Millisecond)
			})
		}
		w.handler.PostDelayed(tick, 50)
	}
	w.handler.PostDelayed(tick, 50)
}

// Stop quits every Looper in the fleet and waits for their executor
// pools to drain.
func (f *fleet) Stop() {
	f.cancel()
	for _, w := range f.workers {
		w.looper.Quit(context.Background())
		w.pool.Wait()
	}
}

// Names returns the fleet's Looper names in a stable order.
func (f *fleet) Names() []string {
	names := make([]string, 0, len(f.workers))
	for _, name := range []string{"ingest", "render", "dispatch"} {
		if _, ok := f.workers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
