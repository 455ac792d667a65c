// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amelia-foundation/looper/lib/clock"
)

// LevelFine is a custom slog level below Debug, matching the source's
// four severities (fine/info/warning/severe) rather than the three
// slog ships with by default.
const LevelFine slog.Level = slog.LevelDebug - 4

// Flag is a bitmask of Looper behaviors.
type Flag int

const (
	// FlagBlocking enables the Queue's internal condition wait: next()
	// suspends the dispatch-loop goroutine instead of returning
	// EMPTY/WAITING immediately.
	FlagBlocking Flag = 1 << iota
	// FlagAsync makes every Entry this Looper dispatches go through
	// the parallel Executor rather than running inline.
	FlagAsync
	// FlagSystem forbids Quit with any context not carrying this
	// Looper (see WithLooper), and forbids Destroy altogether.
	FlagSystem
	// FlagPlugin is analogous to FlagSystem but scoped to a plugin
	// owner rather than the whole process; enforcement is identical.
	FlagPlugin
	// FlagAutoQuit asks the Looper to begin quitting as soon as next()
	// first reports EMPTY.
	FlagAutoQuit
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// state is the Looper's internal state-machine bitmask.
type state int

const (
	statePolling state = 1 << iota
	stateStalled
	stateQuitting
)

// Executor submits a callable for execution on an unbounded parallel
// worker pool. Submissions are not guaranteed ordering relative to
// each other or to the Looper's own synchronous dispatch.
type Executor interface {
	Submit(task func())
}

// ExceptionSink receives any panic recovered from a dispatched Entry's
// user code. The Looper never lets a panic escape the dispatch loop.
type ExceptionSink interface {
	Handle(looperName string, recovered any)
}

// slogExceptionSink is the default ExceptionSink, logging recovered
// panics at severe/Error level.
type slogExceptionSink struct{ logger *slog.Logger }

func (s slogExceptionSink) Handle(looperName string, recovered any) {
	s.logger.Error("looper: user callback panicked", "looper", looperName, "recovered", fmt.Sprint(recovered))
}

// IdleHandler is consulted every iteration the dispatch loop finds
// nothing immediately ready to dispatch. Returning true keeps it
// registered; false removes it.
type IdleHandler func(l *Looper) bool

// Options configures a new Looper. Clock, Executor, and Logger default
// to production-sensible values (clock.Real(), an unbounded
// goroutine-per-task Executor, and slog.Default()) when left zero.
type Options struct {
	Name     string
	Flags    Flag
	Clock    clock.Clock
	Executor Executor
	Logger   *slog.Logger
	Sink     ExceptionSink

	// WarnOnOverload mirrors the external Config collaborator's
	// warnOnOverload flag (spec §6). It is used as given: the zero
	// value (false) disables the warning. lib/config defaults it to
	// true.
	WarnOnOverload bool
	// OverloadThresholdMillis mirrors averageOverloadThresholdMs,
	// default 100.
	OverloadThresholdMillis int64
}

// Looper is the thread-bound driver: it owns a Queue, runs the
// dispatch loop, tracks iteration time and overload, and implements
// the quit protocol. Call Run on the goroutine meant to host it; Run
// blocks until the loop exits.
type Looper struct {
	name  string
	flags Flag
	queue *Queue
	clock clock.Clock
	exec  Executor
	sink  ExceptionSink

	logger *slog.Logger

	warnOnOverload   bool
	overloadThreshMs int64

	epoch time.Time

	mu             sync.Mutex
	st             state
	lastPolledMs   int64
	averagePolled  float64
	isOverloaded   bool
	lastOverloadAt time.Time
	lastYieldAt    time.Time

	idleMu  sync.Mutex
	idleSeq int
	idles   map[int]IdleHandler
	idleOrd []int

	ranAtAll  atomic.Bool
	running   atomic.Bool
	runnerCtx atomic.Pointer[context.Context] // set once Run begins
}

// New constructs a Looper in the not-running state and a bound Queue.
// It is not added to any Registry automatically; call Registry.Add (or
// Registry.Obtain) if process-wide lookup by name is needed.
func New(opts Options) *Looper {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	exec := opts.Executor
	if exec == nil {
		exec = GoroutineExecutor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.OverloadThresholdMillis
	if threshold == 0 {
		threshold = 100
	}

	l := &Looper{
		name:             opts.Name,
		flags:            opts.Flags,
		clock:            clk,
		exec:             exec,
		logger:           logger,
		warnOnOverload:   opts.WarnOnOverload,
		overloadThreshMs: threshold,
		epoch:            clk.Now(),
		idles:            make(map[int]IdleHandler),
	}
	if opts.Sink != nil {
		l.sink = opts.Sink
	} else {
		l.sink = slogExceptionSink{logger: logger}
	}
	l.queue = NewQueue(clk, l.nowMillis, opts.Flags&(FlagBlocking|FlagAsync))
	bg := context.Context(context.Background())
	l.runnerCtx.Store(&bg)
	return l
}

// Name returns the Looper's process-unique label, used for logging,
// the Registry, and the dashboard.
func (l *Looper) Name() string { return l.name }

// Queue returns the Looper's bound Queue.
func (l *Looper) Queue() *Queue { return l.queue }

// NewHandler is a convenience for NewHandler(l, async).
func (l *Looper) NewHandler(async bool) *Handler { return NewHandler(l, async) }

// nowMillis returns the current monotonic time relative to the
// Looper's construction epoch, in milliseconds.
func (l *Looper) nowMillis() int64 {
	return l.clock.Now().Sub(l.epoch).Milliseconds()
}

// UptimeMillis is nowMillis exposed publicly, matching the spec's
// Clock.uptimeMillis/nowMillis collaborator (spec §6 treats the two as
// interchangeable).
func (l *Looper) UptimeMillis() int64 { return l.nowMillis() }

// IsOverloaded reports whether the exponentially-smoothed iteration
// time currently exceeds the configured threshold.
func (l *Looper) IsOverloaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isOverloaded
}

// AveragePolledMillis returns the current smoothed iteration time.
func (l *Looper) AveragePolledMillis() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.averagePolled
}

// LastPolledMillis returns the wall-clock duration of the most recent
// dispatch-loop iteration, unsmoothed. Intended for diagnostics
// sampling (see lib/diag.History); overload decisions are made against
// the smoothed AveragePolledMillis, not this raw value.
func (l *Looper) LastPolledMillis() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPolledMs
}

// AddIdleHandler registers fn to run whenever the dispatch loop finds
// nothing immediately ready. Returns an id usable with
// RemoveIdleHandler.
func (l *Looper) AddIdleHandler(fn IdleHandler) int {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	id := l.idleSeq
	l.idleSeq++
	l.idles[id] = fn
	l.idleOrd = append(l.idleOrd, id)
	return id
}

// RemoveIdleHandler unregisters the idle handler with the given id.
func (l *Looper) RemoveIdleHandler(id int) {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	delete(l.idles, id)
}

// runIdleHandlers runs every registered idle handler in insertion
// order, dropping any that return false or request removal themselves.
func (l *Looper) runIdleHandlers() {
	l.idleMu.Lock()
	order := make([]int, len(l.idleOrd))
	copy(order, l.idleOrd)
	l.idleMu.Unlock()

	var toRemove []int
	for _, id := range order {
		l.idleMu.Lock()
		fn, ok := l.idles[id]
		l.idleMu.Unlock()
		if !ok {
			continue
		}
		if keep := l.safeRunIdle(fn); !keep {
			toRemove = append(toRemove, id)
		}
	}

	if len(toRemove) == 0 {
		return
	}
	l.idleMu.Lock()
	for _, id := range toRemove {
		delete(l.idles, id)
	}
	l.idleMu.Unlock()
}

func (l *Looper) safeRunIdle(fn IdleHandler) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			l.sink.Handle(l.name, r)
			keep = false
		}
	}()
	return fn(l)
}

// Run enters the dispatch loop on the calling goroutine and blocks
// until the Looper quits. A Looper's loop may be run at most once;
// subsequent calls return ErrAlreadyRunning immediately.
func (l *Looper) Run(ctx context.Context) error {
	if !l.ranAtAll.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.running.Store(true)
	defer l.running.Store(false)

	runCtx := WithLooper(ctx, l)
	l.runnerCtx.Store(&runCtx)

	l.setState(statePolling)

	for {
		loopStart := l.clock.Now()
		loopStartMs := loopStart.Sub(l.epoch).Milliseconds()

		result, entry, nextWhen := l.queue.next(loopStartMs)

		switch result {
		case ResultSuccess:
			l.dispatch(runCtx, entry)
		case ResultEmpty, ResultStalled, ResultWaiting:
			l.runIdleHandlers()
			if result == ResultEmpty && l.flags.has(FlagAutoQuit) && !l.queue.IsQuitting() {
				l.queue.quit(l.nowMillis(), false)
			}
			// An EMPTY result while already quitting means the loop is
			// about to exit: skip the cooperative sleep rather than
			// pointlessly yielding before shutting down. STALLED gets no
			// such exception: a live barrier with no async Entry ready to
			// bypass it must still cooperatively sleep like EMPTY/WAITING,
			// or the loop busy-spins for as long as the barrier is held.
			exiting := result == ResultEmpty && l.queue.IsQuitting()
			if !exiting {
				l.cooperativeIdleSleep(nextWhen)
			}
		}

		if l.accountIteration(loopStart) {
			l.clock.Sleep(20 * time.Millisecond)
		}

		if l.queue.IsQuitting() && result == ResultEmpty {
			break
		}
	}

	l.clearState(statePolling | stateStalled)
	l.setState(stateQuitting)
	return nil
}

// cooperativeIdleSleep implements step 3's closing clause: the Looper
// must not busy-spin between EMPTY/WAITING results (BLOCKING already
// did any waiting worth doing inside next()), so it sleeps at most
// 50ms, bounded by the next due entry if sooner.
func (l *Looper) cooperativeIdleSleep(nextWhenMs int64) {
	if l.flags.has(FlagBlocking) {
		// next() already blocked until ready or timeout; no further
		// cooperative sleep is needed or correct here.
		return
	}
	sleep := 50 * time.Millisecond
	if nextWhenMs > 0 {
		now := l.nowMillis()
		if remaining := nextWhenMs - now; remaining >= 0 && time.Duration(remaining)*time.Millisecond < sleep {
			sleep = time.Duration(remaining) * time.Millisecond
		}
	}
	l.clock.Sleep(sleep)
}

// dispatch handles a SUCCESS result: finalize, then run inline or
// submit to the Executor depending on the Entry's and the Looper's
// async flags, recycling the Entry once user code returns.
func (l *Looper) dispatch(ctx context.Context, entry *Entry) {
	entry.finalize()

	runAsync := entry.async || l.flags.has(FlagAsync)
	run := func() {
		l.runEntry(entry)
		entry.recycle()
		l.queue.clearActive()
	}

	if !runAsync {
		run()
		return
	}

	l.queue.clearActive()
	l.exec.Submit(func() {
		defer entry.recycle()
		l.runEntryCtx(ctx, entry)
	})
}

// runEntry invokes the Entry's callable (for a task) or its Handler's
// dispatchMessage (for a message), recovering any panic and forwarding
// it to the exception sink without affecting dispatch of subsequent
// Entries.
func (l *Looper) runEntry(entry *Entry) {
	l.runEntryCtx(l.context(), entry)
}

func (l *Looper) runEntryCtx(ctx context.Context, entry *Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.sink.Handle(l.name, r)
		}
	}()

	switch entry.kind {
	case KindTask:
		entry.callable()
	case KindMessage:
		if entry.target != nil {
			entry.target.dispatchMessage(entry)
		} else if entry.callable != nil {
			entry.callable()
		}
	}
}

// context returns the context the dispatch loop stamped with this
// Looper when Run began (or context.Background() before Run is
// called).
func (l *Looper) context() context.Context {
	return *l.runnerCtx.Load()
}

// accountIteration updates lastPolledMillis/averagePolledMillis and
// the overload flag after one full dispatch-loop iteration. Returns
// true if the caller should additionally yield 20ms beyond its normal
// cooperative sleep; accountIteration itself never sleeps, so it can
// be driven directly (and deterministically) from tests.
//
// loopStart is recorded before Queue.next is called, so elapsed
// includes any time next spent blocked or the loop spent in its
// cooperative sleep, not just active dispatch work. An idle BLOCKING
// looper's wait time therefore counts toward averagePolled the same
// as busy time; this matches the source's own timing order, not an
// oversight.
func (l *Looper) accountIteration(loopStart time.Time) (forceYield bool) {
	elapsed := l.clock.Now().Sub(loopStart)
	if elapsed < 0 {
		l.logger.Warn("looper: clock ran backwards", "looper", l.name)
		elapsed = 0
	}
	elapsedMs := float64(elapsed.Milliseconds())

	l.mu.Lock()
	l.lastPolledMs = int64(elapsedMs)
	// EWMA, alpha = 0.125: replaces the source's (min-max)/2 formula,
	// which produces negative "averages" and is flagged as a bug.
	const alpha = 0.125
	l.averagePolled += alpha * (elapsedMs - l.averagePolled)

	overloaded := l.averagePolled > float64(l.overloadThreshMs)
	l.isOverloaded = overloaded
	var shouldWarn bool
	if overloaded && l.warnOnOverload {
		now := l.clock.Now()
		if now.Sub(l.lastOverloadAt) >= 15*time.Second {
			l.lastOverloadAt = now
			shouldWarn = true
		}
	}

	now := l.clock.Now()
	if overloaded && now.Sub(l.lastYieldAt) >= time.Second {
		l.lastYieldAt = now
		forceYield = true
	}
	l.mu.Unlock()

	if shouldWarn {
		l.logger.Warn("looper: can't keep up", "looper", l.name, "average_ms", l.averagePolled)
	}
	return forceYield
}

func (l *Looper) setState(s state) {
	l.mu.Lock()
	l.st |= s
	l.mu.Unlock()
}

func (l *Looper) clearState(s state) {
	l.mu.Lock()
	l.st &^= s
	l.mu.Unlock()
}

// IsRunning reports whether the dispatch loop is currently executing.
func (l *Looper) IsRunning() bool { return l.running.Load() }

// QuitSafely drops only Entries with When in the future, keeping
// already-due ones for the loop to drain before it exits.
func (l *Looper) QuitSafely(ctx context.Context) error {
	if err := l.checkQuitAllowed(ctx); err != nil {
		return err
	}
	l.setState(stateQuitting)
	l.queue.quit(l.nowMillis(), false)
	return nil
}

// Quit drops every pending Entry unconditionally, used by
// QuitAndDestroy. dropAll mirrors the source's quit(removePendingMessages).
func (l *Looper) Quit(ctx context.Context) error {
	if err := l.checkQuitAllowed(ctx); err != nil {
		return err
	}
	l.setState(stateQuitting)
	l.queue.quit(l.nowMillis(), true)
	return nil
}

// QuitAndDestroy quits dropping everything, then waits for the loop to
// exit and releases loop-owned resources. It must not be called from
// the Looper's own dispatch-loop goroutine (it would deadlock waiting
// for itself to exit); call it from an external goroutine instead.
func (l *Looper) QuitAndDestroy(ctx context.Context) error {
	if err := l.Quit(ctx); err != nil {
		return err
	}
	for l.IsRunning() {
		l.clock.Sleep(time.Millisecond)
	}
	return l.Destroy()
}

// Destroy releases the Looper's resources. It is a fatal programming
// error to call Destroy while the loop is running, and FlagSystem and
// FlagPlugin Loopers may never be destroyed.
func (l *Looper) Destroy() error {
	if l.IsRunning() {
		return ErrDestroyWhileRunning
	}
	if l.flags.has(FlagSystem | FlagPlugin) {
		panic("looper: SYSTEM and PLUGIN loopers cannot be destroyed")
	}
	return nil
}

// checkQuitAllowed enforces that a FlagSystem or FlagPlugin Looper may
// only be quit with a context carrying this Looper via WithLooper.
// Dispatched callables receive no context, so such a context is one
// the caller has built itself.
func (l *Looper) checkQuitAllowed(ctx context.Context) error {
	if !l.flags.has(FlagSystem | FlagPlugin) {
		return nil
	}
	owner, ok := FromContext(ctx)
	if !ok || owner != l {
		return ErrSystemQuitForbidden
	}
	return nil
}

// GoroutineExecutor is the default Executor: an unbounded pool that
// spawns one goroutine per submission, matching the spec's "unbounded
// parallel worker executor, daemon threads" collaborator (spec §6) —
// Go has no daemon/non-daemon thread distinction, so a bare goroutine
// is the direct equivalent.
type GoroutineExecutor struct{}

// Submit runs task on a new goroutine.
func (GoroutineExecutor) Submit(task func()) { go task() }
