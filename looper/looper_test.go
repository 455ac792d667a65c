// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"context"
	"testing"
	"time"

	"github.com/amelia-foundation/looper/lib/clock"
)

func TestLooperRunDispatchesAndAutoQuits(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{Name: "t", Flags: FlagAutoQuit, Clock: fc})
	h := l.NewHandler(false)

	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		h.Post(func() { ran = append(ran, i) })
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit under AUTO_QUIT")
	}

	if len(ran) != 3 || ran[0] != 0 || ran[1] != 1 || ran[2] != 2 {
		t.Errorf("ran = %v, want [0 1 2]", ran)
	}
}

func TestLooperRunAtMostOnce(t *testing.T) {
	l := New(Options{Name: "t", Flags: FlagAutoQuit, Clock: clock.Fake(time.Unix(0, 0))})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-done

	if err := l.Run(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestLooperPanicRecoveredByExceptionSink(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	var recovered any
	sink := exceptionSinkFunc(func(name string, r any) { recovered = r })
	l := New(Options{Name: "t", Flags: FlagAutoQuit, Clock: fc, Sink: sink})
	h := l.NewHandler(false)

	h.Post(func() { panic("boom") })

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after panicking task")
	}

	if recovered != "boom" {
		t.Errorf("recovered = %v, want %q", recovered, "boom")
	}
}

type exceptionSinkFunc func(looperName string, recovered any)

func (f exceptionSinkFunc) Handle(looperName string, recovered any) { f(looperName, recovered) }

func TestLooperIdleHandlerRunsWhenEmpty(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{Name: "t", Flags: FlagAutoQuit, Clock: fc})

	var idleCount int
	l.AddIdleHandler(func(l *Looper) bool {
		idleCount++
		return false // remove after first run
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit")
	}

	if idleCount == 0 {
		t.Error("idle handler never ran")
	}
}

func TestLooperSystemQuitForbiddenOffThread(t *testing.T) {
	l := New(Options{Name: "sys", Flags: FlagSystem | FlagAutoQuit, Clock: clock.Fake(time.Unix(0, 0))})

	if err := l.QuitSafely(context.Background()); err != ErrSystemQuitForbidden {
		t.Errorf("QuitSafely off-thread = %v, want ErrSystemQuitForbidden", err)
	}
}

func TestLooperSystemQuitAllowedFromOwnContext(t *testing.T) {
	l := New(Options{Name: "sys", Flags: FlagSystem, Clock: clock.Fake(time.Unix(0, 0))})
	ownCtx := WithLooper(context.Background(), l)

	if err := l.QuitSafely(ownCtx); err != nil {
		t.Errorf("QuitSafely from own context = %v, want nil", err)
	}
}

func TestLooperDestroyWhileRunningFails(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{Name: "t", Flags: FlagBlocking, Clock: fc})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	for !l.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	if err := l.Destroy(); err != ErrDestroyWhileRunning {
		t.Errorf("Destroy while running = %v, want ErrDestroyWhileRunning", err)
	}

	l.Quit(context.Background())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after Quit")
	}
}

// A barrier withholding the only pending synchronous Entry, with
// nothing async to bypass it, must make the loop cooperatively sleep
// (STALLED joins EMPTY/WAITING) rather than busy-spin calling next()
// in a tight loop.
func TestLooperStalledBehindBarrierCooperativelySleeps(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{Name: "t", Clock: fc})
	h := l.NewHandler(false)

	h.PostBarrier()
	h.Post(func() {})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	slept := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc.PendingCount() > 0 {
			slept = true
			break
		}
		time.Sleep(time.Millisecond)
	}

	l.Quit(context.Background())
	fc.Advance(50 * time.Millisecond) // wakes the cooperative sleep so Run can exit

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit during cleanup")
	}

	if !slept {
		t.Fatal("looper never cooperatively slept while stalled behind a barrier")
	}
}

// Quitting a Looper while a barrier is still live must not hang: quit
// drops the barrier so the loop can reach EMPTY and exit.
func TestLooperQuitWithLiveBarrierDoesNotHang(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{Name: "t", Clock: fc})
	h := l.NewHandler(false)

	h.PostBarrier()
	h.Post(func() {})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	for !l.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	// Wait for the loop to observe STALLED and enter its cooperative
	// sleep at least once before quitting.
	deadline := time.Now().Add(2 * time.Second)
	for fc.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("looper never entered its cooperative sleep")
		}
		time.Sleep(time.Millisecond)
	}

	l.Quit(context.Background())
	fc.Advance(50 * time.Millisecond) // wakes the cooperative sleep

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after Quit with a live barrier")
	}
}

func TestLooperOverloadDetection(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	l := New(Options{
		Name:                    "t",
		Clock:                   fc,
		OverloadThresholdMillis: 10,
	})

	// Drive accountIteration directly with a sustained 200ms-per-loop
	// elapsed time, well past the 10ms threshold; avoids routing
	// through Run's cooperative-sleep paths, which would block forever
	// waiting for a fake clock nothing else is advancing.
	for i := 0; i < 30; i++ {
		loopStart := fc.Now()
		fc.Advance(200 * time.Millisecond)
		l.accountIteration(loopStart)
	}

	if !l.IsOverloaded() {
		t.Error("Looper should report overloaded after sustained slow iterations")
	}
	if avg := l.AveragePolledMillis(); avg <= 10 {
		t.Errorf("AveragePolledMillis = %v, want > 10", avg)
	}

	// Work subsides: fast iterations bring the average back down.
	for i := 0; i < 30; i++ {
		loopStart := fc.Now()
		fc.Advance(time.Millisecond)
		l.accountIteration(loopStart)
	}
	if l.IsOverloaded() {
		t.Error("Looper should clear overloaded once work subsides")
	}
}
