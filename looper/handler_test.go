// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"context"
	"testing"
	"time"

	"github.com/amelia-foundation/looper/lib/clock"
)

func newTestLooper(t *testing.T, opts Options) *Looper {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = clock.Fake(time.Unix(0, 0))
	}
	if opts.Name == "" {
		opts.Name = t.Name()
	}
	return New(opts)
}

func TestHandlerPostDispatchesInline(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	done := make(chan struct{})
	if !h.Post(func() { close(done) }) {
		t.Fatal("Post returned false")
	}

	result, entry, _ := l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() = %v, want SUCCESS", result)
	}
	l.dispatch(context.Background(), entry)

	select {
	case <-done:
	default:
		t.Fatal("callable was not invoked")
	}
	if !entry.Finalized() || !entry.Recycled() {
		t.Error("entry should be finalized and recycled after inline dispatch")
	}
}

func TestHandlerSendMessageDispatch(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	var got int
	h.SetMessageHandler(func(e *Entry) { got = e.What() })

	h.SendMessage(42, "payload")

	result, entry, _ := l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() = %v, want SUCCESS", result)
	}
	l.dispatch(context.Background(), entry)

	if got != 42 {
		t.Errorf("handled what = %d, want 42", got)
	}
	if entry.Payload() != "payload" {
		t.Errorf("payload = %v, want %q", entry.Payload(), "payload")
	}
}

func TestHandlerMessageCallbackSuppression(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	var fallbackCalled bool
	h.SetMessageCallback(func(e *Entry) bool { return true })
	h.SetMessageHandler(func(e *Entry) { fallbackCalled = true })

	h.SendEmptyMessage(1)
	result, entry, _ := l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() = %v, want SUCCESS", result)
	}
	l.dispatch(context.Background(), entry)

	if fallbackCalled {
		t.Error("MessageHandler fallback ran despite callback suppression")
	}
}

func TestHandlerNegativeDelayClamped(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	h.PostDelayed(func() {}, -500)

	result, entry, _ := l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() = %v, want SUCCESS", result)
	}
	if entry.When() != l.nowMillis() && entry.When() != 0 {
		t.Errorf("When() = %d, want clamped to now (<=0 delay)", entry.When())
	}
}

func TestHandlerRemoveWhat(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	h.SendEmptyMessage(1)
	h.SendEmptyMessage(2)
	h.SendEmptyMessage(1)

	h.RemoveWhat(1)

	var delivered []int
	for {
		result, entry, _ := l.queue.next(l.nowMillis())
		if result != ResultSuccess {
			break
		}
		delivered = append(delivered, entry.What())
		l.queue.clearActive()
	}
	if len(delivered) != 1 || delivered[0] != 2 {
		t.Errorf("delivered = %v, want [2]", delivered)
	}
}

// S6: posting from inside a dispatched callback on the same Handler
// must not deadlock, and the re-entrant post is delivered next.
func TestHandlerReentrantPost(t *testing.T) {
	l := newTestLooper(t, Options{})
	h := l.NewHandler(false)

	var bRan bool
	done := make(chan struct{})
	h.Post(func() {
		h.Post(func() {
			bRan = true
			close(done)
		})
	})

	result, entry, _ := l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() #1 = %v, want SUCCESS", result)
	}
	l.dispatch(context.Background(), entry)

	result, entry, _ = l.queue.next(l.nowMillis())
	if result != ResultSuccess {
		t.Fatalf("next() #2 = %v, want SUCCESS", result)
	}
	l.dispatch(context.Background(), entry)

	select {
	case <-done:
	default:
	}
	if !bRan {
		t.Error("re-entrantly posted callable B did not run")
	}
}
