// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"context"
	"testing"
	"time"

	"github.com/amelia-foundation/looper/lib/clock"
)

func TestRegistryAddGet(t *testing.T) {
	r := NewRegistry()
	l := New(Options{Name: "worker-1", Clock: clock.Fake(time.Unix(0, 0))})

	if err := r.Add(l); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := r.Get("worker-1")
	if !ok || got != l {
		t.Errorf("Get(worker-1) = (%v, %v), want (l, true)", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should report not-found")
	}
}

func TestRegistryAddConflict(t *testing.T) {
	r := NewRegistry()
	a := New(Options{Name: "dup", Clock: clock.Fake(time.Unix(0, 0))})
	b := New(Options{Name: "dup", Clock: clock.Fake(time.Unix(0, 0))})

	if err := r.Add(a); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := r.Add(b); err == nil {
		t.Error("Add(b) with a duplicate name should fail")
	}
}

func TestRegistryObtainCreatesOnMiss(t *testing.T) {
	r := NewRegistry()
	l := r.Obtain("default", Options{Clock: clock.Fake(time.Unix(0, 0))})
	if l == nil {
		t.Fatal("Obtain should create a Looper when none is registered")
	}
	if again := r.Obtain("default", Options{Clock: clock.Fake(time.Unix(0, 0))}); again != l {
		t.Error("Obtain should return the existing Looper on a second call")
	}
}

func TestRegistryObtainMatchingReplacesOnPredicateFailure(t *testing.T) {
	r := NewRegistry()
	original := r.Obtain("picky", Options{Clock: clock.Fake(time.Unix(0, 0))})

	replacement := r.ObtainMatching("picky", func(l *Looper) bool {
		return l.flags.has(FlagAsync)
	}, Options{Flags: FlagAsync, Clock: clock.Fake(time.Unix(0, 0))})

	if replacement == original {
		t.Error("ObtainMatching should replace a Looper that fails the predicate")
	}
	if !replacement.flags.has(FlagAsync) {
		t.Error("replacement Looper should carry the requested flags")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	l := New(Options{Name: "gone", Clock: clock.Fake(time.Unix(0, 0))})
	r.Add(l)
	r.Remove("gone")
	if _, ok := r.Get("gone"); ok {
		t.Error("Get should fail to find a removed Looper")
	}
}

func TestWithLooperFromContext(t *testing.T) {
	l := New(Options{Name: "ctx", Clock: clock.Fake(time.Unix(0, 0))})
	ctx := WithLooper(context.Background(), l)

	got, ok := FromContext(ctx)
	if !ok || got != l {
		t.Errorf("FromContext = (%v, %v), want (l, true)", got, ok)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on a bare context should report not-found")
	}
}
