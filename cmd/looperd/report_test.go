// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amelia-foundation/looper/lib/clock"
	"github.com/amelia-foundation/looper/lib/cron"
	"github.com/amelia-foundation/looper/looper"
)

func sampleReport() fleetReport {
	return fleetReport{
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Workers: []workerReport{
			{Name: "ingest", Running: true, AverageMillis: 1.5, LastMillis: 2, QueueDepth: 3, Overloaded: false, SamplesRetained: 10, SamplesTotal: 20},
			{Name: "render", Running: true, AverageMillis: 120.0, LastMillis: 150, QueueDepth: 8, Overloaded: true, SamplesRetained: 10, SamplesTotal: 30},
		},
	}
}

func TestRenderMarkdownIncludesEveryWorker(t *testing.T) {
	md := renderMarkdown(sampleReport())
	if !strings.Contains(md, "ingest") || !strings.Contains(md, "render") {
		t.Errorf("markdown report missing a worker row: %s", md)
	}
	if !strings.Contains(md, "| Name |") {
		t.Error("markdown report missing table header")
	}
}

func TestRenderHTMLWrapsDocument(t *testing.T) {
	html, err := renderHTML(sampleReport())
	if err != nil {
		t.Fatalf("renderHTML: %v", err)
	}
	if !strings.Contains(html, "<html>") || !strings.Contains(html, "ingest") {
		t.Errorf("html report missing expected content: %s", html)
	}
}

func TestEncodeCBORRoundTripsDeterministically(t *testing.T) {
	report := sampleReport()
	a, err := encodeCBOR(report)
	if err != nil {
		t.Fatalf("encodeCBOR: %v", err)
	}
	b, err := encodeCBOR(report)
	if err != nil {
		t.Fatalf("encodeCBOR (second call): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encodeCBOR should be deterministic for identical input")
	}
	if len(a) == 0 {
		t.Error("encodeCBOR produced empty output")
	}
}

func TestWriteReportGzip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, formatMarkdown, true, sampleReport()); err != nil {
		t.Fatalf("writeReport: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("gzip-compressed report should be non-empty")
	}
	// gzip magic bytes.
	if buf.Bytes()[0] != 0x1f || buf.Bytes()[1] != 0x8b {
		t.Error("compressed output missing gzip magic header")
	}
}

func TestWriteReportUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, reportFormat("bogus"), false, sampleReport()); err == nil {
		t.Error("expected an error for an unknown report format")
	}
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}

func TestScheduleReportLoopWritesFirstReportOnTheLoopThread(t *testing.T) {
	schedule, err := cron.Parse("* * * * *")
	if err != nil {
		t.Fatalf("cron.Parse: %v", err)
	}

	l := looper.New(looper.Options{Name: "report-scheduler", Clock: clock.Real()})
	h := l.NewHandler(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	defer func() {
		l.Quit(context.Background())
		wg.Wait()
	}()

	empty := &fleet{workers: map[string]*workerLooper{}}

	var mu sync.Mutex
	var buf bytes.Buffer
	safeWriter := syncWriter{mu: &mu, buf: &buf}

	h.Post(func() {
		scheduleReportLoop(h, schedule, empty, formatMarkdown, false, safeWriter, discardLogger{})
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := buf.String()
		mu.Unlock()
		if strings.Contains(got, "looperd fleet report") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scheduleReportLoop's initial report never ran")
}

// syncWriter guards buf with mu so the test goroutine can poll it while
// the Looper's own goroutine writes to it.
type syncWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
