// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/yuin/goldmark"

	"github.com/amelia-foundation/looper/lib/cron"
	"github.com/amelia-foundation/looper/looper"
)

// reportFormat is the `looperd report --format` output encoding.
type reportFormat string

const (
	formatMarkdown reportFormat = "md"
	formatHTML     reportFormat = "html"
	formatCBOR     reportFormat = "cbor"
)

// workerReport is one Looper's diagnostic snapshot at report time.
type workerReport struct {
	Name            string  `cbor:"name"`
	Running         bool    `cbor:"running"`
	AverageMillis   float64 `cbor:"average_ms"`
	LastMillis      int64   `cbor:"last_ms"`
	QueueDepth      int     `cbor:"queue_depth"`
	Overloaded      bool    `cbor:"overloaded"`
	SamplesRetained int     `cbor:"samples_retained"`
	SamplesTotal    uint64  `cbor:"samples_total"`
}

// fleetReport is the complete diagnostics dump `looperd report` emits.
type fleetReport struct {
	GeneratedAt time.Time      `cbor:"generated_at"`
	Workers     []workerReport `cbor:"workers"`
}

// buildReport snapshots every Looper in f.
func buildReport(f *fleet) fleetReport {
	report := fleetReport{GeneratedAt: time.Now()}
	for _, name := range f.Names() {
		w := f.workers[name]
		sample, _ := w.history.Last()
		report.Workers = append(report.Workers, workerReport{
			Name:            name,
			Running:         w.looper.IsRunning(),
			AverageMillis:   w.looper.AveragePolledMillis(),
			LastMillis:      sample.IterationMillis,
			QueueDepth:      w.looper.Queue().Len(),
			Overloaded:      w.looper.IsOverloaded(),
			SamplesRetained: w.history.Len(),
			SamplesTotal:    w.history.Total(),
		})
	}
	return report
}

// renderMarkdown renders report as a Markdown table.
func renderMarkdown(report fleetReport) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# looperd fleet report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "| Name | Running | Avg ms | Last ms | Queue | Overloaded | Samples |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|---|\n")
	for _, w := range report.Workers {
		fmt.Fprintf(&b, "| %s | %t | %.2f | %d | %d | %t | %d/%d |\n",
			w.Name, w.Running, w.AverageMillis, w.LastMillis, w.QueueDepth, w.Overloaded,
			w.SamplesRetained, w.SamplesTotal)
	}
	return b.String()
}

// renderHTML converts the Markdown report to an HTML document via goldmark.
func renderHTML(report fleetReport) (string, error) {
	md := renderMarkdown(report)
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("looperd: rendering report markdown to html: %w", err)
	}
	return "<!DOCTYPE html><html><body>" + buf.String() + "</body></html>", nil
}

// encodeCBOR encodes report as CBOR using core deterministic encoding
// (sorted map keys, smallest integer widths) so repeated reports of
// identical fleet state produce byte-identical output.
func encodeCBOR(report fleetReport) ([]byte, error) {
	encOptions := cbor.CoreDetEncOptions()
	mode, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("looperd: configuring cbor encoder: %w", err)
	}
	return mode.Marshal(report)
}

// writeReport renders report in format and writes it to w, optionally
// gzip-compressing the output.
func writeReport(w io.Writer, format reportFormat, gzipOutput bool, report fleetReport) error {
	var payload []byte
	var err error

	switch format {
	case formatMarkdown:
		payload = []byte(renderMarkdown(report))
	case formatHTML:
		var html string
		html, err = renderHTML(report)
		payload = []byte(html)
	case formatCBOR:
		payload, err = encodeCBOR(report)
	default:
		return fmt.Errorf("looperd: unknown report format %q", format)
	}
	if err != nil {
		return err
	}

	if !gzipOutput {
		_, err := w.Write(payload)
		return err
	}

	gz := gzip.NewWriter(w)
	if _, err := gz.Write(payload); err != nil {
		gz.Close()
		return fmt.Errorf("looperd: gzip-compressing report: %w", err)
	}
	return gz.Close()
}

// scheduleReportLoop posts a report-and-reschedule task to h, then keeps
// re-arming itself at schedule's next occurrence after each run via
// Handler.PostAtTime, rather than a free-running ticker. The next
// occurrence and its delay are computed from the wall clock
// (time.Now/time.Until); the delay is then added to h's Looper uptime.
// It runs until h's Looper is quit (see runReport's shutdown).
func scheduleReportLoop(h *looper.Handler, schedule cron.Schedule, f *fleet, format reportFormat, gzipOutput bool, out io.Writer, logger reportLogger) {
	var run func()
	run = func() {
		report := buildReport(f)
		if err := writeReport(out, format, gzipOutput, report); err != nil {
			logger.Error("writing scheduled report", "error", err)
		}

		next, err := schedule.Next(time.Now())
		if err != nil {
			logger.Error("computing next scheduled report time", "error", err)
			return
		}
		delayMillis := time.Until(next).Milliseconds()
		if delayMillis < 0 {
			delayMillis = 0
		}
		h.PostAtTime(run, h.Looper().UptimeMillis()+delayMillis)
	}
	h.Post(run)
}

// reportLogger is the minimal logging surface scheduleReportLoop needs,
// satisfied by *slog.Logger.
type reportLogger interface {
	Error(msg string, args ...any)
}
