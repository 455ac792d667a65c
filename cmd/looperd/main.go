// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// looperd is an operator tool for the looper module: it hosts a small
// fleet of named Loopers running representative synthetic work, and
// offers a live TUI dashboard (`looperd dashboard`) and a diagnostics
// dump (`looperd report`) over that fleet.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amelia-foundation/looper/lib/config"
	"github.com/amelia-foundation/looper/lib/cron"
	"github.com/amelia-foundation/looper/looper"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	command := args[0]
	rest := args[1:]

	switch command {
	case "dashboard":
		return runDashboard(rest)
	case "report":
		return runReport(rest)
	case "--help", "-h", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `looperd — operator tool for the looper module

Usage:
  looperd dashboard [flags]   live TUI over the hosted fleet
  looperd report [flags]      diagnostics dump (one-shot, or --every CRON for a schedule)

Flags common to both: --config PATH (or LOOPERD_CONFIG env var)
`)
}

func loadConfigFlag(flagSet *pflag.FlagSet) (*config.Config, error) {
	configPath, _ := flagSet.GetString("config")
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("LOOPERD_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func runDashboard(args []string) error {
	flagSet := pflag.NewFlagSet("looperd dashboard", pflag.ContinueOnError)
	flagSet.String("config", "", "path to looperd.yaml (default: $LOOPERD_CONFIG, else built-in defaults)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigFlag(flagSet)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := newFleet(ctx, cfg, logger)
	defer f.Stop()

	refresh := time.Duration(cfg.Dashboard.RefreshMillis) * time.Millisecond
	model := newDashboardModel(f, refresh)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func runReport(args []string) error {
	flagSet := pflag.NewFlagSet("looperd report", pflag.ContinueOnError)
	flagSet.String("config", "", "path to looperd.yaml (default: $LOOPERD_CONFIG, else built-in defaults)")
	format := flagSet.String("format", "md", "output format: md, html, or cbor")
	gzipOutput := flagSet.Bool("gzip", false, "gzip-compress the output")
	observeMillis := flagSet.Int64("observe-millis", 500, "how long to let the fleet run before snapshotting")
	every := flagSet.String("every", "", "cron expression (5-field, UTC) to repeat the report on a schedule; if set, runs until interrupted instead of taking a single snapshot")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigFlag(flagSet)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger()

	if *every == "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := newFleet(ctx, cfg, logger)
		defer f.Stop()

		time.Sleep(time.Duration(*observeMillis) * time.Millisecond)

		report := buildReport(f)
		return writeReport(os.Stdout, reportFormat(*format), *gzipOutput, report)
	}

	schedule, err := cron.Parse(*every)
	if err != nil {
		return fmt.Errorf("parsing --every schedule: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := newFleet(ctx, cfg, logger)
	defer f.Stop()

	scheduler := looper.New(looper.Options{Name: "report-scheduler", Logger: logger.With("looper", "report-scheduler")})
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("report scheduler exited", "error", err)
		}
	}()
	defer scheduler.Quit(context.Background())

	handler := scheduler.NewHandler(false)
	scheduleReportLoop(handler, schedule, f, reportFormat(*format), *gzipOutput, os.Stdout, logger)

	<-ctx.Done()
	return nil
}
