// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Agora components.
//
// Built on log/slog: stderr by default (so CLI output stays clean on
// stdout), with optional JSON file logging for later inspection of a
// debate run.
//
//	logger := logging.New(logging.Config{
//	    LogDir:  "~/.agora/logs",
//	    Service: "cli",
//	})
//	defer logger.Close()
//	logger.Info("debate started", "session_id", id)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction.
//
// # Fields
//
//   - Level: Minimum level; below it entries are discarded. Default Info.
//   - LogDir: When set, entries are also written as JSON to
//     "{Service}_{YYYY-MM-DD}.log" in this directory. Supports a leading
//     "~". The directory is created with 0750 permissions.
//   - Service: Included in every entry as the "service" attribute.
//   - Quiet: Suppress stderr output; file-only logging for daemons.
type Config struct {
	Level   slog.Level
	LogDir  string
	Service string
	Quiet   bool
}

// Logger wraps slog with an optionally attached log file.
type Logger struct {
	*slog.Logger
	file *os.File
}

// expandHome resolves a leading "~" against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// New builds a logger per cfg. File setup failures degrade to
// stderr-only logging with a warning rather than failing the caller.
func New(cfg Config) *Logger {
	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	var file *os.File
	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create %s: %v\n", dir, err)
		} else {
			name := fmt.Sprintf("%s_%s.log", serviceName(cfg.Service),
				time.Now().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(dir, name),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
			} else {
				file = f
				writers = append(writers, f)
			}
		}
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 1:
		out = writers[0]
	default:
		if len(writers) > 1 {
			out = io.MultiWriter(writers...)
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return &Logger{Logger: logger, file: file}
}

// Default returns a stderr-only Info-level logger.
func Default() *Logger {
	return New(Config{})
}

// Close flushes and closes the attached log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Path returns the active log file path, or "" without file logging.
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

func serviceName(service string) string {
	if service == "" {
		return "agora"
	}
	return service
}
