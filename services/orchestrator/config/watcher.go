// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RosterStore holds the live roster and swaps it atomically on reload.
// Handlers read through Current; the watcher is the only writer.
type RosterStore struct {
	mu     sync.RWMutex
	roster *Roster
}

// NewRosterStore seeds a store. roster may be nil when no roster file is
// configured; lookups then simply miss.
func NewRosterStore(roster *Roster) *RosterStore {
	return &RosterStore{roster: roster}
}

// Current returns the live roster.
func (s *RosterStore) Current() *Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster
}

func (s *RosterStore) swap(r *Roster) {
	s.mu.Lock()
	s.roster = r
	s.mu.Unlock()
}

// Watcher hot-reloads the roster file on change. Editors replace files
// rather than writing in place, so the watch is on the parent directory
// and events are debounced before the reload.
type Watcher struct {
	path    string
	store   *RosterStore
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped sync.Once
}

// debounceDelay absorbs the write bursts editors and container config
// mounts produce for a single logical change.
const debounceDelay = 200 * time.Millisecond

// NewWatcher starts watching the roster file. A parse failure on reload
// keeps the previous roster; broken edits never take down a running
// orchestrator.
func NewWatcher(path string, store *RosterStore, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:   path,
		store:  store,
		logger: logger,
		fsw:    fsw,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Roster watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	roster, err := LoadRoster(w.path)
	if err != nil {
		w.logger.Error("Roster reload failed, keeping previous roster",
			"path", w.path, "error", err)
		return
	}
	w.store.swap(roster)
	w.logger.Info("Roster reloaded", "path", w.path,
		"teams", len(roster.Teams), "formats", len(roster.Formats))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopped.Do(func() { close(w.done) })
	return w.fsw.Close()
}
