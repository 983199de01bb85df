// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agora-ai/agora/services/orchestrator/observability"
)

// =============================================================================
// Session Registry
// =============================================================================

// RegistryConfig tunes admission and the background janitor.
//
// # Fields
//
//   - MaxSessions: Hard cap on concurrently live sessions. Retained
//     terminal sessions do not count toward the cap. Default: 16.
//   - Retention: How long a terminal session stays queryable before the
//     janitor evicts it. Default: 30 minutes.
//   - IdleTimeout: How long a live session may go without activity before
//     the janitor cancels it. Default: 15 minutes.
//   - JanitorInterval: Sweep cadence. Default: 1 minute.
//   - Clock: Defaults to the system clock; tests inject a FakeClock.
type RegistryConfig struct {
	MaxSessions     int
	Retention       time.Duration
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
	Clock           Clock
}

func (c *RegistryConfig) fillDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 16
	}
	if c.Retention <= 0 {
		c.Retention = 30 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
}

// Registry owns every session's lifecycle: admission under a global cap,
// lookup, cancellation, and the background janitor that evicts retained
// terminal sessions and cancels idle live ones.
//
// Admission and eviction share one mutex so the cap can never be raced
// past. It guards only the map; scheduler runs happen outside it.
type Registry struct {
	cfg       RegistryConfig
	scheduler *Scheduler
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry. The janitor does not run until Start.
func NewRegistry(cfg RegistryConfig, scheduler *Scheduler, logger *slog.Logger) *Registry {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		scheduler: scheduler,
		logger:    logger,
		sessions:  make(map[string]*Session),
		done:      make(chan struct{}),
	}
}

// Create admits a new session and starts its scheduler run in the
// background. Returns ErrCapacityExceeded when the cap is reached;
// admission never blocks waiting for capacity.
func (r *Registry) Create(topic string, format Format, agents []Agent) (*Session, error) {
	sess := NewSession(topic, format, agents)
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	r.mu.Lock()
	if r.liveLocked() >= r.cfg.MaxSessions {
		r.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %d sessions", ErrCapacityExceeded, r.cfg.MaxSessions)
	}
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	observability.Get().ActiveDebates.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := r.scheduler.Run(ctx, sess); err != nil {
			r.logger.Warn("Session ended abnormally", "session", sess.ID, "error", err)
		}
	}()

	r.logger.Info("Session admitted", "session", sess.ID, "topic", topic)
	return sess, nil
}

// liveLocked counts sessions still running. Retained terminal sessions
// stay queryable but never block admission. Caller holds r.mu.
func (r *Registry) liveLocked() int {
	n := 0
	for _, sess := range r.sessions {
		if !sess.Status().Terminal() {
			n++
		}
	}
	return n
}

// Get returns the session by id, live or retained.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Cancel requests cooperative cancellation of a live session. The
// session stays registered (CANCELLED) until retention evicts it.
func (r *Registry) Cancel(id string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	if sess.Status().Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	r.logger.Info("Session cancellation requested", "session", id)
	return nil
}

// Remove drops a terminal session immediately, ahead of retention.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !sess.Status().Terminal() {
		return fmt.Errorf("cannot remove live session %s, cancel it first", id)
	}
	delete(r.sessions, id)
	observability.Get().ActiveDebates.Dec()
	return nil
}

// List snapshots every registered session, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].CreatedAt.After(snaps[j-1].CreatedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
	return snaps
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start launches the background janitor. Uses the ticker + done channel
// pattern; Stop shuts it down and waits for in-flight session runs.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop shuts the janitor down and waits for session goroutines to drain.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Sweep runs one janitor pass: evict terminal sessions past retention,
// cancel live sessions idle past the timeout. Exported so tests and the
// janitor share one code path.
func (r *Registry) Sweep() {
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var evict, idle []*Session
	for id, sess := range r.sessions {
		switch {
		case sess.Status().Terminal():
			if now.Sub(sess.LastActivity()) >= r.cfg.Retention {
				delete(r.sessions, id)
				evict = append(evict, sess)
			}
		case now.Sub(sess.LastActivity()) >= r.cfg.IdleTimeout:
			idle = append(idle, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range evict {
		observability.Get().ActiveDebates.Dec()
		r.logger.Info("Session evicted after retention", "session", sess.ID)
	}
	for _, sess := range idle {
		r.logger.Warn("Cancelling idle session", "session", sess.ID,
			"idle", now.Sub(sess.LastActivity()).String())
		if sess.cancel != nil {
			sess.cancel()
		}
	}
}
