// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Backend Circuit Breaker
// =============================================================================

// BreakerState is the circuit state of the backend breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[successes]◄── HALF_OPEN ◄─┘
//	                      [cool-off]
type BreakerState int

const (
	// BreakerClosed is the normal operating state.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls immediately; the backend is known down.
	BreakerOpen

	// BreakerHalfOpen lets probe calls through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrBackendUnavailable is returned without touching the backend while the
// breaker is open. Turns failing with it resolve as FAILED immediately
// instead of burning their full timeout against a dead backend.
var ErrBackendUnavailable = errors.New("backend circuit open")

// BreakerConfig tunes the backend breaker.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening. Default 5.
	FailureThreshold int

	// SuccessThreshold is consecutive half-open successes before closing.
	// Default 2.
	SuccessThreshold int

	// CoolOff is how long the breaker stays open before probing. Default 30s.
	CoolOff time.Duration

	// Clock defaults to the system clock; tests inject a FakeClock.
	Clock Clock

	// OnStateChange, when set, is notified of transitions. Called without
	// the breaker lock held.
	OnStateChange func(from, to BreakerState)
}

// Breaker guards the generation backend. Session cancellations do not
// count as backend failures; only real call errors move the state.
//
// Safe for concurrent use across all sessions sharing one backend.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker, applying defaults for zero values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Returns ErrBackendUnavailable without calling fn while open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrBackendUnavailable
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.cfg.Clock.Now().Sub(b.openedAt) > b.cfg.CoolOff {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// record classifies the call outcome. Context cancellation says nothing
// about backend health, so it leaves the counters alone.
func (b *Breaker) record(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		switch b.state {
		case BreakerClosed:
			if b.failures >= b.cfg.FailureThreshold {
				b.openedAt = b.cfg.Clock.Now()
				b.transition(BreakerOpen)
			}
		case BreakerHalfOpen:
			b.openedAt = b.cfg.Clock.Now()
			b.transition(BreakerOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures = 0
			b.transition(BreakerClosed)
		}
	}
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(prev, next)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed, clearing all counters. Use when the
// backend is known to have been fixed externally.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transition(BreakerClosed)
}
