// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live debate: its immutable setup plus the state the
// scheduler advances.
//
// The scheduler goroutine is the only writer of rounds and status;
// handlers read through Snapshot under the session lock. The event bus
// carries the live stream.
type Session struct {
	ID     string
	Topic  string
	Format Format
	Agents []Agent
	Bus    *Bus

	mu           sync.Mutex
	status       SessionStatus
	rounds       []*Round
	verdict      *Verdict
	failReason   string
	createdAt    time.Time
	lastActivity time.Time

	cancel func()
}

// NewSession creates a PENDING session. Agents get role-default personas
// where none was provided.
func NewSession(topic string, format Format, agents []Agent) *Session {
	filled := make([]Agent, len(agents))
	for i, a := range agents {
		filled[i] = a.WithDefaults()
	}
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Topic:        topic,
		Format:       format,
		Agents:       filled,
		Bus:          NewBus(),
		status:       SessionPending,
		createdAt:    now,
		lastActivity: now,
	}
}

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transition moves the session status, enforcing the state machine.
// Terminal statuses are absorbing; RUNNING follows PENDING only; FAILED
// and CANCELLED are reachable from RUNNING and EVALUATING.
func (s *Session) transition(next SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return fmt.Errorf("%w: session %s is %s, cannot become %s",
			ErrSessionTerminal, s.ID, s.status, next)
	}
	valid := false
	switch next {
	case SessionRunning:
		valid = s.status == SessionPending
	case SessionEvaluating:
		valid = s.status == SessionRunning
	case SessionCompleted:
		valid = s.status == SessionRunning || s.status == SessionEvaluating
	case SessionFailed, SessionCancelled:
		valid = s.status == SessionPending || s.status == SessionRunning ||
			s.status == SessionEvaluating
	}
	if !valid {
		return fmt.Errorf("%w: invalid session transition %s -> %s",
			ErrInvariantViolation, s.status, next)
	}
	s.status = next
	s.lastActivity = time.Now()
	return nil
}

// touch refreshes the idle timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// appendRound attaches the next round, enforcing monotonic numbering.
func (s *Session) appendRound(r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.rounds); r.Number != n+1 {
		return fmt.Errorf("%w: round number %d after %d rounds", ErrInvariantViolation,
			r.Number, n)
	}
	s.rounds = append(s.rounds, r)
	s.lastActivity = time.Now()
	return nil
}

// setVerdict records the final verdict. Called once by the scheduler.
func (s *Session) setVerdict(v *Verdict) {
	s.mu.Lock()
	s.verdict = v
	s.mu.Unlock()
}

// LastActivity returns the idle timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Snapshot copies the externally visible state. Rounds are deep-copied so
// handlers never alias scheduler-owned turns.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := make([]*Round, len(s.rounds))
	for i, r := range s.rounds {
		turns := make([]*Turn, len(r.Turns))
		for j, t := range r.Turns {
			tc := *t
			turns[j] = &tc
		}
		rc := &Round{Number: r.Number, Turns: turns}
		rc.Scores = append(rc.Scores, r.Scores...)
		rc.Summary = append(rc.Summary, r.Summary...)
		rounds[i] = rc
	}

	var verdict *Verdict
	if s.verdict != nil {
		vc := *s.verdict
		verdict = &vc
	}

	return Snapshot{
		ID:           s.ID,
		Topic:        s.Topic,
		Format:       s.Format.Name(),
		Agents:       append([]Agent(nil), s.Agents...),
		Status:       s.status,
		CurrentRound: len(s.rounds),
		TotalRounds:  s.Format.Rounds(),
		Rounds:       rounds,
		Verdict:      verdict,
		FailReason:   s.failReason,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}
