// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"sync"
)

// =============================================================================
// Session Event Bus
// =============================================================================

// EventType identifies one kind of session event.
type EventType string

const (
	EventTurnStarted      EventType = "turn_started"
	EventThinkingDelta    EventType = "thinking_delta"
	EventContentDelta     EventType = "content_delta"
	EventTurnCompleted    EventType = "turn_completed"
	EventRoundCompleted   EventType = "round_completed"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
)

// Event is one observable step of a debate session, in publish order.
//
// # Fields
//
//   - Seq: monotonically increasing per session, assigned by the bus.
//   - TurnID / Agent / Round: set on turn-scoped events.
//   - Text: delta payload for thinking_delta and content_delta.
//   - TurnStatus: final status on turn_completed.
//   - Scores: per-dimension scores on round_completed.
//   - Verdict: set on session_completed.
//   - Reason: failure reason on session_failed, skip reason on
//     abstaining turn_completed events.
type Event struct {
	Type       EventType  `json:"type"`
	Seq        uint64     `json:"seq"`
	TurnID     string     `json:"turn_id,omitempty"`
	Agent      string     `json:"agent,omitempty"`
	Round      int        `json:"round,omitempty"`
	Text       string     `json:"text,omitempty"`
	TurnStatus TurnStatus `json:"turn_status,omitempty"`
	Scores     []Score    `json:"scores,omitempty"`
	Verdict    *Verdict   `json:"verdict,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Terminal reports whether no further events can follow on the stream.
func (e Event) Terminal() bool {
	return e.Type == EventSessionCompleted || e.Type == EventSessionFailed
}

// subscriberBuf is the per-subscriber channel depth. A subscriber that
// falls this far behind the live stream is evicted rather than allowed to
// stall or reorder delivery for everyone else.
const subscriberBuf = 256

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus fans one session's ordered event stream out to any number of
// subscribers. Publish order is delivery order for every subscriber;
// a subscriber whose buffer fills is dropped (its channel closed) so a
// slow SSE or websocket reader can never apply backpressure to the
// debate itself.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*subscriber]struct{}
	replay []Event
	done   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish assigns the next sequence number and delivers the event to all
// live subscribers. After a terminal event the bus closes every channel
// and rejects further publishes silently.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.seq++
	ev.Seq = b.seq
	b.replay = append(b.replay, ev)

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			// Lagging reader: evict rather than block or skip.
			s.closed = true
			close(s.ch)
			delete(b.subs, s)
		}
	}

	if ev.Terminal() {
		b.done = true
		for s := range b.subs {
			s.closed = true
			close(s.ch)
			delete(b.subs, s)
		}
	}
}

// Subscribe returns a channel carrying every event already published
// (replayed in order) followed by the live stream, and a cancel func.
// The channel is closed after a terminal event, on eviction, or on
// cancel. Cancel is safe to call multiple times and after closure.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()

	s := &subscriber{ch: make(chan Event, subscriberBuf+len(b.replay))}
	for _, ev := range b.replay {
		s.ch <- ev
	}
	if b.done {
		s.closed = true
		close(s.ch)
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.ch)
			delete(b.subs, s)
		}
	}
	return s.ch, cancel
}

// History returns a copy of every event published so far, in order.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.replay))
	copy(out, b.replay)
	return out
}

// Done reports whether a terminal event has been published.
func (b *Bus) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
