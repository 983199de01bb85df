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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/services/llm"
)

// scriptedClient replays a fixed event sequence through ChatStream and
// then returns its configured error.
type scriptedClient struct {
	events []llm.StreamEvent
	err    error
	delay  time.Duration

	calls      atomic.Int32
	inFlight   atomic.Int32
	maxOverlap atomic.Int32
}

func (c *scriptedClient) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return "", errors.New("not implemented")
}

func (c *scriptedClient) Chat(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return "", errors.New("not implemented")
}

func (c *scriptedClient) ChatStream(ctx context.Context, _ []llm.Message,
	_ llm.GenerationParams, cb llm.StreamCallback) error {

	c.calls.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		prev := c.maxOverlap.Load()
		if n <= prev || c.maxOverlap.CompareAndSwap(prev, n) {
			break
		}
	}

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
	for _, ev := range c.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cb(ev); err != nil {
			return err
		}
	}
	return c.err
}

func tokens(parts ...string) []llm.StreamEvent {
	evs := make([]llm.StreamEvent, len(parts))
	for i, p := range parts {
		evs[i] = llm.StreamEvent{Type: llm.StreamEventToken, Content: p}
	}
	return evs
}

func newTestTurn(name string, seq int) *Turn {
	return &Turn{
		ID:     "turn-" + name,
		Agent:  Agent{Name: name, Role: RoleDevil, Stance: StanceOppose, Model: "llama3.1:8b"},
		Round:  1,
		Seq:    seq,
		Status: TurnPending,
	}
}

func drainEvents(ch <-chan Event, cancel func()) []Event {
	cancel()
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestDispatch_FanOutCompletesAllTurns(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()
	ch, cancel := bus.Subscribe()

	var guard sync.Mutex
	var reqs []TurnRequest
	for i, name := range []string{"advocate", "critic", "judge"} {
		reqs = append(reqs, TurnRequest{
			Turn:     newTestTurn(name, i),
			Messages: []llm.Message{{Role: "user", Content: "go"}},
			Client: &scriptedClient{
				events: tokens("<think>weigh it</think>", "position ", "of "+name),
			},
			Guard: &guard,
		})
	}

	err := d.Dispatch(context.Background(), reqs, bus, false)
	require.NoError(t, err)

	for _, req := range reqs {
		assert.Equal(t, TurnCompleted, req.Turn.Status)
		assert.Equal(t, "weigh it", req.Turn.Thinking)
		assert.Equal(t, "position of "+req.Turn.Agent.Name, req.Turn.Content)
		assert.False(t, req.Turn.EndedAt.IsZero())
	}

	events := drainEvents(ch, cancel)
	counts := map[EventType]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 3, counts[EventTurnStarted])
	assert.Equal(t, 3, counts[EventTurnCompleted])
	assert.GreaterOrEqual(t, counts[EventContentDelta], 3)
	assert.GreaterOrEqual(t, counts[EventThinkingDelta], 3)
}

func TestDispatch_StartedBeforeCompleted(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()
	ch, cancel := bus.Subscribe()

	req := TurnRequest{
		Turn:   newTestTurn("solo", 0),
		Client: &scriptedClient{events: tokens("hello")},
	}
	require.NoError(t, d.Dispatch(context.Background(), []TurnRequest{req}, bus, false))

	events := drainEvents(ch, cancel)
	started, completed := -1, -1
	for i, ev := range events {
		switch ev.Type {
		case EventTurnStarted:
			started = i
		case EventTurnCompleted:
			completed = i
		}
	}
	require.NotEqual(t, -1, started)
	require.NotEqual(t, -1, completed)
	assert.Less(t, started, completed)
}

func TestDispatch_FailureIsolation(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()

	failing := TurnRequest{
		Turn: newTestTurn("flaky", 0),
		Client: &scriptedClient{
			events: tokens("partial answer "),
			err:    errors.New("connection reset by peer"),
		},
	}
	healthy := TurnRequest{
		Turn:   newTestTurn("steady", 1),
		Client: &scriptedClient{events: tokens("full answer")},
	}

	err := d.Dispatch(context.Background(), []TurnRequest{failing, healthy}, bus, false)
	require.NoError(t, err, "a turn failure must not abort the group")

	assert.Equal(t, TurnFailed, failing.Turn.Status)
	assert.Equal(t, "partial answer ", failing.Turn.Content,
		"partial content already streamed stays on the turn")
	assert.NotEmpty(t, failing.Turn.Error)
	assert.True(t, failing.Turn.Abstained())

	assert.Equal(t, TurnCompleted, healthy.Turn.Status)
	assert.Equal(t, "full answer", healthy.Turn.Content)

	var failEvent *Event
	for _, ev := range bus.History() {
		if ev.Type == EventTurnCompleted && ev.TurnID == failing.Turn.ID {
			ev := ev
			failEvent = &ev
		}
	}
	require.NotNil(t, failEvent)
	assert.Equal(t, TurnFailed, failEvent.TurnStatus)
	assert.Equal(t, "backend connection failed", failEvent.Reason)
}

func TestDispatch_TimeoutResolvesTimedOut(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{TurnTimeout: 50 * time.Millisecond}, nil, nil)
	bus := NewBus()

	req := TurnRequest{
		Turn:   newTestTurn("slow", 0),
		Client: &scriptedClient{delay: 2 * time.Second},
	}
	err := d.Dispatch(context.Background(), []TurnRequest{req}, bus, false)
	require.NoError(t, err)
	assert.Equal(t, TurnTimedOut, req.Turn.Status)
	assert.True(t, req.Turn.Abstained())
}

func TestDispatch_AllOrNothingCancelsSiblings(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()

	failing := TurnRequest{
		Turn:   newTestTurn("flaky", 0),
		Client: &scriptedClient{err: errors.New("boom")},
	}
	slow := TurnRequest{
		Turn:   newTestTurn("slow", 1),
		Client: &scriptedClient{delay: 5 * time.Second},
	}

	start := time.Now()
	err := d.Dispatch(context.Background(), []TurnRequest{failing, slow}, bus, true)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second,
		"sibling cancellation must not wait out the slow turn")
	assert.Equal(t, TurnFailed, failing.Turn.Status)
	assert.True(t, slow.Turn.Status.Terminal())
}

func TestDispatch_InvariantViolationSurfaces(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()

	// A turn that is already terminal cannot be dispatched again. That is
	// a scheduling bug, not a backend failure, so it must surface even
	// though the group does not run all-or-nothing.
	stale := newTestTurn("stale", 0)
	stale.Status = TurnCompleted
	reqs := []TurnRequest{
		{Turn: stale, Client: &scriptedClient{events: tokens("unreachable")}},
		{Turn: newTestTurn("steady", 1), Client: &scriptedClient{events: tokens("fine")}},
	}

	err := d.Dispatch(context.Background(), reqs, bus, false)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestDispatch_SemaphoreCapsConcurrency(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{MaxInFlight: 1}, nil, nil)
	bus := NewBus()

	shared := &scriptedClient{delay: 20 * time.Millisecond, events: tokens("ok")}
	var reqs []TurnRequest
	for i := 0; i < 4; i++ {
		reqs = append(reqs, TurnRequest{Turn: newTestTurn(string(rune('a'+i)), i), Client: shared})
	}
	require.NoError(t, d.Dispatch(context.Background(), reqs, bus, false))

	assert.Equal(t, int32(4), shared.calls.Load())
	assert.Equal(t, int32(1), shared.maxOverlap.Load())
}

func TestDispatch_OpenBreakerFailsFast(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Now())
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, Clock: clock})
	// Trip the breaker.
	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("backend down")
	})
	require.Equal(t, BreakerOpen, breaker.State())

	d := NewDispatcher(DispatchConfig{}, breaker, nil)
	bus := NewBus()

	client := &scriptedClient{events: tokens("never delivered")}
	req := TurnRequest{Turn: newTestTurn("blocked", 0), Client: client}
	require.NoError(t, d.Dispatch(context.Background(), []TurnRequest{req}, bus, false))

	assert.Equal(t, TurnFailed, req.Turn.Status)
	assert.Zero(t, client.calls.Load(), "open breaker must not reach the backend")

	history := bus.History()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, EventTurnCompleted, last.Type)
	assert.Equal(t, "backend unavailable", last.Reason)
}

func TestDispatch_CancelledContext(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatchConfig{}, nil, nil)
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := TurnRequest{Turn: newTestTurn("doomed", 0), Client: &scriptedClient{}}
	err := d.Dispatch(ctx, []TurnRequest{req}, bus, false)
	require.Error(t, err)
	assert.True(t, req.Turn.Status.Terminal())
}
