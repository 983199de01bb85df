// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/services/llm"
)

// blockingClient holds every ChatStream open until release is closed,
// keeping the owning session RUNNING for as long as the test needs.
type blockingClient struct {
	recordingClient
	release chan struct{}
}

func (c *blockingClient) ChatStream(ctx context.Context, _ []llm.Message,
	_ llm.GenerationParams, cb llm.StreamCallback) error {

	select {
	case <-c.release:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "held"})
}

func registryForTest(t *testing.T, cfg RegistryConfig, client llm.LLMClient) *Registry {
	t.Helper()
	sc := newScheduler(nil, func(Agent) llm.LLMClient { return client })
	r := NewRegistry(cfg, sc, nil)
	t.Cleanup(r.Stop)
	return r
}

func mustFormat(t *testing.T, name string, rounds int) Format {
	t.Helper()
	f, err := ParseFormat(name, rounds)
	require.NoError(t, err)
	return f
}

func waitTerminal(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !sess.Status().Terminal() {
		select {
		case <-deadline:
			t.Fatalf("session %s never reached a terminal status", sess.ID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()

	r := registryForTest(t, RegistryConfig{}, &recordingClient{answer: "hi"})
	sess, err := r.Create("topic", mustFormat(t, "adversarial", 1), adversarialPair())
	require.NoError(t, err)

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = r.Get("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)

	waitTerminal(t, sess)
	assert.Equal(t, SessionCompleted, sess.Status())
}

func TestRegistry_CapacityCap(t *testing.T) {
	t.Parallel()

	client := &blockingClient{release: make(chan struct{})}
	defer close(client.release)
	r := registryForTest(t, RegistryConfig{MaxSessions: 2}, client)
	format := mustFormat(t, "adversarial", 1)

	_, err := r.Create("one", format, adversarialPair())
	require.NoError(t, err)
	_, err = r.Create("two", format, adversarialPair())
	require.NoError(t, err)

	_, err = r.Create("three", format, adversarialPair())
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_CancelLiveSession(t *testing.T) {
	t.Parallel()

	client := &blockingClient{release: make(chan struct{})}
	defer close(client.release)
	r := registryForTest(t, RegistryConfig{}, client)

	sess, err := r.Create("long one", mustFormat(t, "adversarial", 3), adversarialPair())
	require.NoError(t, err)

	require.NoError(t, r.Cancel(sess.ID))
	waitTerminal(t, sess)
	assert.Equal(t, SessionCancelled, sess.Status())

	// The cancelled session stays queryable until retention.
	_, err = r.Get(sess.ID)
	require.NoError(t, err)

	err = r.Cancel(sess.ID)
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func TestRegistry_RemoveRequiresTerminal(t *testing.T) {
	t.Parallel()

	client := &blockingClient{release: make(chan struct{})}
	r := registryForTest(t, RegistryConfig{}, client)

	sess, err := r.Create("busy", mustFormat(t, "adversarial", 1), adversarialPair())
	require.NoError(t, err)

	require.Error(t, r.Remove(sess.ID), "live sessions cannot be removed")

	close(client.release)
	waitTerminal(t, sess)
	require.NoError(t, r.Remove(sess.ID))
	_, err = r.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_SweepEvictsRetainedTerminal(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Now())
	r := registryForTest(t, RegistryConfig{
		Retention: 10 * time.Minute,
		Clock:     clock,
	}, &recordingClient{answer: "done"})

	sess, err := r.Create("short", mustFormat(t, "adversarial", 1), adversarialPair())
	require.NoError(t, err)
	waitTerminal(t, sess)

	r.Sweep()
	assert.Equal(t, 1, r.Len(), "terminal session inside retention stays")

	clock.Advance(11 * time.Minute)
	r.Sweep()
	assert.Equal(t, 0, r.Len())
	_, err = r.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_SweepCancelsIdleSessions(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Now())
	client := &blockingClient{release: make(chan struct{})}
	defer close(client.release)
	r := registryForTest(t, RegistryConfig{
		IdleTimeout: 5 * time.Minute,
		Clock:       clock,
	}, client)

	sess, err := r.Create("stuck", mustFormat(t, "adversarial", 1), adversarialPair())
	require.NoError(t, err)

	r.Sweep()
	assert.False(t, sess.Status().Terminal(), "fresh session must survive the sweep")

	clock.Advance(6 * time.Minute)
	r.Sweep()
	waitTerminal(t, sess)
	assert.Equal(t, SessionCancelled, sess.Status())
}

// Only live sessions count toward the cap: a create rejected at capacity
// must succeed once a running debate finishes, even while the finished
// session is still retained for queries.
func TestRegistry_CapacityFreedAfterCompletion(t *testing.T) {
	t.Parallel()

	client := &blockingClient{release: make(chan struct{})}
	r := registryForTest(t, RegistryConfig{MaxSessions: 1}, client)
	format := mustFormat(t, "adversarial", 1)

	first, err := r.Create("first", format, adversarialPair())
	require.NoError(t, err)

	_, err = r.Create("second", format, adversarialPair())
	require.ErrorIs(t, err, ErrCapacityExceeded)

	close(client.release)
	waitTerminal(t, first)

	second, err := r.Create("second", format, adversarialPair())
	require.NoError(t, err)
	waitTerminal(t, second)

	// The completed first session is retained alongside the second.
	_, err = r.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_StopWaitsForSessions(t *testing.T) {
	t.Parallel()

	r := registryForTest(t, RegistryConfig{}, &recordingClient{answer: "ok"})
	sess, err := r.Create("drain", mustFormat(t, "adversarial", 1), adversarialPair())
	require.NoError(t, err)

	r.Stop()
	assert.True(t, sess.Status().Terminal(), "Stop returns only after runs drain")
}

// Dispatch activity must refresh the idle timestamp so only a genuinely
// wedged session trips the idle sweep.
func TestRegistry_TurnActivityRefreshesIdle(t *testing.T) {
	t.Parallel()

	r := registryForTest(t, RegistryConfig{}, &recordingClient{answer: "quick"})
	sess, err := r.Create("active", mustFormat(t, "adversarial", 2), adversarialPair())
	require.NoError(t, err)
	waitTerminal(t, sess)

	assert.False(t, sess.LastActivity().Before(sess.CreatedAt()))
}
