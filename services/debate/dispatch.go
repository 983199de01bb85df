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
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agora-ai/agora/services/llm"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

var tracer = otel.Tracer("agora.debate")

// =============================================================================
// Concurrent Dispatch
// =============================================================================

// TurnRequest is one unit of dispatch work: the turn to run, the prompt
// to run it with, and the client bound to the agent's model.
type TurnRequest struct {
	Turn     *Turn
	Messages []llm.Message
	Params   llm.GenerationParams
	Client   llm.LLMClient

	// Guard, when set, is held for every Turn mutation so concurrent
	// snapshot readers of the owning session see consistent turns.
	Guard sync.Locker
}

// mutate runs fn under the request's guard.
func (r TurnRequest) mutate(fn func()) {
	if r.Guard != nil {
		r.Guard.Lock()
		defer r.Guard.Unlock()
	}
	fn()
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	// MaxInFlight caps concurrently in-flight backend calls per session.
	// Default 4.
	MaxInFlight int64

	// TurnTimeout bounds one turn's backend call. Default 5 minutes.
	TurnTimeout time.Duration
}

// Dispatcher fans a turn group out to the backend, one worker per turn,
// and joins before returning. Deltas stream to the session bus as they
// arrive; the join governs scheduling progression only.
//
// Each worker writes exclusively to its own Turn; a turn failure resolves
// as turn status, never as an error that aborts siblings, unless the
// group runs in all-or-nothing mode.
type Dispatcher struct {
	cfg     DispatchConfig
	breaker *Breaker
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher sharing one breaker across all its
// sessions' calls. A nil breaker disables circuit breaking; a nil logger
// falls back to slog.Default().
func NewDispatcher(cfg DispatchConfig, breaker *Breaker, logger *slog.Logger) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:     cfg,
		breaker: breaker,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		logger:  logger,
	}
}

// Dispatch runs one turn group and blocks until every turn in it is
// terminal. Turn outcomes land on the turns themselves and on the bus.
//
// The returned error is non-nil when the group ran all-or-nothing and a
// turn failed, when a turn tripped an invariant violation, or when ctx
// was cancelled before the group settled.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []TurnRequest,
	bus *Bus, allOrNothing bool) error {

	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("debate.group_size", len(reqs)),
		attribute.Bool("debate.all_or_nothing", allOrNothing),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			err := d.runTurn(groupCtx, req, bus)
			switch {
			case err == nil:
				return nil
			case allOrNothing:
				// Propagating the error cancels groupCtx for siblings.
				return err
			case errors.Is(err, ErrInvariantViolation):
				// Scheduling bugs must surface even when turn failures
				// resolve as turn status.
				return err
			default:
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runTurn executes one turn end to end: semaphore, breaker, stream,
// demux, terminal status. Returns the turn's failure (also recorded on
// the turn) so all-or-nothing groups can abort siblings.
func (d *Dispatcher) runTurn(ctx context.Context, req TurnRequest, bus *Bus) error {
	t := req.Turn

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.failTurn(req, bus, fmt.Errorf("dispatch cancelled before start: %w", err))
		return err
	}
	defer d.sem.Release(1)

	var serr error
	req.mutate(func() {
		serr = t.setStatus(TurnStreaming)
		t.StartedAt = time.Now()
	})
	if serr != nil {
		return serr
	}
	bus.Publish(Event{
		Type:   EventTurnStarted,
		TurnID: t.ID,
		Agent:  t.Agent.Name,
		Round:  t.Round,
	})

	turnCtx, cancel := context.WithTimeout(ctx, d.cfg.TurnTimeout)
	defer cancel()

	demux := NewDemux()
	var firstDelta sync.Once
	publish := func(deltas []Delta) {
		for _, delta := range deltas {
			firstDelta.Do(func() {
				observability.Get().FirstDeltaSeconds.WithLabelValues(t.Agent.Model).
					Observe(time.Since(t.StartedAt).Seconds())
			})
			ev := Event{TurnID: t.ID, Agent: t.Agent.Name, Round: t.Round, Text: delta.Text}
			switch delta.Kind {
			case DeltaThinking:
				ev.Type = EventThinkingDelta
			case DeltaContent:
				ev.Type = EventContentDelta
			}
			bus.Publish(ev)
		}
	}

	callback := func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			// Response text may still interleave thinking markers.
			publish(demux.Feed(ev.Content))
		case llm.StreamEventThinking:
			// Native thinking channel bypasses the demultiplexer.
			demux.thinking.WriteString(ev.Content)
			bus.Publish(Event{
				Type:   EventThinkingDelta,
				TurnID: t.ID,
				Agent:  t.Agent.Name,
				Round:  t.Round,
				Text:   ev.Content,
			})
		case llm.StreamEventError:
			d.logger.Warn("Backend stream error event",
				"turn", t.ID, "agent", t.Agent.Name, "error", ev.Error)
		}
		return nil
	}

	call := func(callCtx context.Context) error {
		return req.Client.ChatStream(callCtx, req.Messages, req.Params, callback)
	}
	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(turnCtx, call)
	} else {
		err = call(turnCtx)
	}

	deltas, result := demux.Close()
	publish(deltas)
	req.mutate(func() {
		t.Thinking = result.Thinking
		t.Content = result.Content
		t.TruncatedThinking = result.TruncatedThinking
	})

	if err != nil {
		// Partial content already delivered stays visible. The turn is
		// terminal either way; classification feeds the failure policy.
		d.failTurn(req, bus, err)
		return err
	}

	req.mutate(func() { serr = t.setStatus(TurnCompleted) })
	if serr != nil {
		return serr
	}
	bus.Publish(Event{
		Type:       EventTurnCompleted,
		TurnID:     t.ID,
		Agent:      t.Agent.Name,
		Round:      t.Round,
		TurnStatus: TurnCompleted,
	})
	observability.Get().TurnsTotal.WithLabelValues(string(TurnCompleted), t.Agent.Model).Inc()
	observability.Get().TurnDurationSeconds.WithLabelValues(t.Agent.Model).
		Observe(time.Since(t.StartedAt).Seconds())
	return nil
}

// failTurn records a terminal failure status on the turn and the bus.
// Timeouts and stalls resolve TIMED_OUT; everything else FAILED.
func (d *Dispatcher) failTurn(req TurnRequest, bus *Bus, err error) {
	t := req.Turn
	status := TurnFailed
	if llm.Classify(err) == llm.ErrorTimeout {
		status = TurnTimedOut
	}
	var serr error
	transitioned := false
	req.mutate(func() {
		if t.Status.Terminal() {
			return
		}
		t.Error = err.Error()
		serr = t.setStatus(status)
		transitioned = serr == nil
	})
	if serr != nil {
		d.logger.Error("Turn status transition rejected", "turn", t.ID, "error", serr)
	}
	if !transitioned {
		return
	}
	d.logger.Warn("Turn failed",
		"turn", t.ID, "agent", t.Agent.Name, "round", t.Round,
		"status", status, "error", err)
	observability.Get().TurnsTotal.WithLabelValues(string(status), t.Agent.Model).Inc()
	observability.Get().BackendErrorsTotal.WithLabelValues(string(llm.Classify(err))).Inc()
	if !t.StartedAt.IsZero() {
		observability.Get().TurnDurationSeconds.WithLabelValues(t.Agent.Model).
			Observe(time.Since(t.StartedAt).Seconds())
	}
	bus.Publish(Event{
		Type:       EventTurnCompleted,
		TurnID:     t.ID,
		Agent:      t.Agent.Name,
		Round:      t.Round,
		TurnStatus: status,
		Reason:     sanitizeStreamError(err),
	})
}

// sanitizeStreamError maps internal error detail to a subscriber-safe
// reason string.
func sanitizeStreamError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendUnavailable):
		return "backend unavailable"
	case llm.Classify(err) == llm.ErrorTimeout:
		return "backend timeout"
	case llm.Classify(err) == llm.ErrorConnection:
		return "backend connection failed"
	case llm.Classify(err) == llm.ErrorMalformed:
		return "backend returned malformed response"
	default:
		return "backend error"
	}
}
