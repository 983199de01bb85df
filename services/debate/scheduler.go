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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agora-ai/agora/services/llm"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

// =============================================================================
// Turn Scheduler
// =============================================================================

// ClientFactory resolves the LLM client bound to one agent's model.
type ClientFactory func(agent Agent) llm.LLMClient

// RoundEvaluator scores finished rounds and renders the final verdict.
// Implementations are fail-open: scoring problems surface as unavailable
// scores and degraded confidence, never as errors that abort the session.
type RoundEvaluator interface {
	ScoreRound(ctx context.Context, topic string, round *Round) []Score
	FinalVerdict(ctx context.Context, topic string, agents []Agent, rounds []*Round) *Verdict
}

// Scheduler drives one session at a time through its full lifecycle:
// round planning, turn dispatch, failure policy, evaluation, verdict.
// A scheduler is stateless across sessions and safe to share.
type Scheduler struct {
	dispatcher *Dispatcher
	evaluator  RoundEvaluator
	clients    ClientFactory
	params     llm.GenerationParams
	logger     *slog.Logger
}

// NewScheduler wires a scheduler. evaluator may be nil to skip scoring
// entirely; logger nil falls back to slog.Default().
func NewScheduler(dispatcher *Dispatcher, evaluator RoundEvaluator,
	clients ClientFactory, params llm.GenerationParams, logger *slog.Logger) *Scheduler {

	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatcher: dispatcher,
		evaluator:  evaluator,
		clients:    clients,
		params:     params,
		logger:     logger,
	}
}

// Run executes the session to a terminal status. It owns every write to
// the session's rounds and status; callers observe through Snapshot and
// the session bus. Run always leaves the session terminal, publishes the
// matching terminal event, and returns the failure (nil on COMPLETED).
func (sc *Scheduler) Run(ctx context.Context, sess *Session) error {
	ctx, span := tracer.Start(ctx, "Scheduler.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("debate.session_id", sess.ID),
		attribute.String("debate.format", sess.Format.Name()),
		attribute.Int("debate.rounds", sess.Format.Rounds()),
	)

	if err := sess.transition(SessionRunning); err != nil {
		return sc.fail(sess, "session could not start", err)
	}
	sc.logger.Info("Debate started",
		"session", sess.ID, "topic", sess.Topic,
		"format", sess.Format.Name(), "agents", len(sess.Agents))

	for round := 1; round <= sess.Format.Rounds(); round++ {
		if err := sc.runRound(ctx, sess, round); err != nil {
			if canceled(ctx, err) {
				return sc.cancelled(sess)
			}
			return sc.fail(sess, fmt.Sprintf("round %d failed", round), err)
		}
	}

	verdict, err := sc.evaluate(ctx, sess)
	if err != nil {
		if canceled(ctx, err) {
			return sc.cancelled(sess)
		}
		return sc.fail(sess, "evaluation failed", err)
	}

	if err := sess.transition(SessionCompleted); err != nil {
		return sc.fail(sess, "completion rejected", err)
	}
	sess.Bus.Publish(Event{Type: EventSessionCompleted, Verdict: verdict})
	observability.Get().DebatesFinishedTotal.WithLabelValues(string(SessionCompleted)).Inc()
	sc.logger.Info("Debate completed", "session", sess.ID,
		"rounds", len(sess.Snapshot().Rounds))
	return nil
}

// runRound plans, dispatches, and settles one round, including the
// format's failure policy and per-round scoring.
func (sc *Scheduler) runRound(ctx context.Context, sess *Session, number int) error {
	plan, err := sess.Format.TurnPlan(number, sess.Agents)
	if err != nil {
		return fmt.Errorf("planning round %d: %w", number, err)
	}

	round := &Round{Number: number}
	if err := sess.appendRound(round); err != nil {
		return err
	}

	seq := 0
	for _, group := range plan {
		reqs := sc.buildRequests(sess, round, group, &seq, 0)
		if err := sc.dispatchGroup(ctx, sess, round, reqs); err != nil {
			return err
		}
	}

	if sess.Format.FailurePolicy() == FailureRetryRound {
		if err := sc.retryFailed(ctx, sess, round, &seq); err != nil {
			return err
		}
	}
	sc.placeholderAbstentions(sess, round)

	var scores []Score
	if sc.evaluator != nil && sess.Format.Evaluate() {
		scores = sc.evaluator.ScoreRound(ctx, sess.Topic, round)
		sess.mu.Lock()
		round.Scores = scores
		sess.mu.Unlock()
	}
	sess.mu.Lock()
	round.Summary = summarizeRound(round)
	sess.mu.Unlock()
	sess.touch()

	sess.Bus.Publish(Event{
		Type:   EventRoundCompleted,
		Round:  number,
		Scores: scores,
	})
	return ctx.Err()
}

// buildRequests materialises one turn group: fresh turns appended to the
// round plus the dispatch requests carrying their prompts. Prior turns
// visible to the group are all terminal turns scheduled before it.
func (sc *Scheduler) buildRequests(sess *Session, round *Round,
	group TurnGroup, seq *int, retries int) []TurnRequest {

	prior := sc.visibleTurns(sess, round)
	reqs := make([]TurnRequest, 0, len(group))
	for _, agent := range group {
		turn := &Turn{
			ID:      uuid.NewString(),
			Agent:   agent,
			Round:   round.Number,
			Seq:     *seq,
			Status:  TurnPending,
			Retries: retries,
		}
		*seq++

		pc := promptContext{
			Topic: sess.Topic,
			Agent: agent,
			Round: round.Number,
			Total: sess.Format.Rounds(),
			Prior: prior,
		}
		reqs = append(reqs, TurnRequest{
			Turn: turn,
			Messages: []llm.Message{
				{Role: "system", Content: buildSystemPrompt(pc)},
				{Role: "user", Content: buildUserPrompt(pc)},
			},
			Params: sc.params,
			Client: sc.clients(agent),
			Guard:  &sess.mu,
		})

		sess.mu.Lock()
		round.Turns = append(round.Turns, turn)
		sess.mu.Unlock()
	}
	return reqs
}

// visibleTurns collects the terminal turns an upcoming group may read:
// everything from earlier rounds plus the already settled steps of the
// current round, in schedule order.
func (sc *Scheduler) visibleTurns(sess *Session, current *Round) []*Turn {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var prior []*Turn
	for _, r := range sess.rounds {
		if r.Number > current.Number {
			break
		}
		for _, t := range r.Turns {
			if t.Status.Terminal() {
				prior = append(prior, t)
			}
		}
	}
	return prior
}

func (sc *Scheduler) dispatchGroup(ctx context.Context, sess *Session,
	round *Round, reqs []TurnRequest) error {

	err := sc.dispatcher.Dispatch(ctx, reqs, sess.Bus, sess.Format.AllOrNothing(round.Number))
	sess.touch()
	if err == nil {
		return nil
	}
	if canceled(ctx, err) || errors.Is(err, ErrInvariantViolation) {
		return err
	}
	// All-or-nothing turn failure: every sibling is already terminal,
	// the round-level failure policy decides what happens next.
	sc.logger.Warn("Turn group aborted", "session", sess.ID,
		"round", round.Number, "error", err)
	if sess.Format.FailurePolicy() == FailureRetryRound {
		return nil
	}
	return fmt.Errorf("turn group failed: %w", err)
}

// retryFailed re-runs each failed turn of the round exactly once, as a
// fresh turn. The failed originals stay in the round untouched.
func (sc *Scheduler) retryFailed(ctx context.Context, sess *Session,
	round *Round, seq *int) error {

	sess.mu.Lock()
	var failed []Agent
	for _, t := range round.Turns {
		if t.Abstained() && t.Retries == 0 {
			failed = append(failed, t.Agent)
		}
	}
	sess.mu.Unlock()
	if len(failed) == 0 {
		return nil
	}

	sc.logger.Info("Retrying failed turns", "session", sess.ID,
		"round", round.Number, "count", len(failed))
	reqs := sc.buildRequests(sess, round, TurnGroup(failed), seq, 1)
	return sc.dispatchGroup(ctx, sess, round, reqs)
}

// placeholderAbstentions fills empty content on abstaining turns so the
// transcript and the evaluator see an explicit marker instead of a gap.
// Partial content already streamed is kept as-is.
func (sc *Scheduler) placeholderAbstentions(sess *Session, round *Round) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, t := range round.Turns {
		if t.Abstained() && t.Content == "" {
			t.Content = AbstainPlaceholder
		}
	}
}

// evaluate runs the EVALUATING phase and produces the final verdict, or
// nil when the format skips evaluation.
func (sc *Scheduler) evaluate(ctx context.Context, sess *Session) (*Verdict, error) {
	if sc.evaluator == nil || !sess.Format.Evaluate() {
		return nil, nil
	}
	if err := sess.transition(SessionEvaluating); err != nil {
		return nil, err
	}

	sess.mu.Lock()
	rounds := sess.rounds
	sess.mu.Unlock()

	verdict := sc.evaluator.FinalVerdict(ctx, sess.Topic, sess.Agents, rounds)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess.setVerdict(verdict)
	return verdict, nil
}

// fail drives the session to FAILED and publishes the terminal event.
func (sc *Scheduler) fail(sess *Session, reason string, err error) error {
	sc.logger.Error("Debate failed", "session", sess.ID,
		"reason", reason, "error", err)
	sess.mu.Lock()
	sess.failReason = reason
	sess.mu.Unlock()
	if terr := sess.transition(SessionFailed); terr != nil {
		// Already terminal; keep the original failure as the result.
		sc.logger.Warn("Failure transition rejected", "session", sess.ID, "error", terr)
	}
	sess.Bus.Publish(Event{Type: EventSessionFailed, Reason: reason})
	observability.Get().DebatesFinishedTotal.WithLabelValues(string(SessionFailed)).Inc()
	return err
}

// cancelled drives the session to CANCELLED and publishes the terminal
// event. Cancellation is a clean stop, not a failure, but subscribers
// still need a terminal event to release their streams.
func (sc *Scheduler) cancelled(sess *Session) error {
	sc.logger.Info("Debate cancelled", "session", sess.ID)
	sess.mu.Lock()
	sess.failReason = "cancelled"
	sess.mu.Unlock()
	if err := sess.transition(SessionCancelled); err != nil {
		sc.logger.Warn("Cancel transition rejected", "session", sess.ID, "error", err)
	}
	sess.Bus.Publish(Event{Type: EventSessionFailed, Reason: "cancelled"})
	observability.Get().DebatesFinishedTotal.WithLabelValues(string(SessionCancelled)).Inc()
	return context.Canceled
}

// canceled reports whether err is caller cancellation rather than a
// backend failure. Turn timeouts use context.DeadlineExceeded internally
// but surface as turn status, so only the outer context counts.
func canceled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
