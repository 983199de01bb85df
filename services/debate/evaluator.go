// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agora-ai/agora/services/llm"
	"github.com/agora-ai/agora/services/orchestrator/observability"
)

// =============================================================================
// Evaluation Aggregator
// =============================================================================

// EvalDimensions are the scoring axes applied to every contribution.
// Order is presentation order in summaries and insights.
var EvalDimensions = []string{
	"logical_coherence",
	"evidence_quality",
	"persuasiveness",
	"relevance",
	"originality",
	"clarity",
	"factual_accuracy",
	"emotional_appeal",
}

// EvaluatorConfig tunes the judge calls.
type EvaluatorConfig struct {
	// CallTimeout bounds one judge call. Default 30s: scoring must never
	// hold a finished debate hostage.
	CallTimeout time.Duration

	// MaxRetries is how many times a failed judge call is retried before
	// the turn's scores resolve unavailable. Default 1.
	MaxRetries int

	// Epsilon is the total-score margin below which the verdict is a tie.
	// Default 0.5.
	Epsilon float64
}

// Evaluator scores debate turns with a judge model and aggregates the
// final verdict. It is fail-open end to end: a judge that is down yields
// unavailable scores and a degraded-confidence verdict, never an error.
type Evaluator struct {
	client llm.LLMClient
	cfg    EvaluatorConfig
	logger *slog.Logger
}

// NewEvaluator wires an evaluator around the judge client.
func NewEvaluator(client llm.LLMClient, cfg EvaluatorConfig, logger *slog.Logger) *Evaluator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, cfg: cfg, logger: logger}
}

var _ RoundEvaluator = (*Evaluator)(nil)

// ScoreRound scores every completed turn of the round across all
// dimensions, one judge call per turn. Abstaining turns are skipped;
// failed judge calls resolve as unavailable scores for that turn.
func (e *Evaluator) ScoreRound(ctx context.Context, topic string, round *Round) []Score {
	ctx, span := tracer.Start(ctx, "Evaluator.ScoreRound")
	defer span.End()
	span.SetAttributes(attribute.Int("debate.round", round.Number))

	var scores []Score
	for _, t := range round.Turns {
		if t.Status != TurnCompleted {
			continue
		}
		values, err := e.scoreTurn(ctx, topic, t)
		for _, dim := range EvalDimensions {
			s := Score{Agent: t.Agent.Name, Round: round.Number, Dimension: dim}
			if v, ok := values[dim]; err == nil && ok {
				s.Value = clampScore(v)
			} else {
				s.Unavailable = true
			}
			scores = append(scores, s)
		}
		if err != nil {
			e.logger.Warn("Judge call failed, scores unavailable",
				"agent", t.Agent.Name, "round", round.Number, "error", err)
		}
	}
	return scores
}

// scoreTurn runs one judge call for one turn, with bounded retries, and
// parses the per-dimension score map out of the reply.
func (e *Evaluator) scoreTurn(ctx context.Context, topic string, t *Turn) (map[string]float64, error) {
	prompt := buildJudgePrompt(topic, t)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		reply, err := e.client.Generate(callCtx, prompt, judgeParams())
		cancel()
		if err != nil {
			observability.Get().JudgeCallsTotal.WithLabelValues("error").Inc()
			lastErr = err
			continue
		}
		values, err := parseScoreReply(reply)
		if err != nil {
			observability.Get().JudgeCallsTotal.WithLabelValues("malformed").Inc()
			lastErr = err
			continue
		}
		observability.Get().JudgeCallsTotal.WithLabelValues("ok").Inc()
		return values, nil
	}
	return nil, lastErr
}

// buildJudgePrompt asks for a strict JSON score object so parsing stays
// mechanical. The judge never sees agent thinking, only delivered content.
func buildJudgePrompt(topic string, t *Turn) string {
	var b strings.Builder
	b.WriteString("You are an impartial debate judge. Score the following " +
		"contribution from 0 to 10 on each dimension.\n")
	fmt.Fprintf(&b, "Debate topic: %s\n", topic)
	fmt.Fprintf(&b, "Speaker: %s (stance: %s)\n\n", t.Agent.Name, t.Agent.Stance)
	fmt.Fprintf(&b, "Contribution:\n%s\n\n", t.Content)
	b.WriteString("Respond with ONLY a JSON object, no prose, of the form:\n{")
	for i, dim := range EvalDimensions {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <0-10>", dim)
	}
	b.WriteString("}")
	return b.String()
}

// judgeParams pins the judge to near-deterministic short output.
func judgeParams() llm.GenerationParams {
	temp := float32(0.0)
	maxTokens := 256
	return llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// parseScoreReply extracts the score object from the judge's reply.
// Judges wrap JSON in prose often enough that a lenient brace scan is
// tried when the whole reply does not parse.
func parseScoreReply(reply string) (map[string]float64, error) {
	var values map[string]float64
	if err := json.Unmarshal([]byte(reply), &values); err == nil {
		return values, nil
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("judge reply contains no score object")
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &values); err != nil {
		return nil, fmt.Errorf("parse judge scores: %w", err)
	}
	return values, nil
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

// FinalVerdict aggregates all round scores into the session verdict:
// per-team totals and per-dimension breakdowns, a winner (or tie, or
// inconclusive), the abstention list, and a confidence that degrades
// with unavailable scores and abstentions.
func (e *Evaluator) FinalVerdict(ctx context.Context, topic string,
	agents []Agent, rounds []*Round) *Verdict {

	_, span := tracer.Start(ctx, "Evaluator.FinalVerdict")
	defer span.End()

	stanceOf := make(map[string]Stance, len(agents))
	for _, a := range agents {
		stanceOf[a.Name] = a.Stance
	}

	teams := map[Stance]TeamResult{}
	total, unavailable := 0, 0
	for _, r := range rounds {
		for _, s := range r.Scores {
			total++
			if s.Unavailable {
				unavailable++
				continue
			}
			stance := stanceOf[s.Agent]
			team := teams[stance]
			if team.Dimensions == nil {
				team.Dimensions = map[string]float64{}
			}
			team.Dimensions[s.Dimension] += s.Value
			team.Total += s.Value
			teams[stance] = team
		}
	}

	abstained := abstentions(rounds)
	verdict := &Verdict{
		Teams:       teams,
		Abstentions: abstained,
		Confidence:  confidence(total, unavailable, len(abstained), len(agents)),
	}
	verdict.Winner = pickWinner(teams, e.cfg.Epsilon)
	verdict.Summary = insights(teams)
	e.logger.Info("Verdict computed", "topic", topic,
		"winner", verdict.Winner, "confidence", verdict.Confidence)
	return verdict
}

// pickWinner compares the support and oppose totals. Margins inside
// epsilon are a tie; a debate with no scored team on either side is
// inconclusive.
func pickWinner(teams map[Stance]TeamResult, epsilon float64) string {
	support, hasSupport := teams[StanceSupport]
	oppose, hasOppose := teams[StanceOppose]
	switch {
	case !hasSupport && !hasOppose:
		return "inconclusive"
	case !hasOppose:
		return string(StanceSupport)
	case !hasSupport:
		return string(StanceOppose)
	case math.Abs(support.Total-oppose.Total) <= epsilon:
		return "tie"
	case support.Total > oppose.Total:
		return string(StanceSupport)
	default:
		return string(StanceOppose)
	}
}

// confidence starts at 1.0 and degrades with the share of unavailable
// scores and the share of agents that abstained at least once.
func confidence(totalScores, unavailable, abstained, agents int) float64 {
	c := 1.0
	if totalScores > 0 {
		c -= 0.5 * float64(unavailable) / float64(totalScores)
	} else {
		c = 0
	}
	if agents > 0 {
		c -= 0.5 * float64(abstained) / float64(agents)
	}
	return math.Max(0, math.Round(c*100)/100)
}

// abstentions lists agents that abstained in any round, sorted for
// stable output.
func abstentions(rounds []*Round) []string {
	seen := map[string]bool{}
	for _, r := range rounds {
		for _, t := range r.Turns {
			if t.Abstained() {
				seen[t.Agent.Name] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// insights renders the per-dimension comparison between the two main
// teams as a short human-readable summary.
func insights(teams map[Stance]TeamResult) string {
	support, hasSupport := teams[StanceSupport]
	oppose, hasOppose := teams[StanceOppose]
	if !hasSupport || !hasOppose {
		return ""
	}
	var lines []string
	for _, dim := range EvalDimensions {
		s, o := support.Dimensions[dim], oppose.Dimensions[dim]
		switch {
		case s > o:
			lines = append(lines, fmt.Sprintf("%s: support leads (%.1f vs %.1f)", dim, s, o))
		case o > s:
			lines = append(lines, fmt.Sprintf("%s: oppose leads (%.1f vs %.1f)", dim, o, s))
		default:
			lines = append(lines, fmt.Sprintf("%s: even (%.1f)", dim, s))
		}
	}
	return strings.Join(lines, "\n")
}
