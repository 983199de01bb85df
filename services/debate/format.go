// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Debate Formats
// =============================================================================

// FailurePolicy decides what happens to a round when one of its turns ends
// FAILED or TIMED_OUT. The session never aborts either way.
type FailurePolicy string

const (
	// FailurePlaceholder records the turn as abstained and the round
	// proceeds. This is the default.
	FailurePlaceholder FailurePolicy = "placeholder"
	// FailureRetryRound re-runs the failed turns of the round once before
	// falling back to placeholders.
	FailureRetryRound FailurePolicy = "retry_round"
)

// TurnGroup is one step of a round's plan. Agents within a group run
// simultaneously and cannot see each other's in-progress output; groups run
// sequentially, and later groups' prompts include earlier groups' content
// from the same round.
type TurnGroup []Agent

// Format is the per-debate policy object: team grouping, per-round turn
// order, round count, failure handling, and whether an evaluation phase
// follows the last round. Selected at session creation, immutable after.
//
// Adding a format means adding one implementation of this interface.
type Format interface {
	// Name returns the wire identifier (adversarial, collaborative,
	// competitive, custom).
	Name() string

	// Rounds returns the number of debate rounds.
	Rounds() int

	// TurnPlan builds the ordered turn groups for the given 1-based round
	// over the session's agents.
	TurnPlan(round int, agents []Agent) ([]TurnGroup, error)

	// FailurePolicy returns the round-level failure handling policy.
	FailurePolicy() FailurePolicy

	// AllOrNothing reports whether a turn failure in the given round
	// cancels the round's sibling turns.
	AllOrNothing(round int) bool

	// Evaluate reports whether the session runs the evaluation phase
	// after the last round.
	Evaluate() bool
}

// ParseFormat resolves a wire format name to a Format with the given round
// count. Custom formats are built separately from a definition; asking for
// "custom" here returns ErrInvalidFormat.
func ParseFormat(name string, rounds int) (Format, error) {
	if rounds < 1 {
		return nil, fmt.Errorf("%w: rounds must be >= 1, got %d", ErrInvalidFormat, rounds)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "adversarial":
		return &AdversarialFormat{NumRounds: rounds}, nil
	case "collaborative":
		return &CollaborativeFormat{NumRounds: rounds}, nil
	case "competitive":
		return &CompetitiveFormat{NumRounds: rounds}, nil
	case "custom":
		return nil, fmt.Errorf("%w: custom formats require a definition", ErrInvalidFormat)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidFormat, name)
	}
}

// -----------------------------------------------------------------------------
// Adversarial
// -----------------------------------------------------------------------------

// AdversarialFormat runs two stances against each other. Every round is
// fully sequential with the opposition speaking first, so each rebuttal
// sees the text it rebuts.
type AdversarialFormat struct {
	NumRounds int
	Policy    FailurePolicy
}

func (f *AdversarialFormat) Name() string   { return "adversarial" }
func (f *AdversarialFormat) Rounds() int    { return f.NumRounds }
func (f *AdversarialFormat) Evaluate() bool { return true }

func (f *AdversarialFormat) FailurePolicy() FailurePolicy {
	if f.Policy == "" {
		return FailurePlaceholder
	}
	return f.Policy
}

func (f *AdversarialFormat) AllOrNothing(int) bool { return false }

func (f *AdversarialFormat) TurnPlan(round int, agents []Agent) ([]TurnGroup, error) {
	if err := checkRound(f, round); err != nil {
		return nil, err
	}
	if len(agents) < 2 {
		return nil, fmt.Errorf("%w: adversarial format needs at least 2 agents", ErrInvalidFormat)
	}
	// Opposition first, then support, then anyone neutral; one sequential
	// step per agent. Order within a stance follows roster order.
	var plan []TurnGroup
	for _, stance := range []Stance{StanceOppose, StanceSupport, StanceNeutral} {
		for _, a := range agents {
			if a.Stance == stance {
				plan = append(plan, TurnGroup{a})
			}
		}
	}
	// Agents with an unrecognized stance still get a turn.
	for _, a := range agents {
		if a.Stance != StanceOppose && a.Stance != StanceSupport && a.Stance != StanceNeutral {
			plan = append(plan, TurnGroup{a})
		}
	}
	return plan, nil
}

// -----------------------------------------------------------------------------
// Collaborative
// -----------------------------------------------------------------------------

// CollaborativeFormat has all drafters respond simultaneously each round,
// then a final integration round where the writer (or the last agent when
// no writer role is present) synthesizes the drafts alone.
type CollaborativeFormat struct {
	NumRounds int
	Policy    FailurePolicy
}

func (f *CollaborativeFormat) Name() string   { return "collaborative" }
func (f *CollaborativeFormat) Evaluate() bool { return true }

// Rounds includes the trailing integration round.
func (f *CollaborativeFormat) Rounds() int { return f.NumRounds }

func (f *CollaborativeFormat) FailurePolicy() FailurePolicy {
	if f.Policy == "" {
		return FailurePlaceholder
	}
	return f.Policy
}

func (f *CollaborativeFormat) AllOrNothing(int) bool { return false }

func (f *CollaborativeFormat) TurnPlan(round int, agents []Agent) ([]TurnGroup, error) {
	if err := checkRound(f, round); err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: collaborative format needs at least 1 agent", ErrInvalidFormat)
	}
	writer := agents[len(agents)-1]
	for _, a := range agents {
		if a.Role == RoleWriter {
			writer = a
			break
		}
	}

	if round == f.NumRounds && f.NumRounds > 1 {
		return []TurnGroup{{writer}}, nil
	}

	// Draft round: everyone but the integrator, simultaneously. A lone
	// agent drafts by itself.
	var group TurnGroup
	for _, a := range agents {
		if a.Name != writer.Name || len(agents) == 1 || f.NumRounds == 1 {
			group = append(group, a)
		}
	}
	return []TurnGroup{group}, nil
}

// -----------------------------------------------------------------------------
// Competitive
// -----------------------------------------------------------------------------

// competitivePipeline is the role order of a competitive round.
var competitivePipeline = []AgentRole{RoleSearcher, RoleAnalyzer, RoleWriter, RoleReviewer}

// CompetitiveFormat runs a sequential pipeline each round: research, then
// analysis, then drafting, then review, each stage reading the previous
// stage's output. Agents outside the pipeline roles append in roster order.
//
// Later stages build on earlier ones, so a failed stage costs the whole
// pipeline; the default policy retries the round's failed turns once.
type CompetitiveFormat struct {
	NumRounds int
	Policy    FailurePolicy
}

func (f *CompetitiveFormat) Name() string   { return "competitive" }
func (f *CompetitiveFormat) Rounds() int    { return f.NumRounds }
func (f *CompetitiveFormat) Evaluate() bool { return true }

func (f *CompetitiveFormat) FailurePolicy() FailurePolicy {
	if f.Policy == "" {
		return FailureRetryRound
	}
	return f.Policy
}

func (f *CompetitiveFormat) AllOrNothing(int) bool { return false }

func (f *CompetitiveFormat) TurnPlan(round int, agents []Agent) ([]TurnGroup, error) {
	if err := checkRound(f, round); err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: competitive format needs at least 1 agent", ErrInvalidFormat)
	}
	var plan []TurnGroup
	seen := make(map[string]bool, len(agents))
	for _, role := range competitivePipeline {
		for _, a := range agents {
			if a.Role == role && !seen[a.Name] {
				plan = append(plan, TurnGroup{a})
				seen[a.Name] = true
			}
		}
	}
	for _, a := range agents {
		if !seen[a.Name] {
			plan = append(plan, TurnGroup{a})
			seen[a.Name] = true
		}
	}
	return plan, nil
}

// -----------------------------------------------------------------------------
// Custom
// -----------------------------------------------------------------------------

// CustomFormatDef is the YAML shape of a user-supplied format.
//
// Two modes: explicit per-round step plans, or roundtable rotation
// (one sequential turn per agent, the opening speaker advancing by one
// each round).
type CustomFormatDef struct {
	Name          string        `yaml:"name"`
	Rounds        int           `yaml:"rounds"`
	Rotate        bool          `yaml:"rotate"`
	Evaluate      *bool         `yaml:"evaluate"`
	FailurePolicy FailurePolicy `yaml:"failure_policy"`
	AllOrNothing  bool          `yaml:"all_or_nothing"`

	// Plans[i] is the plan for round i+1; each step lists agent names
	// that run simultaneously. When fewer plans than rounds are given
	// the last plan repeats. Ignored when Rotate is set.
	Plans [][][]string `yaml:"plans"`
}

// CustomFormat executes a CustomFormatDef.
type CustomFormat struct {
	def CustomFormatDef
}

// NewCustomFormat validates a definition.
func NewCustomFormat(def CustomFormatDef) (*CustomFormat, error) {
	if def.Rounds < 1 {
		return nil, fmt.Errorf("%w: custom format %q: rounds must be >= 1", ErrInvalidFormat, def.Name)
	}
	if !def.Rotate && len(def.Plans) == 0 {
		return nil, fmt.Errorf("%w: custom format %q: need either rotate or plans", ErrInvalidFormat, def.Name)
	}
	switch def.FailurePolicy {
	case "", FailurePlaceholder, FailureRetryRound:
	default:
		return nil, fmt.Errorf("%w: custom format %q: unknown failure_policy %q",
			ErrInvalidFormat, def.Name, def.FailurePolicy)
	}
	return &CustomFormat{def: def}, nil
}

// ParseCustomFormat builds a CustomFormat from YAML.
func ParseCustomFormat(data []byte) (*CustomFormat, error) {
	var def CustomFormatDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return NewCustomFormat(def)
}

func (f *CustomFormat) Name() string {
	if f.def.Name != "" {
		return f.def.Name
	}
	return "custom"
}

func (f *CustomFormat) Rounds() int { return f.def.Rounds }

func (f *CustomFormat) Evaluate() bool {
	if f.def.Evaluate == nil {
		return true
	}
	return *f.def.Evaluate
}

func (f *CustomFormat) FailurePolicy() FailurePolicy {
	if f.def.FailurePolicy == "" {
		return FailurePlaceholder
	}
	return f.def.FailurePolicy
}

func (f *CustomFormat) AllOrNothing(int) bool { return f.def.AllOrNothing }

func (f *CustomFormat) TurnPlan(round int, agents []Agent) ([]TurnGroup, error) {
	if err := checkRound(f, round); err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: custom format needs at least 1 agent", ErrInvalidFormat)
	}

	if f.def.Rotate {
		// Roundtable: sequential turns, opening speaker rotates.
		start := (round - 1) % len(agents)
		plan := make([]TurnGroup, 0, len(agents))
		for i := 0; i < len(agents); i++ {
			plan = append(plan, TurnGroup{agents[(start+i)%len(agents)]})
		}
		return plan, nil
	}

	byName := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}
	idx := round - 1
	if idx >= len(f.def.Plans) {
		idx = len(f.def.Plans) - 1
	}
	var plan []TurnGroup
	for _, step := range f.def.Plans[idx] {
		var group TurnGroup
		for _, name := range step {
			a, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: custom format references unknown agent %q",
					ErrInvalidFormat, name)
			}
			group = append(group, a)
		}
		if len(group) > 0 {
			plan = append(plan, group)
		}
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: custom format round %d has an empty plan", ErrInvalidFormat, round)
	}
	return plan, nil
}

func checkRound(f Format, round int) error {
	if round < 1 || round > f.Rounds() {
		return fmt.Errorf("%w: round %d out of range [1,%d]", ErrInvariantViolation, round, f.Rounds())
	}
	return nil
}

var (
	_ Format = (*AdversarialFormat)(nil)
	_ Format = (*CollaborativeFormat)(nil)
	_ Format = (*CompetitiveFormat)(nil)
	_ Format = (*CustomFormat)(nil)
)
