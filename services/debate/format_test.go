package debate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func debateAgents() []Agent {
	return []Agent{
		{Name: "advocate", Role: RoleAngel, Stance: StanceSupport, Model: "llama3.1:8b"},
		{Name: "critic", Role: RoleDevil, Stance: StanceOppose, Model: "llama3.1:8b"},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"adversarial", "Collaborative", " competitive "} {
		f, err := ParseFormat(name, 3)
		require.NoError(t, err, name)
		assert.Equal(t, 3, f.Rounds())
	}

	_, err := ParseFormat("socratic", 3)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = ParseFormat("custom", 3)
	assert.ErrorIs(t, err, ErrInvalidFormat, "custom requires a definition")

	_, err = ParseFormat("adversarial", 0)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAdversarialFormat_OppositionSpeaksFirst(t *testing.T) {
	t.Parallel()

	f := &AdversarialFormat{NumRounds: 2}
	plan, err := f.TurnPlan(1, debateAgents())
	require.NoError(t, err)

	require.Len(t, plan, 2)
	require.Len(t, plan[0], 1)
	assert.Equal(t, "critic", plan[0][0].Name)
	assert.Equal(t, "advocate", plan[1][0].Name)
	assert.Equal(t, FailurePlaceholder, f.FailurePolicy())
	assert.True(t, f.Evaluate())
}

func TestAdversarialFormat_RejectsTooFewAgents(t *testing.T) {
	t.Parallel()

	f := &AdversarialFormat{NumRounds: 1}
	_, err := f.TurnPlan(1, debateAgents()[:1])
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestCollaborativeFormat_DraftsThenIntegration(t *testing.T) {
	t.Parallel()

	agents := []Agent{
		{Name: "ideas-a", Role: RoleAnalyzer},
		{Name: "ideas-b", Role: RoleSearcher},
		{Name: "editor", Role: RoleWriter},
	}
	f := &CollaborativeFormat{NumRounds: 3}

	draft, err := f.TurnPlan(1, agents)
	require.NoError(t, err)
	require.Len(t, draft, 1, "draft rounds are one simultaneous group")
	assert.Len(t, draft[0], 2, "writer sits out drafting")

	final, err := f.TurnPlan(3, agents)
	require.NoError(t, err)
	require.Len(t, final, 1)
	require.Len(t, final[0], 1)
	assert.Equal(t, "editor", final[0][0].Name)
}

func TestCollaborativeFormat_SingleRoundIncludesEveryone(t *testing.T) {
	t.Parallel()

	f := &CollaborativeFormat{NumRounds: 1}
	plan, err := f.TurnPlan(1, debateAgents())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Len(t, plan[0], 2)
}

func TestCompetitiveFormat_PipelineOrder(t *testing.T) {
	t.Parallel()

	agents := []Agent{
		{Name: "w", Role: RoleWriter},
		{Name: "s", Role: RoleSearcher},
		{Name: "r", Role: RoleReviewer},
		{Name: "a", Role: RoleAnalyzer},
	}
	f := &CompetitiveFormat{NumRounds: 1}
	plan, err := f.TurnPlan(1, agents)
	require.NoError(t, err)

	require.Len(t, plan, 4)
	var order []string
	for _, g := range plan {
		require.Len(t, g, 1, "competitive rounds are fully sequential")
		order = append(order, g[0].Name)
	}
	assert.Equal(t, []string{"s", "a", "w", "r"}, order)
}

func TestCompetitiveFormat_RetriesRoundByDefault(t *testing.T) {
	t.Parallel()

	f := &CompetitiveFormat{NumRounds: 2}
	assert.Equal(t, FailureRetryRound, f.FailurePolicy())

	f.Policy = FailurePlaceholder
	assert.Equal(t, FailurePlaceholder, f.FailurePolicy())
}

func TestCustomFormat_ExplicitPlans(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: panel
rounds: 2
failure_policy: retry_round
plans:
  - [["critic", "advocate"]]
  - [["critic"], ["advocate"]]
`)
	f, err := ParseCustomFormat(data)
	require.NoError(t, err)
	assert.Equal(t, "panel", f.Name())
	assert.Equal(t, FailureRetryRound, f.FailurePolicy())

	r1, err := f.TurnPlan(1, debateAgents())
	require.NoError(t, err)
	require.Len(t, r1, 1)
	assert.Len(t, r1[0], 2)

	r2, err := f.TurnPlan(2, debateAgents())
	require.NoError(t, err)
	require.Len(t, r2, 2)
}

func TestCustomFormat_RotationAdvancesOpener(t *testing.T) {
	t.Parallel()

	f, err := NewCustomFormat(CustomFormatDef{Name: "roundtable", Rounds: 3, Rotate: true})
	require.NoError(t, err)

	r1, err := f.TurnPlan(1, debateAgents())
	require.NoError(t, err)
	r2, err := f.TurnPlan(2, debateAgents())
	require.NoError(t, err)

	assert.Equal(t, "advocate", r1[0][0].Name)
	assert.Equal(t, "critic", r2[0][0].Name)
}

func TestCustomFormat_UnknownAgentRejected(t *testing.T) {
	t.Parallel()

	f, err := NewCustomFormat(CustomFormatDef{
		Rounds: 1,
		Plans:  [][][]string{{{"ghost"}}},
	})
	require.NoError(t, err)

	_, err = f.TurnPlan(1, debateAgents())
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestCustomFormat_DefinitionValidation(t *testing.T) {
	t.Parallel()

	cases := []CustomFormatDef{
		{Rounds: 0, Rotate: true},
		{Rounds: 2},
		{Rounds: 2, Rotate: true, FailurePolicy: "shrug"},
	}
	for _, def := range cases {
		_, err := NewCustomFormat(def)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	}
}

func TestTurnPlan_RoundOutOfRange(t *testing.T) {
	t.Parallel()

	f := &AdversarialFormat{NumRounds: 2}
	for _, round := range []int{0, 3} {
		_, err := f.TurnPlan(round, debateAgents())
		assert.True(t, errors.Is(err, ErrInvariantViolation), "round %d", round)
	}
}
