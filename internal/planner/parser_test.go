package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oi-sh/oi/internal/plan"
)

func TestParsePlan_Fenced(t *testing.T) {
	p, err := ParsePlan(validPlanOutput)
	require.NoError(t, err)

	assert.Equal(t, "two-step plan", p.Summary)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "t1", p.Tasks[0].ID)
	assert.Equal(t, plan.ComplexitySmall, p.Tasks[0].Complexity)
	assert.Equal(t, []string{"t1"}, p.Tasks[1].DependsOn)
}

func TestParsePlan_AlternativeFieldNames(t *testing.T) {
	output := "```json\n" + `{
  "summary": "s",
  "tasks": [
    {"id": "t1", "title": "a", "description": "d", "files": ["pkg/**"], "weight": "large"},
    {"id": "t2", "title": "b", "description": "d", "depends": ["t1"]}
  ]
}` + "\n```"

	p, err := ParsePlan(output)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/**"}, p.Tasks[0].FileScope)
	assert.Equal(t, plan.ComplexityLarge, p.Tasks[0].Complexity)
	assert.Equal(t, []string{"t1"}, p.Tasks[1].DependsOn)
	assert.Equal(t, plan.ComplexityMedium, p.Tasks[1].Complexity)
}

func TestParsePlan_WrappedPlan(t *testing.T) {
	output := `{"plan": {"summary": "nested", "tasks": [{"id": "t1", "title": "a", "description": "d"}]}}`

	p, err := ParsePlan(output)
	require.NoError(t, err)
	assert.Equal(t, "nested", p.Summary)
	require.Len(t, p.Tasks, 1)
}

func TestParsePlan_NoJSON(t *testing.T) {
	_, err := ParsePlan("just prose, no structure")
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestParsePlan_EmptyTasks(t *testing.T) {
	_, err := ParsePlan(`{"summary": "empty", "tasks": []}`)
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestParsePlan_TrimsWhitespace(t *testing.T) {
	output := `{"summary": "  padded  ", "tasks": [{"id": " t1 ", "title": " a ", "description": " d "}]}`

	p, err := ParsePlan(output)
	require.NoError(t, err)
	assert.Equal(t, "padded", p.Summary)
	assert.Equal(t, "t1", p.Tasks[0].ID)
	assert.Equal(t, "a", p.Tasks[0].Title)
}
