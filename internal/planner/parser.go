package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oi-sh/oi/internal/extract"
	"github.com/oi-sh/oi/internal/plan"
)

// ErrNoPlan indicates the agent's output contained no parseable plan.
var ErrNoPlan = errors.New("no plan found in output")

// flexibleTask tolerates the alternative field names planner agents tend to
// produce despite the schema in the prompt.
type flexibleTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	FileScope   []string `json:"file_scope"`
	Files       []string `json:"files"`
	DependsOn   []string `json:"depends_on"`
	Depends     []string `json:"depends"`
	Complexity  string   `json:"complexity"`
	Weight      string   `json:"weight"`
}

type flexiblePlan struct {
	Summary string         `json:"summary"`
	Tasks   []flexibleTask `json:"tasks"`
}

// ParsePlan extracts a Plan from free-form planner output. Absence of a
// structured result is reported as ErrNoPlan, never as a panic or a partial
// plan.
func ParsePlan(output string) (*plan.Plan, error) {
	raw, ok := extract.FirstJSON(output)
	if !ok {
		return nil, ErrNoPlan
	}

	var parsed flexiblePlan
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: output JSON does not match the plan schema", ErrNoPlan)
	}
	if len(parsed.Tasks) == 0 {
		// Some agents wrap the plan one level deeper.
		var wrapped struct {
			Plan flexiblePlan `json:"plan"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Plan.Tasks) > 0 {
			parsed = wrapped.Plan
		}
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("%w: plan contains no tasks", ErrNoPlan)
	}

	result := &plan.Plan{
		Summary: strings.TrimSpace(parsed.Summary),
		Tasks:   make([]plan.TaskNode, len(parsed.Tasks)),
	}
	for i, ft := range parsed.Tasks {
		deps := ft.DependsOn
		if len(deps) == 0 {
			deps = ft.Depends
		}
		scope := ft.FileScope
		if len(scope) == 0 {
			scope = ft.Files
		}
		complexity := ft.Complexity
		if complexity == "" {
			complexity = ft.Weight
		}
		result.Tasks[i] = plan.TaskNode{
			ID:          strings.TrimSpace(ft.ID),
			Title:       strings.TrimSpace(ft.Title),
			Description: strings.TrimSpace(ft.Description),
			FileScope:   scope,
			DependsOn:   deps,
			Complexity:  plan.NormalizeComplexity(complexity),
		}
	}
	return result, nil
}
