// Package plan defines the task plan produced by the planning phase.
package plan

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Complexity classifies the expected size of a task.
type Complexity string

const (
	ComplexitySmall  Complexity = "small"
	ComplexityMedium Complexity = "medium"
	ComplexityLarge  Complexity = "large"
)

// ValidComplexities returns all valid complexity values.
func ValidComplexities() []Complexity {
	return []Complexity{ComplexitySmall, ComplexityMedium, ComplexityLarge}
}

// NormalizeComplexity maps a free-form complexity string to a Complexity,
// defaulting to medium for anything unrecognized. Planner output is not
// trusted to stick to the schema.
func NormalizeComplexity(s string) Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(s))) {
	case ComplexitySmall:
		return ComplexitySmall
	case ComplexityLarge:
		return ComplexityLarge
	default:
		return ComplexityMedium
	}
}

// TaskNode is a single unit of work in a plan. Nodes are immutable once the
// plan is approved.
type TaskNode struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	FileScope   []string   `json:"file_scope,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Complexity  Complexity `json:"complexity"`
}

// Plan is the approved decomposition of a goal into tasks.
type Plan struct {
	Summary string     `json:"summary"`
	Tasks   []TaskNode `json:"tasks"`
}

// Task returns the node with the given id, or nil.
func (p *Plan) Task(id string) *TaskNode {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// ScopeWarnings returns advisory warnings for file scope patterns that are
// not valid doublestar globs. Scope is advisory only, so bad patterns never
// invalidate a plan.
func ScopeWarnings(tasks []TaskNode) []string {
	var warnings []string
	for _, t := range tasks {
		for _, pattern := range t.FileScope {
			if !doublestar.ValidatePattern(pattern) {
				warnings = append(warnings, fmt.Sprintf("task %s: file scope pattern %q is not a valid glob", t.ID, pattern))
			}
		}
	}
	return warnings
}
