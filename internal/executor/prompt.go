package executor

import (
	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/templates"
)

type promptDependency struct {
	Title   string
	Branch  string
	Summary string
}

// buildTaskPrompt renders the worker prompt for one task: its description,
// advisory file scope, and what its completed dependencies did.
func buildTaskPrompt(p *project.Project, t plan.TaskNode, branch string) (string, error) {
	var deps []promptDependency
	for _, depID := range t.DependsOn {
		exec, ok := p.Tasks[depID]
		if !ok || exec.Status != project.TaskCompleted {
			continue
		}
		depTitle := depID
		if node := p.Plan.Task(depID); node != nil {
			depTitle = node.Title
		}
		deps = append(deps, promptDependency{
			Title:   depTitle,
			Branch:  exec.BranchName,
			Summary: exec.Summary,
		})
	}

	return templates.Render("task", map[string]any{
		"Repo":         p.Repo.String(),
		"Goal":         p.Goal,
		"Title":        t.Title,
		"Description":  t.Description,
		"Branch":       branch,
		"FileScope":    t.FileScope,
		"Dependencies": deps,
	})
}
