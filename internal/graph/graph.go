// Package graph provides dependency-graph analysis for task plans.
//
// All functions are pure: they take a task list and return fresh result
// structures, with no I/O and no shared state. Validate must pass before
// Waves or TopoSort are meaningful; both assume an acyclic input.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oi-sh/oi/internal/plan"
)

// Result holds the outcome of plan validation.
type Result struct {
	Valid  bool
	Errors []string
}

// Validate checks a task list for structural problems, collecting every error
// in one pass rather than stopping at the first: duplicate ids, dependency
// references to unknown ids, self-dependencies, and cycles.
func Validate(tasks []plan.TaskNode) Result {
	var errs []string

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			errs = append(errs, "task with empty id")
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seen[t.ID] = true
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				errs = append(errs, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
			if dep == t.ID {
				// Tarjan only reports components of size > 1, so a
				// self-loop needs its own check.
				errs = append(errs, fmt.Sprintf("cycle detected: task %q depends on itself", t.ID))
			}
		}
	}

	for _, cycle := range findCycles(tasks) {
		errs = append(errs, fmt.Sprintf("cycle detected involving tasks: %s", strings.Join(cycle, ", ")))
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// findCycles returns every strongly connected component of size > 1, each as
// a sorted list of member ids. Tarjan's algorithm, one DFS over the graph.
func findCycles(tasks []plan.TaskNode) [][]string {
	adj := make(map[string][]string, len(tasks))
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if known[dep] {
				adj[t.ID] = append(adj[t.ID], dep)
			}
		}
	}

	var (
		index    int
		indices  = make(map[string]int, len(tasks))
		lowlinks = make(map[string]int, len(tasks))
		onStack  = make(map[string]bool, len(tasks))
		stack    []string
		cycles   [][]string
	)

	var strongconnect func(id string)
	strongconnect = func(id string) {
		indices[id] = index
		lowlinks[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, dep := range adj[id] {
			if _, visited := indices[dep]; !visited {
				strongconnect(dep)
				lowlinks[id] = min(lowlinks[id], lowlinks[dep])
			} else if onStack[dep] {
				lowlinks[id] = min(lowlinks[id], indices[dep])
			}
		}

		if lowlinks[id] == indices[id] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == id {
					break
				}
			}
			if len(component) > 1 {
				sort.Strings(component)
				cycles = append(cycles, component)
			}
		}
	}

	for _, t := range tasks {
		if _, visited := indices[t.ID]; !visited && t.ID != "" {
			strongconnect(t.ID)
		}
	}

	return cycles
}

// Waves partitions tasks into dependency layers: wave 0 holds tasks with no
// dependencies, and each task's wave is one past the deepest of its
// dependencies. The result is ordered by wave index. Used for display and
// estimation only; the execution scheduler computes readiness dynamically.
func Waves(tasks []plan.TaskNode) [][]plan.TaskNode {
	byID := make(map[string]plan.TaskNode, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	memo := make(map[string]int, len(tasks))
	var waveOf func(id string) int
	waveOf = func(id string) int {
		if w, ok := memo[id]; ok {
			return w
		}
		// Mark before recursing so a cyclic input terminates instead of
		// overflowing the stack. Validation is the mandatory prior step;
		// this is best-effort only.
		memo[id] = 0
		t, ok := byID[id]
		if !ok || len(t.DependsOn) == 0 {
			return 0
		}
		w := 0
		for _, dep := range t.DependsOn {
			if _, known := byID[dep]; !known {
				continue
			}
			if dw := waveOf(dep) + 1; dw > w {
				w = dw
			}
		}
		memo[id] = w
		return w
	}

	maxWave := 0
	for _, t := range tasks {
		if w := waveOf(t.ID); w > maxWave {
			maxWave = w
		}
	}

	waves := make([][]plan.TaskNode, maxWave+1)
	for _, t := range tasks {
		w := memo[t.ID]
		waves[w] = append(waves[w], t)
	}
	if len(tasks) == 0 {
		return nil
	}
	return waves
}

// TopoSort returns the tasks in dependency order: every task appears after
// all of its transitive dependencies. Depth-first postorder, stable for any
// fixed input order, each task visited exactly once.
func TopoSort(tasks []plan.TaskNode) []plan.TaskNode {
	byID := make(map[string]plan.TaskNode, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	visited := make(map[string]bool, len(tasks))
	ordered := make([]plan.TaskNode, 0, len(tasks))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		t, ok := byID[id]
		if !ok {
			return
		}
		for _, dep := range t.DependsOn {
			visit(dep)
		}
		ordered = append(ordered, t)
	}

	for _, t := range tasks {
		visit(t.ID)
	}

	return ordered
}
