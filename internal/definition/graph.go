package definition

import (
	"fmt"
	"sort"
	"strings"
)

// validateGraph checks step ids, dependency references, cycles and output aliasing.
func validateGraph(d *Definition) []string {
	var issues []string

	index := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		if _, dup := index[s.ID]; dup {
			issues = append(issues, fmt.Sprintf("duplicate step_id %q at index %d", s.ID, i))
			continue
		}
		index[s.ID] = i
	}

	for i, s := range d.Steps {
		for _, dep := range s.DependsOn {
			switch {
			case dep == s.ID:
				issues = append(issues, fmt.Sprintf("step %q (index %d) depends on itself", s.ID, i))
			case !contains(index, dep):
				issues = append(issues, fmt.Sprintf("step %q (index %d) depends on unknown step %q", s.ID, i, dep))
			}
		}
	}
	if len(issues) > 0 {
		return issues
	}

	if err := checkCircularDependencies(d); err != nil {
		return append(issues, err.Error())
	}

	return append(issues, checkOutputAliasing(d)...)
}

func contains(index map[string]int, id string) bool {
	_, ok := index[id]
	return ok
}

// checkCircularDependencies detects cycles in the step dependency graph
func checkCircularDependencies(d *Definition) error {
	graph := make(map[string][]string, len(d.Steps))
	for _, s := range d.Steps {
		graph[s.ID] = s.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(id string, path []string) error
	hasCycle = func(id string, path []string) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, dep := range graph[id] {
			if !visited[dep] {
				if err := hasCycle(dep, path); err != nil {
					return err
				}
			} else if recStack[dep] {
				cyclePath := append(path, dep)
				return fmt.Errorf("circular dependency detected: %s", strings.Join(cyclePath, " -> "))
			}
		}

		recStack[id] = false
		return nil
	}

	for _, s := range d.Steps {
		if !visited[s.ID] {
			if err := hasCycle(s.ID, []string{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkOutputAliasing rejects two steps that may run independently of each other
// and declare the same output key.
func checkOutputAliasing(d *Definition) []string {
	var issues []string
	owners := make(map[string][]string)
	for _, s := range d.Steps {
		for _, out := range s.Outputs {
			owners[out] = append(owners[out], s.ID)
		}
	}

	keys := make([]string, 0, len(owners))
	for k := range owners {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, out := range keys {
		ids := owners[out]
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if !d.DependsTransitively(ids[i], ids[j]) && !d.DependsTransitively(ids[j], ids[i]) {
					issues = append(issues, fmt.Sprintf("steps %q and %q both declare output %q without a dependency between them", ids[i], ids[j], out))
				}
			}
		}
	}
	return issues
}

// DependsTransitively reports whether step a depends on step b, directly or through
// other steps.
func (d *Definition) DependsTransitively(a, b string) bool {
	deps := make(map[string][]string, len(d.Steps))
	for _, s := range d.Steps {
		deps[s.ID] = s.DependsOn
	}

	seen := make(map[string]bool)
	stack := append([]string(nil), deps[a]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == b {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, deps[id]...)
	}
	return false
}

// Dependents returns the ids of every step that depends on id, directly or
// transitively, in declaration order.
func (d *Definition) Dependents(id string) []string {
	var out []string
	for _, s := range d.Steps {
		if s.ID != id && d.DependsTransitively(s.ID, id) {
			out = append(out, s.ID)
		}
	}
	return out
}

// Order returns the steps in a topological order of depends_on. Among steps that
// are ready at the same time, declaration order wins, so the result is deterministic.
func (d *Definition) Order() ([]Step, error) {
	n := len(d.Steps)
	index := make(map[string]int, n)
	for i, s := range d.Steps {
		index[s.ID] = i
	}

	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range d.Steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, n)
	order := make([]Step, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			if err := checkCircularDependencies(d); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("circular dependency detected")
		}
		done[next] = true
		order = append(order, d.Steps[next])
		for _, k := range dependents[next] {
			inDegree[k]--
		}
	}
	return order, nil
}

// Levels groups the ordered steps into batches whose members have all their
// dependencies in earlier batches.
func (d *Definition) Levels() ([][]Step, error) {
	order, err := d.Order()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	var levels [][]Step
	for _, s := range order {
		l := 0
		for _, dep := range s.DependsOn {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[s.ID] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], s)
	}
	return levels, nil
}
