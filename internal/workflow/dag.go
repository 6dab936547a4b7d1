package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// validateStepDAG checks that the requires edges between step indexes form a
// directed acyclic graph and returns a valid topological order of the steps.
// It uses Kahn's algorithm, and on cycle detection falls back to a DFS that
// reconstructs the cycle path for the error message.
func validateStepDAG(stepCount int, requires map[int][]int) ([]int, error) {
	if stepCount == 0 {
		return nil, nil
	}

	inDegree := make([]int, stepCount)
	forward := make(map[int][]int)

	for step, deps := range requires {
		for _, dep := range deps {
			if dep < 0 || dep >= stepCount {
				continue // unknown refs are caught by template validation
			}
			inDegree[step]++
			forward[dep] = append(forward[dep], step)
		}
	}

	var queue []int
	for i := 0; i < stepCount; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	var sorted []int
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		sorted = append(sorted, step)

		for _, dependent := range forward[step] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) == stepCount {
		return sorted, nil
	}

	cyclePath := findCyclePath(stepCount, requires, inDegree)
	return nil, fmt.Errorf("circular dependency detected: %s", joinSteps(cyclePath))
}

// findCyclePath finds a cycle path among steps left with non-zero in-degree.
func findCyclePath(stepCount int, requires map[int][]int, inDegree []int) []int {
	const (
		white = 0 // unvisited
		gray  = 1 // in current path
		black = 2 // finished
	)

	color := make([]int, stepCount)
	parent := make(map[int]int)

	var cyclePath []int

	var dfs func(step int) bool
	dfs = func(step int) bool {
		color[step] = gray
		for _, dep := range requires[step] {
			if dep < 0 || dep >= stepCount {
				continue
			}
			if color[dep] == gray {
				// Found a cycle, walk the parent chain back to reconstruct it
				cyclePath = []int{dep}
				current := step
				for current != dep {
					cyclePath = append(cyclePath, current)
					current = parent[current]
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = step
				if dfs(dep) {
					return true
				}
			}
		}
		color[step] = black
		return false
	}

	for i := 0; i < stepCount; i++ {
		if inDegree[i] > 0 && color[i] == white {
			if dfs(i) {
				return cyclePath
			}
		}
	}

	return nil
}

func joinSteps(steps []int) string {
	if len(steps) == 0 {
		return "(cycle detected)"
	}
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, " -> ")
}
