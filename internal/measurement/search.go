package measurement

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

type taskSource []Task

func (s taskSource) String(i int) string {
	t := s[i]
	return t.Name + " " + t.Brand + " " + t.Department + " " + t.Calculator
}

func (s taskSource) Len() int { return len(s) }

// SearchTasks fuzzy-filters tasks by name, brand, department and
// calculator, best match first. A blank query returns tasks unchanged.
func SearchTasks(tasks []Task, query string) []Task {
	query = strings.TrimSpace(query)
	if query == "" {
		return tasks
	}
	matches := fuzzy.FindFrom(query, taskSource(tasks))
	out := make([]Task, 0, len(matches))
	for _, m := range matches {
		out = append(out, tasks[m.Index])
	}
	return out
}
