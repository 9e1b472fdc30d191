package synth

import (
	"fmt"
	"strconv"
	"strings"
)

// task is the subset of a Task Store record the replies mention.
type task struct {
	ID        string
	Title     string
	DueDate   string
	Priority  string
	Category  string
	Completed bool
}

func (t task) details() string {
	var parts []string
	if t.DueDate != "" {
		parts = append(parts, "due "+t.DueDate)
	}
	if t.Priority != "" {
		parts = append(parts, t.Priority+" priority")
	}
	if t.Category != "" {
		parts = append(parts, t.Category)
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func taskFrom(m map[string]any) task {
	if nested, ok := m["task"].(map[string]any); ok {
		m = nested
	}
	t := task{
		ID:       stringOf(m["id"]),
		Title:    stringOf(m["title"]),
		DueDate:  stringOf(m["due_date"]),
		Priority: stringOf(m["priority"]),
		Category: stringOf(m["category"]),
	}
	if done, ok := m["completed"].(bool); ok {
		t.Completed = done
	}
	if status := stringOf(m["status"]); status == "completed" || status == "done" {
		t.Completed = true
	}
	return t
}

func tasksFrom(body map[string]any) []task {
	items, _ := body["tasks"].([]any)
	if items == nil {
		items, _ = body["items"].([]any)
	}
	out := make([]task, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, taskFrom(m))
		}
	}
	return out
}

// stringOf renders JSON scalars; JSON numbers arrive as float64.
func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
