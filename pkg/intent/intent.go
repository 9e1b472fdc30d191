// Package intent maps free text to one of a fixed set of task intents plus extracted entities.
package intent

import (
	"context"
	"maps"

	"taskpilot/pkg/convo"
)

// Intent is the classified user goal.
type Intent string

// Intents, listed in classification priority order.
const (
	Help         Intent = "HELP"
	AddTodo      Intent = "ADD_TODO"
	ListTodos    Intent = "LIST_TODOS"
	CompleteTodo Intent = "COMPLETE_TODO"
	DeleteTodo   Intent = "DELETE_TODO"
	ModifyTodo   Intent = "MODIFY_TODO"
	SearchTodos  Intent = "SEARCH_TODOS"
	Unknown      Intent = "UNKNOWN"
)

// All returns every dispatchable and informational intent, UNKNOWN excluded.
func All() []Intent {
	return []Intent{Help, AddTodo, ListTodos, CompleteTodo, DeleteTodo, ModifyTodo, SearchTodos}
}

// Valid reports whether s names a known intent.
func Valid(s string) bool {
	switch Intent(s) {
	case Help, AddTodo, ListTodos, CompleteTodo, DeleteTodo, ModifyTodo, SearchTodos, Unknown:
		return true
	}
	return false
}

// EntityType names a kind of extracted value.
type EntityType string

// Entity types.
const (
	EntityDate     EntityType = "date"
	EntityPriority EntityType = "priority"
	EntityCategory EntityType = "category"
	EntityNumber   EntityType = "number"
	EntityStatus   EntityType = "status"
	EntityQuery    EntityType = "query"
)

// Classification sources.
const (
	SourceRules     = "rules"
	SourceGenerator = "generator"
)

// Classified is the result of classifying one message.
type Classified struct {
	Intent     Intent                `json:"intent"`
	Entities   map[EntityType]string `json:"entities"`
	Confidence float64               `json:"confidence"` // Ordinal only, not a probability
	Text       string                `json:"text"`       // Normalized input
	Spans      map[EntityType]string `json:"spans"`      // Raw matched fragment per entity
	Source     string                `json:"source"`
}

// Clone returns a deep copy.
func (c Classified) Clone() Classified {
	out := c
	out.Entities = maps.Clone(c.Entities)
	out.Spans = maps.Clone(c.Spans)
	return out
}

// Classifier maps text to a Classified. Implementations never fail: unmatched input is UNKNOWN.
type Classifier interface {
	Classify(ctx context.Context, text string, conv convo.Context) Classified
}
