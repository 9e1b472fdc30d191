// Package command maps classified intents onto Task Store operations.
package command

import (
	"errors"
	"maps"
)

// Method is the HTTP-style verb of a downstream operation.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Operation names a logical Task Store operation.
type Operation string

const (
	OpCreateTask   Operation = "create_task"
	OpListTasks    Operation = "list_tasks"
	OpUpdateTask   Operation = "update_task"
	OpCompleteTask Operation = "complete_task"
	OpDeleteTask   Operation = "delete_task"
	OpSearchTasks  Operation = "search_tasks"
)

// Payload and query keys.
const (
	KeyTitle    = "title"
	KeyDueDate  = "due_date"
	KeyPriority = "priority"
	KeyCategory = "category"
	KeyStatus   = "status"
	KeySearch   = "search"
)

// Missing-field names carried by clarifications.
const (
	FieldTargetID     = "target_id"
	FieldTitle        = "title"
	FieldUpdateFields = "update_fields"
	FieldQuery        = "query"
)

// ErrNotDispatchable is returned for intents that never reach the Task Store (HELP, UNKNOWN).
var ErrNotDispatchable = errors.New("intent is not dispatchable")

// Command is one concrete downstream operation.
type Command struct {
	Operation      Operation         `json:"operation"`
	Method         Method            `json:"method"`
	Target         string            `json:"target"` // Logical resource path, e.g. "tasks/3/complete"
	TargetID       string            `json:"target_id,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// Clone returns a copy whose maps are not shared with the receiver.
func (c Command) Clone() Command {
	out := c
	out.Payload = maps.Clone(c.Payload)
	out.Query = maps.Clone(c.Query)
	return out
}

// Mutates reports whether the command changes downstream state.
func (c Command) Mutates() bool {
	return c.Method != MethodGet
}
