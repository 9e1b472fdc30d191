// Package convo holds per-user short-term conversation memory.
package convo

import (
	"maps"
	"slices"
	"time"
)

// Role identifies who produced a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded message. Turns are never modified after they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clarification records an intent waiting for the user to supply missing fields.
type Clarification struct {
	Intent        string            `json:"intent"`
	MissingFields []string          `json:"missing_fields"`
	Entities      map[string]string `json:"entities,omitempty"` // Values gathered before the question was asked
}

// Clone returns a deep copy.
func (c *Clarification) Clone() *Clarification {
	if c == nil {
		return nil
	}
	return &Clarification{
		Intent:        c.Intent,
		MissingFields: slices.Clone(c.MissingFields),
		Entities:      maps.Clone(c.Entities),
	}
}

// Context is the conversation state of one user.
type Context struct {
	UserID        string         `json:"user_id"`
	Turns         []Turn         `json:"turns"`
	LastEntityRef string         `json:"last_entity_ref,omitempty"`
	Pending       *Clarification `json:"pending_clarification,omitempty"`
}

// Clone returns a deep copy that shares nothing with the receiver.
func (c Context) Clone() Context {
	out := c
	out.Turns = slices.Clone(c.Turns)
	out.Pending = c.Pending.Clone()
	return out
}

// LastTurn returns the most recent turn, if any.
func (c Context) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}
