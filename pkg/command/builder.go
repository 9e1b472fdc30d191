package command

import (
	"maps"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"taskpilot/pkg/convo"
	"taskpilot/pkg/intent"
)

//nolint:gochecknoglobals // Compiled once, read-only
var (
	titlePrefixes = []*regexp.Regexp{
		regexp.MustCompile(`^(?:please\s+)?(?:(?:can|could|would) you\s+)?(?:please\s+)?`),
		regexp.MustCompile(`^(?:add|create|make|new)\b\s*(?:(?:a|an|another)\s+)?(?:new\s+)?(?:(?:task|todo|to-do|reminder|item)\b\s*)?(?:(?:to|called|named|titled|for)\b\s*|:\s*)?`),
		regexp.MustCompile(`^remind me to\s+`),
		regexp.MustCompile(`^i (?:need|have) to\s+`),
	}
	danglingWords = regexp.MustCompile(`(?:^|\s+)(?:on|by|due|for|in|at|to|and|with|the|a)$`)
	spaceRE       = regexp.MustCompile(`\s+`)
	renameRE      = regexp.MustCompile(`\b(?:rename|retitle)\b.*?\bto\s+(.+)$`)
	digitsRE      = regexp.MustCompile(`^\d+$`)
)

// Builder turns classifications into commands. It is stateless apart from the key generator
// and safe for concurrent use.
type Builder struct {
	newKey func() string
}

// NewBuilder creates a builder issuing uuid idempotency keys.
func NewBuilder() *Builder {
	return &Builder{newKey: uuid.NewString}
}

// Build maps c onto a command. Missing required fields yield a clarification instead of a
// command; HELP and UNKNOWN yield ErrNotDispatchable.
func (b *Builder) Build(c intent.Classified, conv convo.Context) (Command, *convo.Clarification, error) {
	var (
		cmd     Command
		missing []string
	)

	switch c.Intent {
	case intent.AddTodo:
		payload := entityFields(c.Entities)
		title := deriveTitle(c)
		if title == "" {
			missing = append(missing, FieldTitle)
		} else {
			payload[KeyTitle] = title
		}
		cmd = Command{Operation: OpCreateTask, Method: MethodPost, Target: "tasks", Payload: payload}

	case intent.ListTodos:
		cmd = Command{Operation: OpListTasks, Method: MethodGet, Target: "tasks", Query: listFilters(c.Entities)}

	case intent.SearchTodos:
		query := strings.TrimSpace(c.Entities[intent.EntityQuery])
		if query == "" {
			missing = append(missing, FieldQuery)
		}
		cmd = Command{Operation: OpSearchTasks, Method: MethodGet, Target: "tasks", Query: map[string]string{KeySearch: query}}

	case intent.CompleteTodo, intent.DeleteTodo, intent.ModifyTodo:
		id := targetID(c.Entities, conv)
		if id == "" {
			missing = append(missing, FieldTargetID)
		}
		switch c.Intent {
		case intent.CompleteTodo:
			cmd = Command{Operation: OpCompleteTask, Method: MethodPut, Target: "tasks/" + id + "/complete"}
		case intent.DeleteTodo:
			cmd = Command{Operation: OpDeleteTask, Method: MethodDelete, Target: "tasks/" + id}
		default:
			payload := entityFields(c.Entities)
			if m := renameRE.FindStringSubmatch(c.Text); m != nil {
				if title := cleanTitle(m[1]); title != "" {
					payload[KeyTitle] = title
				}
			}
			if len(payload) == 0 {
				missing = append(missing, FieldUpdateFields)
			}
			cmd = Command{Operation: OpUpdateTask, Method: MethodPut, Target: "tasks/" + id, Payload: payload}
		}
		cmd.TargetID = id

	default:
		return Command{}, nil, ErrNotDispatchable
	}

	if len(missing) > 0 {
		return Command{}, &convo.Clarification{
			Intent:        string(c.Intent),
			MissingFields: missing,
			Entities:      pendingEntities(c.Entities),
		}, nil
	}

	if cmd.Mutates() {
		cmd.IdempotencyKey = b.newKey()
	}
	return cmd, nil, nil
}

// Resolve merges a follow-up classification into a pending clarification. It reports false when
// c carries its own confident intent, in which case the pending clarification is abandoned.
func Resolve(pending *convo.Clarification, c intent.Classified, minConfidence float64) (intent.Classified, bool) {
	if pending == nil || !intent.Valid(pending.Intent) {
		return c, false
	}
	pendingIntent := intent.Intent(pending.Intent)
	if c.Intent != intent.Unknown && c.Intent != pendingIntent && c.Confidence > minConfidence {
		return c, false
	}

	merged := c.Clone()
	merged.Intent = pendingIntent
	merged.Entities = make(map[intent.EntityType]string, len(pending.Entities)+len(c.Entities))
	for k, v := range pending.Entities {
		merged.Entities[intent.EntityType(k)] = v
	}
	maps.Copy(merged.Entities, c.Entities)

	for _, field := range pending.MissingFields {
		if field == FieldQuery && merged.Entities[intent.EntityQuery] == "" && c.Text != "" {
			merged.Entities[intent.EntityQuery] = c.Text
		}
	}
	return merged, true
}

func targetID(entities map[intent.EntityType]string, conv convo.Context) string {
	if n := entities[intent.EntityNumber]; digitsRE.MatchString(n) {
		return n
	}
	return conv.LastEntityRef
}

// entityFields copies the normalized task fields present in entities. Unrecognized priority and
// category values are dropped.
func entityFields(entities map[intent.EntityType]string) map[string]any {
	out := make(map[string]any)
	if d := entities[intent.EntityDate]; d != "" {
		out[KeyDueDate] = d
	}
	if p, ok := NormalizePriority(entities[intent.EntityPriority]); ok {
		out[KeyPriority] = p
	}
	if c, ok := NormalizeCategory(entities[intent.EntityCategory]); ok {
		out[KeyCategory] = c
	}
	return out
}

func listFilters(entities map[intent.EntityType]string) map[string]string {
	out := make(map[string]string)
	if s, ok := NormalizeStatus(entities[intent.EntityStatus]); ok {
		out[KeyStatus] = s
	}
	if p, ok := NormalizePriority(entities[intent.EntityPriority]); ok {
		out[KeyPriority] = p
	}
	if c, ok := NormalizeCategory(entities[intent.EntityCategory]); ok {
		out[KeyCategory] = c
	}
	return out
}

func pendingEntities(entities map[intent.EntityType]string) map[string]string {
	if len(entities) == 0 {
		return nil
	}
	out := make(map[string]string, len(entities))
	for k, v := range entities {
		out[string(k)] = v
	}
	return out
}

// deriveTitle strips every extracted entity fragment and then the create phrasing from the text.
func deriveTitle(c intent.Classified) string {
	title := c.Text
	for _, et := range []intent.EntityType{intent.EntityDate, intent.EntityPriority, intent.EntityCategory} {
		if span := c.Spans[et]; span != "" {
			title = strings.Replace(title, span, " ", 1)
		}
	}
	title = strings.TrimSpace(spaceRE.ReplaceAllString(title, " "))
	for _, p := range titlePrefixes {
		title = p.ReplaceAllString(title, "")
	}
	return cleanTitle(title)
}

func cleanTitle(title string) string {
	title = strings.Trim(spaceRE.ReplaceAllString(title, " "), ` "'.,!?:;-`)
	for {
		trimmed := strings.TrimSpace(danglingWords.ReplaceAllString(title, ""))
		if trimmed == title {
			return title
		}
		title = trimmed
	}
}
