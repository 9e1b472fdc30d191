// Package synth turns downstream results and clarifications into user-facing replies.
// Replies are markdown with emoji; the platform adapter strips what a surface cannot show.
package synth

import (
	"fmt"
	"net/http"
	"strings"

	"taskpilot/pkg/command"
	"taskpilot/pkg/convo"
	"taskpilot/pkg/intent"
	"taskpilot/pkg/taskapi"
)

// Canned failure replies. Downstream error text is never shown to the user.
const (
	MsgNotFound     = "😕 I couldn't find that task. Check the task number and try again."
	MsgUnauthorized = "🔒 I don't have permission to do that for your account."
	MsgTryLater     = "⚠️ Something went wrong on our side. Please try again later."
	MsgDegraded     = "🚧 The task service is temporarily unavailable, so I couldn't do that right now. Please try again in a few minutes."
	MsgCanceled     = "The request was cancelled before it finished."
	MsgRefused      = "I couldn't complete that request. Please check the details and try again."
	MsgUnknown      = "🤔 Sorry, I didn't understand that. Try \"add a task to call mom tomorrow\", \"show my tasks\" or say \"help\"."
	MsgHelp         = "👋 **Here's what I can do:**\n" +
		"- Add a task: \"add a task to buy groceries tomorrow\"\n" +
		"- List tasks: \"show my tasks\" or \"show my completed tasks\"\n" +
		"- Complete a task: \"mark task 3 as done\"\n" +
		"- Delete a task: \"delete task 3\"\n" +
		"- Change a task: \"make task 2 high priority\"\n" +
		"- Search: \"find tasks about milk\""
)

// Outcome is what happened to one message. At most one of Result and Clarification is set;
// neither means the intent was not dispatchable.
type Outcome struct {
	Result        *taskapi.Result
	Clarification *convo.Clarification
	Command       *command.Command
}

// Synthesize selects a template by intent and outcome kind and fills it in. It performs no I/O.
func Synthesize(out Outcome, in intent.Intent, conv convo.Context) string {
	switch {
	case out.Clarification != nil:
		return clarify(out.Clarification, conv)
	case out.Result == nil:
		if in == intent.Help {
			return MsgHelp
		}
		return MsgUnknown
	case !out.Result.Success:
		return failure(out.Result)
	default:
		return success(out.Result, out.Command, in)
	}
}

func clarify(c *convo.Clarification, conv convo.Context) string {
	if len(c.MissingFields) == 0 {
		return MsgUnknown
	}
	switch c.MissingFields[0] {
	case command.FieldTargetID:
		switch intent.Intent(c.Intent) {
		case intent.CompleteTodo:
			return "Which task did you finish? Please tell me the task number."
		case intent.DeleteTodo:
			return "Which task should I delete? Please tell me the task number."
		default:
			return "Which task do you mean? Please tell me the task number."
		}
	case command.FieldTitle:
		return "What should the new task say?"
	case command.FieldUpdateFields:
		ref := "that task"
		if conv.LastEntityRef != "" {
			ref = "task #" + conv.LastEntityRef
		}
		return fmt.Sprintf("What would you like to change about %s? You can set a priority, a due date or a category.", ref)
	case command.FieldQuery:
		return "What should I search for?"
	default:
		return "Could you give me a bit more detail?"
	}
}

// failure is keyed by status class, with circuit-open distinguished from a real downstream error.
func failure(r *taskapi.Result) string {
	switch {
	case r.Kind == taskapi.KindCircuitOpen:
		return MsgDegraded
	case r.Kind == taskapi.KindCanceled:
		return MsgCanceled
	case r.StatusCode == http.StatusNotFound:
		return MsgNotFound
	case r.StatusCode == http.StatusUnauthorized, r.StatusCode == http.StatusForbidden:
		return MsgUnauthorized
	case r.StatusCode >= 500, r.Kind == taskapi.KindTransient:
		return MsgTryLater
	default:
		return MsgRefused
	}
}

func success(r *taskapi.Result, cmd *command.Command, in intent.Intent) string {
	id := targetOf(r, cmd)
	switch in {
	case intent.AddTodo:
		t := taskFrom(r.Body)
		if t.Title == "" && cmd != nil {
			t.Title, _ = cmd.Payload[command.KeyTitle].(string)
			t.DueDate, _ = cmd.Payload[command.KeyDueDate].(string)
			t.Priority, _ = cmd.Payload[command.KeyPriority].(string)
		}
		var b strings.Builder
		b.WriteString("✅ Added ")
		if t.ID != "" {
			fmt.Fprintf(&b, "task #%s: ", t.ID)
		}
		fmt.Fprintf(&b, "**%s**", t.Title)
		if details := t.details(); details != "" {
			b.WriteString(" " + details)
		}
		return b.String()

	case intent.ListTodos:
		tasks := tasksFrom(r.Body)
		if len(tasks) == 0 {
			return "📭 You have no tasks here. Say \"add a task to ...\" to create one."
		}
		return renderList("📋 **Your tasks:**", tasks)

	case intent.SearchTodos:
		query := ""
		if cmd != nil {
			query = cmd.Query[command.KeySearch]
		}
		tasks := tasksFrom(r.Body)
		if len(tasks) == 0 {
			return fmt.Sprintf("🔍 No tasks match \"%s\".", query)
		}
		return renderList(fmt.Sprintf("🔍 **Tasks matching \"%s\":**", query), tasks)

	case intent.CompleteTodo:
		return fmt.Sprintf("🎉 Marked task #%s as done.", id)
	case intent.DeleteTodo:
		return fmt.Sprintf("🗑️ Deleted task #%s.", id)
	case intent.ModifyTodo:
		return fmt.Sprintf("✏️ Updated task #%s.", id)
	default:
		return "✅ Done."
	}
}

func targetOf(r *taskapi.Result, cmd *command.Command) string {
	if cmd != nil && cmd.TargetID != "" {
		return cmd.TargetID
	}
	return taskFrom(r.Body).ID
}

func renderList(header string, tasks []task) string {
	var b strings.Builder
	b.WriteString(header)
	for _, t := range tasks {
		b.WriteString("\n- ")
		if t.Completed {
			b.WriteString("✔️ ")
		}
		if t.ID != "" {
			fmt.Fprintf(&b, "#%s ", t.ID)
		}
		b.WriteString(t.Title)
		if details := t.details(); details != "" {
			b.WriteString(" " + details)
		}
	}
	return b.String()
}
