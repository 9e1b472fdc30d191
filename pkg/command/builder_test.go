package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/convo"
	"taskpilot/pkg/intent"
)

func newTestBuilder() *Builder {
	return &Builder{newKey: func() string { return "key-1" }}
}

func classify(text string) intent.Classified {
	return intent.NewRuleClassifier(0).Classify(context.Background(), text, convo.Context{})
}

func TestBuildCreateFromScenario(t *testing.T) {
	cmd, clar, err := newTestBuilder().Build(classify("Add a task to buy groceries tomorrow"), convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)

	assert.Equal(t, OpCreateTask, cmd.Operation)
	assert.Equal(t, MethodPost, cmd.Method)
	assert.Equal(t, "tasks", cmd.Target)
	assert.Equal(t, map[string]any{KeyTitle: "buy groceries", KeyDueDate: "tomorrow"}, cmd.Payload)
	assert.Equal(t, "key-1", cmd.IdempotencyKey)
}

func TestBuildCreateTitles(t *testing.T) {
	tests := []struct {
		text    string
		payload map[string]any
	}{
		{"remind me to call mom on friday", map[string]any{KeyTitle: "call mom", KeyDueDate: "friday"}},
		{"add pay rent for work", map[string]any{KeyTitle: "pay rent", KeyCategory: "work"}},
		{"create an urgent task to file taxes", map[string]any{KeyTitle: "file taxes", KeyPriority: "high"}},
		{"add a high priority task to fix the sink by monday", map[string]any{KeyTitle: "fix the sink", KeyPriority: "high", KeyDueDate: "monday"}},
		{"new task: water plants", map[string]any{KeyTitle: "water plants"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, clar, err := newTestBuilder().Build(classify(tt.text), convo.Context{})
			require.NoError(t, err)
			require.Nil(t, clar)
			assert.Equal(t, tt.payload, cmd.Payload)
		})
	}
}

func TestBuildCreateWithoutTitleAsks(t *testing.T) {
	_, clar, err := newTestBuilder().Build(classify("add a task tomorrow"), convo.Context{})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, "ADD_TODO", clar.Intent)
	assert.Equal(t, []string{FieldTitle}, clar.MissingFields)
	assert.Equal(t, "tomorrow", clar.Entities["date"])
}

func TestBuildTargetResolution(t *testing.T) {
	b := newTestBuilder()

	// Scenario B: no number and no last reference never guesses an id.
	cmd, clar, err := b.Build(classify("Mark it as done"), convo.Context{})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, "COMPLETE_TODO", clar.Intent)
	assert.Equal(t, []string{FieldTargetID}, clar.MissingFields)
	assert.Empty(t, cmd.Target)

	cmd, clar, err = b.Build(classify("Mark it as done"), convo.Context{LastEntityRef: "42"})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, OpCompleteTask, cmd.Operation)
	assert.Equal(t, MethodPut, cmd.Method)
	assert.Equal(t, "tasks/42/complete", cmd.Target)
	assert.Equal(t, "42", cmd.TargetID)

	// An explicit number wins over the last reference.
	cmd, _, err = b.Build(classify("delete task 3"), convo.Context{LastEntityRef: "42"})
	require.NoError(t, err)
	assert.Equal(t, OpDeleteTask, cmd.Operation)
	assert.Equal(t, MethodDelete, cmd.Method)
	assert.Equal(t, "tasks/3", cmd.Target)
}

func TestBuildModify(t *testing.T) {
	b := newTestBuilder()

	cmd, clar, err := b.Build(classify("make task 2 urgent priority"), convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, OpUpdateTask, cmd.Operation)
	assert.Equal(t, "tasks/2", cmd.Target)
	assert.Equal(t, map[string]any{KeyPriority: "high"}, cmd.Payload)

	cmd, clar, err = b.Build(classify("rename task 5 to buy oat milk"), convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, map[string]any{KeyTitle: "buy oat milk"}, cmd.Payload)

	_, clar, err = b.Build(classify("change task 4"), convo.Context{})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, []string{FieldUpdateFields}, clar.MissingFields)

	_, clar, err = b.Build(classify("update it"), convo.Context{})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, []string{FieldTargetID, FieldUpdateFields}, clar.MissingFields)
}

func TestBuildDropsUnrecognizedValues(t *testing.T) {
	cmd, clar, err := newTestBuilder().Build(classify("change task 4 priority to banana due tomorrow"), convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, map[string]any{KeyDueDate: "tomorrow"}, cmd.Payload)
}

func TestBuildListAndSearch(t *testing.T) {
	b := newTestBuilder()

	cmd, _, err := b.Build(classify("show my completed tasks"), convo.Context{})
	require.NoError(t, err)
	assert.Equal(t, OpListTasks, cmd.Operation)
	assert.Equal(t, MethodGet, cmd.Method)
	assert.Equal(t, map[string]string{KeyStatus: "completed"}, cmd.Query)
	assert.Empty(t, cmd.IdempotencyKey)

	cmd, _, err = b.Build(classify("find tasks about milk"), convo.Context{})
	require.NoError(t, err)
	assert.Equal(t, OpSearchTasks, cmd.Operation)
	assert.Equal(t, map[string]string{KeySearch: "milk"}, cmd.Query)

	_, clar, err := b.Build(classify("search"), convo.Context{})
	require.NoError(t, err)
	require.NotNil(t, clar)
	assert.Equal(t, []string{FieldQuery}, clar.MissingFields)
}

func TestBuildNotDispatchable(t *testing.T) {
	for _, text := range []string{"help", "the weather is nice"} {
		_, clar, err := newTestBuilder().Build(classify(text), convo.Context{})
		require.ErrorIs(t, err, ErrNotDispatchable)
		assert.Nil(t, clar)
	}
}

func TestResolveFillsTarget(t *testing.T) {
	pending := &convo.Clarification{Intent: "COMPLETE_TODO", MissingFields: []string{FieldTargetID}}

	merged, ok := Resolve(pending, classify("3"), 0.3)
	require.True(t, ok)
	assert.Equal(t, intent.CompleteTodo, merged.Intent)

	cmd, clar, err := newTestBuilder().Build(merged, convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, "tasks/3/complete", cmd.Target)
}

func TestResolveFillsTitleAndKeepsEntities(t *testing.T) {
	pending := &convo.Clarification{
		Intent:        "ADD_TODO",
		MissingFields: []string{FieldTitle},
		Entities:      map[string]string{"date": "tomorrow"},
	}
	merged, ok := Resolve(pending, classify("buy milk"), 0.3)
	require.True(t, ok)

	cmd, clar, err := newTestBuilder().Build(merged, convo.Context{})
	require.NoError(t, err)
	require.Nil(t, clar)
	assert.Equal(t, map[string]any{KeyTitle: "buy milk", KeyDueDate: "tomorrow"}, cmd.Payload)
}

func TestResolveFillsQuery(t *testing.T) {
	pending := &convo.Clarification{Intent: "SEARCH_TODOS", MissingFields: []string{FieldQuery}}
	merged, ok := Resolve(pending, classify("dentist"), 0.3)
	require.True(t, ok)
	assert.Equal(t, "dentist", merged.Entities[intent.EntityQuery])
}

func TestResolveAbandonsOnNewIntent(t *testing.T) {
	pending := &convo.Clarification{Intent: "COMPLETE_TODO", MissingFields: []string{FieldTargetID}}
	got, ok := Resolve(pending, classify("show my tasks"), 0.3)
	assert.False(t, ok)
	assert.Equal(t, intent.ListTodos, got.Intent)

	_, ok = Resolve(nil, classify("3"), 0.3)
	assert.False(t, ok)
}

func TestSynonyms(t *testing.T) {
	p, ok := NormalizePriority("URGENT")
	assert.True(t, ok)
	assert.Equal(t, "high", p)

	_, ok = NormalizePriority("banana")
	assert.False(t, ok)

	c, ok := NormalizeCategory("groceries")
	assert.True(t, ok)
	assert.Equal(t, "shopping", c)

	s, ok := NormalizeStatus("unfinished")
	assert.True(t, ok)
	assert.Equal(t, "pending", s)
}
