package testkit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, store *TaskStore, method, path, user, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, store.URL()+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestTaskStoreLifecycle(t *testing.T) {
	store := NewTaskStore()
	t.Cleanup(store.Close)

	resp, body := do(t, store, http.MethodPost, "/tasks", "u1", `{"title":"buy milk","priority":"high"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "pending", body["status"])

	resp, body = do(t, store, http.MethodPut, "/tasks/1/complete", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	resp, _ = do(t, store, http.MethodPut, "/tasks/1", "u1", `{"title":"buy oat milk"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "buy oat milk", store.Tasks("u1")[0].Title)

	resp, _ = do(t, store, http.MethodDelete, "/tasks/1", "u1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, store.Tasks("u1"))

	resp, _ = do(t, store, http.MethodDelete, "/tasks/1", "u1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskStoreScopesByUser(t *testing.T) {
	store := NewTaskStore()
	t.Cleanup(store.Close)
	seeded := store.Seed("u1", Task{Title: "call mom"})

	resp, _ := do(t, store, http.MethodPut, "/tasks/"+strconv.Itoa(seeded[0].ID)+"/complete", "u2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, store, http.MethodGet, "/tasks", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTaskStoreListFilters(t *testing.T) {
	store := NewTaskStore()
	t.Cleanup(store.Close)
	store.Seed("u1",
		Task{Title: "buy milk", Priority: "high"},
		Task{Title: "call mom", Status: "completed"},
		Task{Title: "Milk the cow"},
	)

	_, body := do(t, store, http.MethodGet, "/tasks?search=milk", "u1", "")
	assert.Len(t, body["tasks"], 2)

	_, body = do(t, store, http.MethodGet, "/tasks?status=completed", "u1", "")
	assert.Len(t, body["tasks"], 1)

	_, body = do(t, store, http.MethodGet, "/tasks?priority=high", "u1", "")
	assert.Len(t, body["tasks"], 1)
}

func TestTaskStoreScriptedFailures(t *testing.T) {
	store := NewTaskStore()
	t.Cleanup(store.Close)
	store.FailNext(http.StatusServiceUnavailable)

	resp, _ := do(t, store, http.MethodGet, "/tasks", "u1", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, store, http.MethodGet, "/tasks", "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	requests := store.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "u1", requests[0].UserID)
	assert.Equal(t, "/tasks", requests[1].Path)
}

func TestTaskStoreRequiresTitle(t *testing.T) {
	store := NewTaskStore()
	t.Cleanup(store.Close)

	resp, _ := do(t, store, http.MethodPost, "/tasks", "u1", `{"due_date":"friday"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
