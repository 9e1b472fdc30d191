// Package testkit provides an in-memory Task Store API for exercising the pipeline over real HTTP.
package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Task is a stored task as the fake serves it.
type Task struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	DueDate  string `json:"due_date,omitempty"`
	Priority string `json:"priority,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
}

// Request is what the fake saw for one call.
type Request struct {
	Method         string
	Path           string
	Query          string
	UserID         string
	IdempotencyKey string
	Body           map[string]any
}

// TaskStore emulates the Task Store REST API with tasks scoped by the X-User-ID header.
//
//nolint:govet // Test helper, logical grouping preferred
type TaskStore struct {
	server   *httptest.Server
	mu       sync.Mutex
	tasks    map[string]map[int]*Task
	nextID   int
	failures []int
	requests []Request
}

// NewTaskStore starts the fake. Callers must Close it.
func NewTaskStore() *TaskStore {
	s := &TaskStore{tasks: make(map[string]map[int]*Task), nextID: 1}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post("/tasks", s.create)
	r.Get("/tasks", s.list)
	r.Put("/tasks/{id}", s.update)
	r.Put("/tasks/{id}/complete", s.complete)
	r.Delete("/tasks/{id}", s.remove)

	s.server = httptest.NewServer(r)
	return s
}

// URL is the base URL to hand to the HTTP transport.
func (s *TaskStore) URL() string {
	return s.server.URL
}

// Close stops the server.
func (s *TaskStore) Close() {
	s.server.Close()
}

// FailNext makes the next len(codes) requests fail with the given status codes.
func (s *TaskStore) FailNext(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, codes...)
}

// Requests returns every request received so far, including failed ones.
func (s *TaskStore) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Seed stores tasks for userID, assigning ids, and returns them.
func (s *TaskStore) Seed(userID string, tasks ...Task) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(tasks))
	for i := range tasks {
		t := tasks[i]
		if t.Status == "" {
			t.Status = "pending"
		}
		out = append(out, *s.insert(userID, &t))
	}
	return out
}

// Tasks returns userID's tasks ordered by id.
func (s *TaskStore) Tasks(userID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks[userID]))
	for _, t := range s.tasks[userID] {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// insert must be called with s.mu held.
func (s *TaskStore) insert(userID string, t *Task) *Task {
	if s.tasks[userID] == nil {
		s.tasks[userID] = make(map[int]*Task)
	}
	t.ID = s.nextID
	s.nextID++
	s.tasks[userID][t.ID] = t
	return t
}

// record logs the request, rejects anonymous callers and injects scripted failures.
func (s *TaskStore) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:         r.Method,
			Path:           r.URL.Path,
			Query:          r.URL.RawQuery,
			UserID:         r.Header.Get("X-User-ID"),
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		}
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&req.Body)
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		failure := 0
		if len(s.failures) > 0 {
			failure, s.failures = s.failures[0], s.failures[1:]
		}
		s.mu.Unlock()

		switch {
		case failure != 0:
			http.Error(w, http.StatusText(failure), failure)
		case req.UserID == "":
			http.Error(w, "missing user", http.StatusUnauthorized)
		default:
			next.ServeHTTP(w, r.WithContext(withRequest(r.Context(), req)))
		}
	})
}

func (s *TaskStore) create(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r.Context())
	title, _ := req.Body["title"].(string)
	if strings.TrimSpace(title) == "" {
		http.Error(w, "title is required", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	t := &Task{Status: "pending"}
	applyFields(t, req.Body)
	created := *s.insert(req.UserID, t)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, created)
}

func (s *TaskStore) list(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r.Context())
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))

	out := make([]Task, 0)
	for _, t := range s.Tasks(req.UserID) {
		if v := q.Get("status"); v != "" && t.Status != v {
			continue
		}
		if v := q.Get("priority"); v != "" && t.Priority != v {
			continue
		}
		if v := q.Get("category"); v != "" && t.Category != v {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title), search) {
			continue
		}
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *TaskStore) update(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, http.StatusOK, func(t *Task, body map[string]any) { applyFields(t, body) })
}

func (s *TaskStore) complete(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, http.StatusOK, func(t *Task, _ map[string]any) { t.Status = "completed" })
}

func (s *TaskStore) remove(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, http.StatusNoContent, nil)
}

// mutate applies fn to the addressed task; a nil fn deletes it.
func (s *TaskStore) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(*Task, map[string]any)) {
	req := requestFrom(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	t, ok := s.tasks[req.UserID][id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if fn == nil {
		delete(s.tasks[req.UserID], id)
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	fn(t, req.Body)
	updated := *t
	s.mu.Unlock()

	writeJSON(w, status, updated)
}

func applyFields(t *Task, body map[string]any) {
	if v, ok := body["title"].(string); ok {
		t.Title = v
	}
	if v, ok := body["due_date"].(string); ok {
		t.DueDate = v
	}
	if v, ok := body["priority"].(string); ok {
		t.Priority = v
	}
	if v, ok := body["category"].(string); ok {
		t.Category = v
	}
	if v, ok := body["status"].(string); ok {
		t.Status = v
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
