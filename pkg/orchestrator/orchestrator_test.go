package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/command"
	"taskpilot/pkg/convo"
	"taskpilot/pkg/intent"
	"taskpilot/pkg/persistence"
	"taskpilot/pkg/platform"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/resilience/retry"
	"taskpilot/pkg/synth"
	"taskpilot/pkg/taskapi"
)

type harness struct {
	orch     *Orchestrator
	store    *convo.Store
	breakers *circuit.Registry

	mu       sync.Mutex
	commands []command.Command
}

func (h *harness) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands)
}

func (h *harness) last() command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commands[len(h.commands)-1]
}

type harnessSettings struct {
	timeout time.Duration
	breaker circuit.Config
	deps    Deps
	opts    Options
}

type harnessOption func(*harnessSettings)

func newHarness(t *testing.T, transport taskapi.TransportFunc, threshold, retries int, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{store: convo.NewStore(convo.DefaultWindow, nil)}
	settings := &harnessSettings{
		timeout: 20 * time.Millisecond,
		breaker: circuit.Config{FailureThreshold: threshold, Cooldown: time.Minute},
		deps: Deps{
			Classifier: intent.NewRuleClassifier(intent.DefaultConfidenceScale),
			Builder:    command.NewBuilder(),
			Store:      h.store,
			Adapter:    platform.NewAdapter(nil),
		},
		opts: Options{MinConfidence: 0.3},
	}
	for _, opt := range opts {
		opt(settings)
	}
	h.breakers = circuit.NewRegistry(settings.breaker)
	settings.deps.Breakers = h.breakers

	recording := taskapi.TransportFunc(func(ctx context.Context, cmd command.Command) (taskapi.Response, error) {
		h.mu.Lock()
		h.commands = append(h.commands, cmd)
		h.mu.Unlock()
		return transport(ctx, cmd)
	})
	settings.deps.Client = taskapi.NewClient(recording, h.breakers, taskapi.Options{
		Timeout: settings.timeout,
		Retry:   retry.Config{MaxRetries: retries, BaseDelay: time.Millisecond},
		Wait:    func(context.Context, time.Duration) error { return nil },
	})
	h.orch = New(settings.deps, settings.opts)
	return h
}

func ok(body map[string]any) taskapi.TransportFunc {
	return func(context.Context, command.Command) (taskapi.Response, error) {
		return taskapi.Response{StatusCode: http.StatusOK, Body: body}, nil
	}
}

var fullTrace = []State{
	StateReceived, StateContextLoaded, StateClassified, StateCommandBuilt,
	StateDispatched, StateSynthesized, StateContextSaved, StateDone,
}

func TestScenarioAddTask(t *testing.T) {
	h := newHarness(t, func(_ context.Context, cmd command.Command) (taskapi.Response, error) {
		return taskapi.Response{StatusCode: http.StatusCreated, Body: map[string]any{
			"id": float64(17), "title": cmd.Payload["title"], "due_date": cmd.Payload["due_date"],
		}}, nil
	}, 5, 3)

	res := h.orch.Handle(context.Background(), "u1", "Add a task to buy groceries tomorrow", "web")
	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, "ADD_TODO", res.Intent)
	assert.Equal(t, fullTrace, res.Trace)
	assert.Equal(t, "✅ Added task #17: **buy groceries** (due tomorrow)", res.Response)

	require.Equal(t, 1, h.calls())
	cmd := h.last()
	assert.Equal(t, command.OpCreateTask, cmd.Operation)
	assert.Equal(t, command.MethodPost, cmd.Method)
	assert.Equal(t, map[string]any{"title": "buy groceries", "due_date": "tomorrow"}, cmd.Payload)
	assert.NotEmpty(t, cmd.IdempotencyKey)

	conv := h.store.Get("u1")
	assert.Equal(t, "17", conv.LastEntityRef)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, convo.RoleUser, conv.Turns[0].Role)
	assert.Equal(t, convo.RoleAssistant, conv.Turns[1].Role)
}

func TestScenarioClarificationThenFollowUp(t *testing.T) {
	h := newHarness(t, ok(map[string]any{}), 5, 3)

	res := h.orch.Handle(context.Background(), "u1", "Mark it as done", "")
	require.True(t, res.Success)
	assert.Contains(t, res.Response, "task number")
	assert.Contains(t, res.Trace, StateClarifying)
	assert.NotContains(t, res.Trace, StateDispatched)
	assert.Zero(t, h.calls(), "clarification never reaches the Task API")

	pending := h.store.Get("u1").Pending
	require.NotNil(t, pending)
	assert.Equal(t, "COMPLETE_TODO", pending.Intent)
	assert.Equal(t, []string{command.FieldTargetID}, pending.MissingFields)

	res = h.orch.Handle(context.Background(), "u1", "3", "")
	require.True(t, res.Success)
	assert.Equal(t, "COMPLETE_TODO", res.Intent)
	assert.Equal(t, "Marked task #3 as done.", res.Response)
	require.Equal(t, 1, h.calls())
	assert.Equal(t, "tasks/3/complete", h.last().Target)

	conv := h.store.Get("u1")
	assert.Nil(t, conv.Pending)
	assert.Equal(t, "3", conv.LastEntityRef)
	assert.Len(t, conv.Turns, 4)

	// The remembered reference now resolves "it".
	res = h.orch.Handle(context.Background(), "u1", "delete it", "")
	require.True(t, res.Success)
	assert.Equal(t, "tasks/3", h.last().Target)
	assert.Empty(t, h.store.Get("u1").LastEntityRef)
}

func TestNewIntentAbandonsPendingClarification(t *testing.T) {
	h := newHarness(t, ok(map[string]any{"tasks": []any{}}), 5, 3)

	h.orch.Handle(context.Background(), "u1", "delete it", "")
	require.NotNil(t, h.store.Get("u1").Pending)

	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	assert.Equal(t, "LIST_TODOS", res.Intent)
	assert.Nil(t, h.store.Get("u1").Pending)
	assert.Equal(t, command.OpListTasks, h.last().Operation)
}

func TestScenarioCircuitOpensAndFastFails(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, _ command.Command) (taskapi.Response, error) {
		<-ctx.Done()
		return taskapi.Response{}, ctx.Err()
	}, 3, 0)

	for i := 0; i < 3; i++ {
		res := h.orch.Handle(context.Background(), "u1", "show my tasks", "web")
		require.True(t, res.Success, "a downstream failure is still a successful orchestration")
		assert.Equal(t, string(taskapi.KindTransient), res.Error)
		assert.Equal(t, synth.MsgTryLater, res.Response)
	}
	assert.Equal(t, circuit.Open, h.orch.Status().Dependencies[taskapi.DefaultDependency].State)

	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "web")
	require.True(t, res.Success)
	assert.Equal(t, "circuit_open", res.Error)
	assert.Equal(t, synth.MsgDegraded, res.Response)
	assert.NotContains(t, res.Trace, StateDispatched)
	assert.Equal(t, 3, h.calls(), "no network attempt while the circuit is open")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails with 503 while down is set.
type flakyStore struct {
	down atomic.Bool
}

func (f *flakyStore) transport(context.Context, command.Command) (taskapi.Response, error) {
	if f.down.Load() {
		return taskapi.Response{}, &taskapi.Error{Kind: taskapi.KindTransient, StatusCode: http.StatusServiceUnavailable, Message: "Service Unavailable"}
	}
	return taskapi.Response{StatusCode: http.StatusOK, Body: map[string]any{"tasks": []any{}}}, nil
}

// openCircuit trips a threshold-1 breaker with one failed call and lets the cooldown elapse.
func openCircuit(t *testing.T, h *harness, store *flakyStore, clock *fakeClock) {
	t.Helper()
	store.down.Store(true)
	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	require.Equal(t, string(taskapi.KindTransient), res.Error)
	require.Equal(t, circuit.Open, h.orch.Status().Dependencies[taskapi.DefaultDependency].State)

	res = h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	require.Equal(t, string(taskapi.KindCircuitOpen), res.Error)
	require.Equal(t, 1, h.calls())

	clock.Advance(time.Minute)
}

func withClock(clock *fakeClock) harnessOption {
	return func(s *harnessSettings) {
		s.breaker.Now = clock.Now
		s.timeout = 5 * time.Second
	}
}

func TestHalfOpenTrialSuccessClosesCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	store := &flakyStore{}
	h := newHarness(t, store.transport, 1, 0, withClock(clock))
	openCircuit(t, h, store, clock)

	store.down.Store(false)
	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	assert.Empty(t, res.Error)
	assert.Contains(t, res.Trace, StateDispatched)
	assert.Equal(t, 2, h.calls())

	snap := h.orch.Status().Dependencies[taskapi.DefaultDependency]
	assert.Equal(t, circuit.Closed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestHalfOpenTrialFailureReopensCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	store := &flakyStore{}
	h := newHarness(t, store.transport, 1, 0, withClock(clock))
	openCircuit(t, h, store, clock)

	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	assert.Equal(t, string(taskapi.KindTransient), res.Error)
	assert.Equal(t, 2, h.calls())
	assert.Equal(t, circuit.Open, h.orch.Status().Dependencies[taskapi.DefaultDependency].State)

	res = h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	assert.Equal(t, string(taskapi.KindCircuitOpen), res.Error)
	assert.Equal(t, 2, h.calls(), "reopened circuit fast-fails again")
}

func TestCanceledTrialDoesNotStrandCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	store := &flakyStore{}
	entered := make(chan struct{})
	var hang atomic.Bool
	h := newHarness(t, func(ctx context.Context, cmd command.Command) (taskapi.Response, error) {
		if hang.CompareAndSwap(true, false) {
			close(entered)
			<-ctx.Done()
			return taskapi.Response{}, ctx.Err()
		}
		return store.transport(ctx, cmd)
	}, 1, 0, withClock(clock))
	openCircuit(t, h, store, clock)

	// The trial's caller goes away mid-call.
	store.down.Store(false)
	hang.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	res := h.orch.Handle(ctx, "u1", "show my tasks", "")
	assert.Equal(t, string(taskapi.KindCanceled), res.Error)
	snap := h.orch.Status().Dependencies[taskapi.DefaultDependency]
	assert.Equal(t, circuit.HalfOpen, snap.State)
	assert.False(t, snap.TrialInFlight)

	// The next caller becomes the new trial and closes the circuit.
	for i := 0; i < 3; i++ {
		res = h.orch.Handle(context.Background(), "u1", "show my tasks", "")
		assert.Empty(t, res.Error, "call %d", i)
	}
	assert.Equal(t, 5, h.calls())
	assert.Equal(t, circuit.Closed, h.orch.Status().Dependencies[taskapi.DefaultDependency].State)
}

func TestScenarioNotFound(t *testing.T) {
	var attempts atomic.Int32
	h := newHarness(t, func(context.Context, command.Command) (taskapi.Response, error) {
		attempts.Add(1)
		return taskapi.Response{}, &taskapi.Error{Kind: taskapi.KindTerminal, StatusCode: http.StatusNotFound, Message: "Not Found"}
	}, 5, 3)

	res := h.orch.Handle(context.Background(), "u1", "complete task 99", "web")
	require.True(t, res.Success)
	assert.Equal(t, synth.MsgNotFound, res.Response)
	assert.Equal(t, string(taskapi.KindTerminal), res.Error)
	assert.Equal(t, int32(1), attempts.Load(), "404 is never retried")
	assert.Empty(t, h.store.Get("u1").LastEntityRef)
}

func TestHelpAndUnknownSkipDispatch(t *testing.T) {
	h := newHarness(t, ok(map[string]any{}), 5, 3)

	res := h.orch.Handle(context.Background(), "u1", "help", "web")
	assert.Equal(t, synth.MsgHelp, res.Response)
	assert.Equal(t, []State{StateReceived, StateContextLoaded, StateClassified, StateSynthesized, StateContextSaved, StateDone}, res.Trace)

	res = h.orch.Handle(context.Background(), "u1", "the weather is nice", "web")
	assert.Equal(t, synth.MsgUnknown, res.Response)
	assert.Equal(t, "UNKNOWN", res.Intent)
	assert.Contains(t, res.Trace, StateClarifying)
	assert.Zero(t, h.calls())
}

// fixedClassifier always returns the same classification.
type fixedClassifier struct{ c intent.Classified }

func (f fixedClassifier) Classify(context.Context, string, convo.Context) intent.Classified {
	return f.c.Clone()
}

func TestConfidenceMustExceedMinimum(t *testing.T) {
	for _, tc := range []struct {
		confidence float64
		dispatched bool
	}{
		{0.3, false},
		{0.31, true},
	} {
		h := newHarness(t, ok(map[string]any{"tasks": []any{}}), 5, 3, func(s *harnessSettings) {
			s.deps.Classifier = fixedClassifier{intent.Classified{Intent: intent.ListTodos, Confidence: tc.confidence, Source: intent.SourceRules}}
		})
		res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
		if tc.dispatched {
			assert.Equal(t, 1, h.calls(), "confidence %v", tc.confidence)
		} else {
			assert.Zero(t, h.calls(), "confidence %v", tc.confidence)
			assert.Equal(t, synth.MsgUnknown, res.Response)
		}
	}
}

func TestLowConfidenceIsNotDispatched(t *testing.T) {
	h := newHarness(t, ok(map[string]any{}), 5, 3, func(s *harnessSettings) {
		s.opts.MinConfidence = 0.9
	})
	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "web")
	assert.Equal(t, synth.MsgUnknown, res.Response)
	assert.Zero(t, h.calls())
}

type panicClassifier struct{ calls atomic.Int32 }

func (p *panicClassifier) Classify(ctx context.Context, text string, conv convo.Context) intent.Classified {
	if p.calls.Add(1) == 1 {
		panic("classifier bug")
	}
	return intent.NewRuleClassifier(0).Classify(ctx, text, conv)
}

func TestPipelineDefectIsReported(t *testing.T) {
	h := newHarness(t, ok(map[string]any{"tasks": []any{}}), 5, 3, func(s *harnessSettings) {
		s.deps.Classifier = &panicClassifier{}
	})

	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "classifier bug")
	assert.Equal(t, StateError, res.Trace[len(res.Trace)-1])
	assert.NotContains(t, res.Response, "classifier")

	// The user's lane was released.
	done := make(chan Result, 1)
	go func() { done <- h.orch.Handle(context.Background(), "u1", "show my tasks", "") }()
	select {
	case res = <-done:
		assert.True(t, res.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("second request blocked after a defect")
	}
}

func TestSameUserMessagesKeepReceiptOrder(t *testing.T) {
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var first atomic.Bool
	first.Store(true)

	h := newHarness(t, func(context.Context, command.Command) (taskapi.Response, error) {
		if first.CompareAndSwap(true, false) {
			entered <- struct{}{}
			<-unblock
		}
		return taskapi.Response{StatusCode: http.StatusOK, Body: map[string]any{}}, nil
	}, 5, 0, func(s *harnessSettings) {
		s.timeout = 5 * time.Second
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.orch.Handle(context.Background(), "u1", "complete task 1", "")
	}()
	<-entered
	go func() {
		defer wg.Done()
		h.orch.Handle(context.Background(), "u1", "complete task 2", "")
	}()

	// Another user is not held up by u1.
	other := h.orch.Handle(context.Background(), "u2", "help", "")
	assert.True(t, other.Success)

	time.Sleep(20 * time.Millisecond)
	close(unblock)
	wg.Wait()

	turns := h.store.Get("u1").Turns
	require.Len(t, turns, 4)
	assert.Equal(t, "complete task 1", turns[0].Text)
	assert.Equal(t, "🎉 Marked task #1 as done.", turns[1].Text)
	assert.Equal(t, "complete task 2", turns[2].Text)
	assert.Equal(t, "🎉 Marked task #2 as done.", turns[3].Text)
}

func TestQueuedMessageHonorsDeadline(t *testing.T) {
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var first atomic.Bool
	first.Store(true)

	h := newHarness(t, func(context.Context, command.Command) (taskapi.Response, error) {
		if first.CompareAndSwap(true, false) {
			entered <- struct{}{}
			<-unblock
		}
		return taskapi.Response{StatusCode: http.StatusOK, Body: map[string]any{}}, nil
	}, 5, 0, func(s *harnessSettings) {
		s.timeout = 5 * time.Second
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Handle(context.Background(), "u1", "complete task 1", "")
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := h.orch.Handle(ctx, "u1", "complete task 2", "")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Success)
	assert.Equal(t, string(taskapi.KindCanceled), res.Error)
	assert.Equal(t, synth.MsgCanceled, res.Response)
	assert.Equal(t, 1, h.calls(), "abandoned message never reaches the Task API")

	close(unblock)
	<-done

	// The lane is free again and the abandoned message left no turns behind.
	res = h.orch.Handle(context.Background(), "u1", "complete task 3", "")
	assert.Empty(t, res.Error)
	turns := h.store.Get("u1").Turns
	require.Len(t, turns, 4)
	assert.Equal(t, "complete task 1", turns[0].Text)
	assert.Equal(t, "complete task 3", turns[2].Text)
}

func TestOutboundFollowsPlatform(t *testing.T) {
	h := newHarness(t, ok(map[string]any{"tasks": []any{
		map[string]any{"id": float64(1), "title": "buy milk"},
	}}), 5, 3)

	res := h.orch.Handle(context.Background(), "u1", "show my tasks", "sms")
	assert.Equal(t, "Your tasks:\n- #1 buy milk", res.Response)

	res = h.orch.Handle(context.Background(), "u1", "show my tasks", "voice")
	assert.Equal(t, "Your tasks: #1 buy milk.", res.Response)
}

type fakeRecorder struct {
	mu              sync.Mutex
	orchestrations  []string
	classifications []string
}

func (f *fakeRecorder) ObserveCall(string, string, string, time.Duration) {}
func (f *fakeRecorder) IncRetry(string)                                   {}
func (f *fakeRecorder) SetBreakerState(string, circuit.State)             {}

func (f *fakeRecorder) ObserveOrchestration(in, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orchestrations = append(f.orchestrations, in+"/"+outcome)
}

func (f *fakeRecorder) IncClassification(in, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifications = append(f.classifications, in+"/"+source)
}

func TestMetricsAndAudit(t *testing.T) {
	store, err := persistence.Open(persistence.MemoryPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	audit := persistence.NewAuditLog(store)

	recorder := &fakeRecorder{}
	ids := 0
	h := newHarness(t, ok(map[string]any{"tasks": []any{}}), 5, 3, func(s *harnessSettings) {
		s.opts.Recorder = recorder
		s.opts.Audit = audit
		s.opts.NewRequestID = func() string {
			ids++
			return fmt.Sprintf("req-%d", ids)
		}
	})

	h.orch.Handle(context.Background(), "u1", "show my tasks", "web")
	h.orch.Handle(context.Background(), "u1", "mark it as done", "web")
	h.orch.Handle(context.Background(), "u1", "help", "web")

	assert.Equal(t, []string{"LIST_TODOS/success", "COMPLETE_TODO/clarification", "HELP/help"}, recorder.orchestrations)
	assert.Equal(t, []string{"LIST_TODOS/rules", "COMPLETE_TODO/rules", "HELP/rules"}, recorder.classifications)

	counts, err := audit.CountByOutcome(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"success": 1, "clarification": 1, "help": 1}, counts)

	recent, err := audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for _, rec := range recent {
		assert.NotEqual(t, "u1", rec.UserRef)
		assert.Equal(t, "web", rec.Platform)
	}
}

func TestStatusReportsComponents(t *testing.T) {
	h := newHarness(t, ok(map[string]any{"tasks": []any{}}), 5, 3)

	status := h.orch.Status()
	assert.Contains(t, status.Dependencies, taskapi.DefaultDependency)
	assert.Empty(t, status.Components)

	h.orch.Handle(context.Background(), "u1", "show my tasks", "")
	status = h.orch.Status()
	for _, c := range []string{ComponentAdapter, ComponentContext, ComponentClassifier, ComponentBuilder, ComponentTaskAPI, ComponentSynthesizer} {
		assert.False(t, status.Components[c].IsZero(), c)
	}
	assert.Equal(t, circuit.Closed, status.Dependencies[taskapi.DefaultDependency].State)
}

func TestStateMachine(t *testing.T) {
	assert.True(t, IsValidTransition(StateClassified, StateClarifying))
	assert.True(t, IsValidTransition(StateCommandBuilt, StateSynthesized))
	assert.True(t, IsValidTransition(StateDispatched, StateError))
	assert.False(t, IsValidTransition(StateClarifying, StateDispatched))
	assert.False(t, IsValidTransition(StateReceived, StateClassified))
	assert.False(t, IsValidTransition(StateDone, StateError))

	r := newRun()
	require.NoError(t, r.to(StateContextLoaded))
	err := r.to(StateDispatched)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateContextLoaded, r.state)
}
