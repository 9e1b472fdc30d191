// Package orchestrator sequences the message pipeline: platform adaptation, context, classification,
// command building, dispatch, reply synthesis and context persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/pkg/command"
	"taskpilot/pkg/convo"
	"taskpilot/pkg/intent"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/metrics"
	"taskpilot/pkg/persistence"
	"taskpilot/pkg/platform"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/synth"
	"taskpilot/pkg/taskapi"
)

// Outcome labels for orchestration metrics and the audit trail.
const (
	OutcomeDispatched    = "success"
	OutcomeClarification = "clarification"
	OutcomeHelp          = "help"
	OutcomeDefect        = "defect"
)

// Component names reported by Status.
const (
	ComponentAdapter     = "platform_adapter"
	ComponentContext     = "context_store"
	ComponentClassifier  = "intent_classifier"
	ComponentBuilder     = "command_builder"
	ComponentTaskAPI     = "task_api_client"
	ComponentSynthesizer = "response_synthesizer"
)

// defectReply is shown when the pipeline itself failed.
const defectReply = "Sorry, something went wrong while handling your message. Please try again."

// Dispatcher executes commands downstream. *taskapi.Client implements it.
type Dispatcher interface {
	Execute(ctx context.Context, cmd command.Command) taskapi.Result
	Dependency() string
}

// AuditSink receives one record per handled message. *persistence.AuditLog implements it.
type AuditSink interface {
	Record(ctx context.Context, rec persistence.OrchestrationRecord) error
}

// Deps are the pipeline components.
type Deps struct {
	Classifier intent.Classifier
	Builder    *command.Builder
	Store      *convo.Store
	Client     Dispatcher
	Breakers   *circuit.Registry
	Adapter    *platform.Adapter
}

// Options tune the pipeline.
type Options struct {
	MinConfidence   float64
	DefaultPlatform string
	Recorder        metrics.Recorder
	Audit           AuditSink // Optional
	Now             func() time.Time
	NewRequestID    func() string
}

// Result is returned for every message. Success is false only for pipeline defects; a downstream
// failure explained to the user is a successful orchestration.
type Result struct {
	Success   bool    `json:"success"`
	Response  string  `json:"response"`
	Error     string  `json:"error,omitempty"`
	RequestID string  `json:"request_id"`
	Intent    string  `json:"intent,omitempty"`
	Trace     []State `json:"trace"`
}

// SystemStatus is the operational view of the pipeline.
type SystemStatus struct {
	Dependencies map[string]circuit.Snapshot `json:"dependencies"`
	Components   map[string]time.Time        `json:"components"` // Last time each component handled a request
}

// Orchestrator is the only component exposed to callers. It is safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *logx.Logger

	checksMu sync.RWMutex
	checks   map[string]time.Time
}

// New creates an orchestrator. Every field of deps is required.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.NewString
	}
	if opts.DefaultPlatform == "" {
		opts.DefaultPlatform = platform.Baseline
	}

	// Register the dependency so Status reports it before the first call.
	deps.Breakers.Get(deps.Client.Dependency())

	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logx.NewLogger("orchestrator"),
		checks: make(map[string]time.Time),
	}
}

// pass carries the per-request values between steps.
type pass struct {
	userID   string
	platform string
	text     string
	conv     convo.Context

	classified intent.Classified
	cmd        *command.Command
	clar       *convo.Clarification
	result     *taskapi.Result
	reply      string
	outcome    string
}

// Handle processes one message from an authenticated user. Messages from the same user are
// handled one at a time in the order Handle was called. Cancel ctx for an overall deadline.
func (o *Orchestrator) Handle(ctx context.Context, userID, text, platformName string) (res Result) {
	start := o.opts.Now()
	requestID := o.opts.NewRequestID()
	ctx = logx.WithRequestID(ctx, requestID)
	ctx = taskapi.WithUserID(ctx, userID)

	if platformName == "" {
		platformName = o.opts.DefaultPlatform
	}

	r := newRun()
	p := &pass{userID: userID, platform: platformName}

	release, err := o.deps.Store.Acquire(ctx, userID)
	if err != nil {
		// Gave up waiting behind an earlier message from the same user; nothing was dispatched.
		logx.Debug(ctx, "orchestrator", "abandoned %s while queued: %v", requestID, err)
		p.result = &taskapi.Result{Error: string(taskapi.KindCanceled), Kind: taskapi.KindCanceled}
		p.outcome = string(taskapi.KindCanceled)
		res = Result{
			Success:   true,
			Response:  o.deps.Adapter.AdaptOutbound(platformName, synth.MsgCanceled),
			Error:     string(taskapi.KindCanceled),
			RequestID: requestID,
			Trace:     r.trace,
		}
		o.finish(ctx, requestID, p, res, start)
		return res
	}
	defer release()

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("panic handling %s for %s: %v\n%s", requestID, logx.UserRef(userID), rec, debug.Stack())
			res = o.defect(r, requestID, fmt.Errorf("panic: %v", rec))
		}
		o.finish(ctx, requestID, p, res, start)
	}()

	if err := o.process(ctx, r, p, text); err != nil {
		o.logger.Error("pipeline defect in %s: %v", requestID, err)
		return o.defect(r, requestID, err)
	}

	res = Result{
		Success:   true,
		Response:  p.reply,
		RequestID: requestID,
		Intent:    string(p.classified.Intent),
		Trace:     r.trace,
	}
	if p.result != nil && !p.result.Success {
		res.Error = string(p.result.Kind)
	}
	return res
}

func (o *Orchestrator) process(ctx context.Context, r *run, p *pass, raw string) error {
	p.text = o.deps.Adapter.AdaptInbound(p.platform, raw)
	o.touch(ComponentAdapter)

	p.conv = o.deps.Store.Get(p.userID)
	o.touch(ComponentContext)
	if err := r.to(StateContextLoaded); err != nil {
		return err
	}

	p.classified = o.deps.Classifier.Classify(ctx, p.text, p.conv)
	o.touch(ComponentClassifier)
	o.opts.Recorder.IncClassification(string(p.classified.Intent), p.classified.Source)
	if err := r.to(StateClassified); err != nil {
		return err
	}

	resolved := false
	if p.conv.Pending != nil {
		p.classified, resolved = command.Resolve(p.conv.Pending, p.classified, o.opts.MinConfidence)
	}
	logx.Debug(ctx, "orchestrator", "classified %s (confidence %.2f, source %s, resolved=%v)",
		p.classified.Intent, p.classified.Confidence, p.classified.Source, resolved)

	switch {
	case !resolved && p.classified.Intent == intent.Help:
		p.outcome = OutcomeHelp

	case !resolved && (p.classified.Intent == intent.Unknown || p.classified.Confidence <= o.opts.MinConfidence):
		// Too unsure to act; answer with the help-style prompt.
		p.classified.Intent = intent.Unknown
		p.outcome = OutcomeClarification
		if err := r.to(StateClarifying); err != nil {
			return err
		}

	default:
		cmd, clar, err := o.deps.Builder.Build(p.classified, p.conv)
		o.touch(ComponentBuilder)
		switch {
		case errors.Is(err, command.ErrNotDispatchable):
			p.classified.Intent = intent.Unknown
			p.outcome = OutcomeClarification
			if err := r.to(StateClarifying); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("build command: %w", err)
		case clar != nil:
			p.clar = clar
			p.outcome = OutcomeClarification
			if err := r.to(StateClarifying); err != nil {
				return err
			}
		default:
			p.cmd = &cmd
			if err := r.to(StateCommandBuilt); err != nil {
				return err
			}
			if err := o.dispatch(ctx, r, p); err != nil {
				return err
			}
		}
	}

	p.reply = synth.Synthesize(synth.Outcome{Result: p.result, Clarification: p.clar, Command: p.cmd}, p.classified.Intent, p.conv)
	o.touch(ComponentSynthesizer)
	if err := r.to(StateSynthesized); err != nil {
		return err
	}

	o.save(p)
	p.reply = o.deps.Adapter.AdaptOutbound(p.platform, p.reply)
	if err := r.to(StateContextSaved); err != nil {
		return err
	}
	return r.to(StateDone)
}

// dispatch fast-fails from the breaker snapshot and otherwise calls the Task API.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, p *pass) error {
	breaker := o.deps.Breakers.Get(o.deps.Client.Dependency())
	if breaker.FastFail() {
		p.result = &taskapi.Result{Error: string(taskapi.KindCircuitOpen), Kind: taskapi.KindCircuitOpen}
		p.outcome = string(taskapi.KindCircuitOpen)
		logx.Debug(ctx, "orchestrator", "fast-fail: %s circuit is %s", breaker.Name(), breaker.Snapshot().State)
		return nil
	}

	if err := r.to(StateDispatched); err != nil {
		return err
	}
	result := o.deps.Client.Execute(ctx, *p.cmd)
	o.touch(ComponentTaskAPI)
	p.result = &result
	if result.Success {
		p.outcome = OutcomeDispatched
	} else {
		p.outcome = string(result.Kind)
	}
	return nil
}

// save appends both turns and updates pending clarification and last entity reference.
func (o *Orchestrator) save(p *pass) {
	store := o.deps.Store
	now := o.opts.Now()
	store.AppendTurn(p.userID, convo.Turn{Role: convo.RoleUser, Text: p.text, Timestamp: now})

	switch {
	case p.clar != nil:
		store.SetPendingClarification(p.userID, p.clar.Intent, p.clar.MissingFields, p.clar.Entities)
	case p.conv.Pending != nil:
		store.ClearPendingClarification(p.userID)
	}

	if p.cmd != nil && p.result != nil && p.result.Success {
		switch p.cmd.Operation {
		case command.OpCreateTask:
			if id := createdID(p.result.Body); id != "" {
				store.SetLastEntityRef(p.userID, id)
			}
		case command.OpCompleteTask, command.OpUpdateTask:
			store.SetLastEntityRef(p.userID, p.cmd.TargetID)
		case command.OpDeleteTask:
			if p.conv.LastEntityRef == p.cmd.TargetID {
				store.SetLastEntityRef(p.userID, "")
			}
		}
	}

	store.AppendTurn(p.userID, convo.Turn{Role: convo.RoleAssistant, Text: p.reply, Timestamp: now})
	o.touch(ComponentContext)
}

func (o *Orchestrator) defect(r *run, requestID string, err error) Result {
	if !IsTerminalState(r.state) {
		r.state = StateError
		r.trace = append(r.trace, StateError)
	}
	return Result{
		Success:   false,
		Response:  defectReply,
		Error:     err.Error(),
		RequestID: requestID,
		Trace:     r.trace,
	}
}

func (o *Orchestrator) finish(ctx context.Context, requestID string, p *pass, res Result, start time.Time) {
	outcome := p.outcome
	if !res.Success {
		outcome = OutcomeDefect
	}
	intentLabel := string(p.classified.Intent)
	if intentLabel == "" {
		intentLabel = string(intent.Unknown)
	}
	elapsed := o.opts.Now().Sub(start)
	o.opts.Recorder.ObserveOrchestration(intentLabel, outcome, elapsed)

	if o.opts.Audit == nil {
		return
	}
	attempts := 0
	if p.result != nil {
		attempts = p.result.Attempts
	}
	rec := persistence.OrchestrationRecord{
		RequestID: requestID,
		UserRef:   logx.UserRef(p.userID),
		Platform:  p.platform,
		Intent:    intentLabel,
		Outcome:   outcome,
		Attempts:  attempts,
		Duration:  elapsed,
		CreatedAt: start,
	}
	if err := o.opts.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("audit record failed for %s: %v", requestID, err)
	}
}

// Status reports breaker snapshots (lock-free reads) and per-component last-check times.
func (o *Orchestrator) Status() SystemStatus {
	o.checksMu.RLock()
	components := make(map[string]time.Time, len(o.checks))
	for name, at := range o.checks {
		components[name] = at
	}
	o.checksMu.RUnlock()

	return SystemStatus{
		Dependencies: o.deps.Breakers.Snapshots(),
		Components:   components,
	}
}

func (o *Orchestrator) touch(component string) {
	now := o.opts.Now()
	o.checksMu.Lock()
	o.checks[component] = now
	o.checksMu.Unlock()
}

// createdID finds the new task id in a create response.
func createdID(body map[string]any) string {
	if nested, ok := body["task"].(map[string]any); ok {
		body = nested
	}
	switch id := body["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
