package main

import (
	"fmt"
	"net/http"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"taskpilot/pkg/command"
	"taskpilot/pkg/config"
	"taskpilot/pkg/convo"
	"taskpilot/pkg/generator"
	"taskpilot/pkg/generator/anthropic"
	"taskpilot/pkg/generator/google"
	"taskpilot/pkg/generator/ollama"
	"taskpilot/pkg/generator/openai"
	"taskpilot/pkg/intent"
	"taskpilot/pkg/limiter"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/metrics"
	"taskpilot/pkg/orchestrator"
	"taskpilot/pkg/persistence"
	"taskpilot/pkg/platform"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/resilience/retry"
	"taskpilot/pkg/taskapi"
)

// app is the fully wired pipeline plus the resources it owns.
type app struct {
	orchestrator *orchestrator.Orchestrator
	registry     *prometheus.Registry
	audit        *persistence.AuditLog // nil without a database
	db           *persistence.Store    // nil without a database
	userLimiter  *limiter.Limiter      // nil when unlimited
	limiters     []*limiter.Limiter
}

// buildApp wires every component from cfg. Callers must Close the result.
func buildApp(cfg *config.Config, transport taskapi.Transport) (*app, error) {
	logger := logx.NewLogger("taskpilot")
	logx.SetDebugConfig(cfg.Logging.Debug, cfg.Logging.DebugDomains)
	logx.SetPseudonymKey(cfg.Pipeline.PseudonymKey)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)

	breakers := circuit.NewRegistry(circuit.Config{
		FailureThreshold: cfg.Resilience.Circuit.FailureThreshold,
		Cooldown:         cfg.Resilience.Circuit.Cooldown(),
		OnStateChange: func(name string, from, to circuit.State) {
			recorder.SetBreakerState(name, to)
			logger.Warn("Circuit %s: %s -> %s", name, from, to)
		},
	})

	a := &app{registry: registry}
	if cfg.Server.UserRequestsPerMinute > 0 || cfg.Server.UserRequestsPerDay > 0 {
		a.userLimiter = a.newLimiter(limiter.Limits{
			PerMinute: cfg.Server.UserRequestsPerMinute,
			PerDay:    cfg.Server.UserRequestsPerDay,
		})
	}

	var journal convo.Journal
	if cfg.Persistence.DatabasePath != "" {
		db, err := persistence.Open(cfg.Persistence.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation database: %w", err)
		}
		a.db = db
		a.audit = persistence.NewAuditLog(db)
		journal = persistence.NewJournal(db)
		logger.Info("Conversation journal at %s", cfg.Persistence.DatabasePath)
	}

	if transport == nil {
		transport = taskapi.NewHTTPTransport(cfg.TaskAPI.BaseURL, cfg.TaskAPI.Token, &http.Client{})
	}
	client := taskapi.NewClient(transport, breakers, taskapi.Options{
		Dependency: cfg.TaskAPI.Dependency,
		Timeout:    cfg.TaskAPI.Timeout(),
		Retry: retry.Config{
			MaxRetries: cfg.Resilience.Retry.MaxRetries,
			BaseDelay:  cfg.Resilience.Retry.BaseDelay(),
			MaxDelay:   cfg.Resilience.Retry.MaxDelay(),
			Jitter:     cfg.Resilience.Retry.Jitter,
		},
		Recorder: recorder,
	})

	classifier, err := a.buildClassifier(cfg, breakers, recorder)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := orchestrator.Options{
		MinConfidence:   cfg.Pipeline.MinConfidence,
		DefaultPlatform: cfg.Pipeline.DefaultPlatform,
		Recorder:        recorder,
	}
	if a.audit != nil {
		opts.Audit = a.audit
	}

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Classifier: classifier,
		Builder:    command.NewBuilder(),
		Store:      convo.NewStore(cfg.Pipeline.WindowSize, journal),
		Client:     client,
		Breakers:   breakers,
		Adapter:    platform.NewAdapter(cfg.Platforms),
	}, opts)
	return a, nil
}

// buildClassifier returns the rule classifier, wrapped with a guarded text generator when one is configured.
func (a *app) buildClassifier(cfg *config.Config, breakers *circuit.Registry, recorder metrics.Recorder) (intent.Classifier, error) {
	rules := intent.NewRuleClassifier(cfg.Pipeline.ConfidenceScale)
	if cfg.Generator.Provider == config.ProviderNone {
		return rules, nil
	}

	gen, err := newGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	tokens, err := generator.NewTokenCounter()
	if err != nil {
		// Truncate falls back to a byte estimate.
		logx.Warnf("Token counter unavailable, estimating prompt size: %v", err)
	}

	guarded := generator.Guard(gen, breakers, generator.GuardOptions{
		Timeout:  cfg.Generator.Timeout(),
		Retry:    retry.Config{MaxRetries: 1, BaseDelay: cfg.Resilience.Retry.BaseDelay()},
		Recorder: recorder,
	})
	if cfg.Generator.TokensPerMinute > 0 || cfg.Generator.TokensPerDay > 0 {
		guarded = generator.Budget(guarded, a.newLimiter(limiter.Limits{
			PerMinute: cfg.Generator.TokensPerMinute,
			PerDay:    cfg.Generator.TokensPerDay,
		}), tokens)
	}
	logx.Infof("Assisted classification via %s", gen.Name())
	return intent.NewAssistedClassifier(rules, guarded, tokens, cfg.Generator.MaxPromptTokens, cfg.Generator.AssistedConfidence), nil
}

func newGenerator(cfg config.GeneratorConfig) (generator.TextGenerator, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		var opts []anthropicoption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.APIKey, cfg.Model, opts...), nil
	case config.ProviderOpenAI:
		var opts []openaioption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...), nil
	case config.ProviderOllama:
		return ollama.New(cfg.BaseURL, cfg.Model), nil
	case config.ProviderGoogle:
		return google.New(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

func (a *app) newLimiter(limits limiter.Limits) *limiter.Limiter {
	l := limiter.New(limits)
	a.limiters = append(a.limiters, l)
	return l
}

// Close stops the limiters and releases the database, if any.
func (a *app) Close() error {
	for _, l := range a.limiters {
		l.Close()
	}
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
